package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/renewal/pkg/storage"
	"github.com/entrhq/renewal/pkg/types"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	key     lipgloss.Style
	value   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	empty   lipgloss.Style
	section lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		key:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		success: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		failure: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		empty:   lipgloss.NewStyle().Faint(true),
		section: lipgloss.NewStyle().MarginBottom(1),
	}
}

var st = newStyles()

func field(key, value string) string {
	if value == "" {
		return ""
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, st.key.Render(key), st.value.Render(value))
}

func block(lines ...string) string {
	kept := lines[:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return st.section.Render(lipgloss.JoinVertical(lipgloss.Left, kept...))
}

func formatAmount(amount *int) string {
	if amount == nil {
		return ""
	}
	s := fmt.Sprint(*amount)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String() + " GNF"
}

func renderResult(r renewResult) string {
	if r.err != nil {
		return block(
			st.failure.Render("✗ "+r.Request.SubscriberID),
			field("error", r.err.Error()),
		)
	}
	return renderOutcome(r.Outcome)
}

func renderOutcome(o *types.RenewalOutcome) string {
	mark := st.success.Render("✓ " + o.Request.SubscriberID + " renewed")
	if o.Status == types.RenewalUnconfirmed {
		mark = st.warning.Render("? " + o.Request.SubscriberID + " submitted, not confirmed")
	}
	return block(
		mark,
		field("offer", o.Request.Offer),
		field("duration", o.Request.Duration),
		field("option", o.Request.Option),
		field("amount", formatAmount(o.Amount)),
		field("reference", o.ReferenceID),
		field("phone", o.SubscriberPhone),
		field("elapsed", o.Elapsed.Round(time.Millisecond).String()),
	)
}

func renderSummary(total, failed int) string {
	line := fmt.Sprintf("%d renewals, %d succeeded, %d failed", total, total-failed, failed)
	if failed > 0 {
		return st.failure.Render(line)
	}
	return st.success.Render(line)
}

func renderSubscribers(infos []types.SubscriberInfo) string {
	if len(infos) == 0 {
		return st.empty.Render("no subscriber") + "\n"
	}
	var b strings.Builder
	for _, info := range infos {
		b.WriteString(block(
			st.title.Render(info.Name),
			field("contract", info.ContractNumber),
			field("decoder", info.DecoderNumber),
			field("status", info.Status),
			field("end date", info.EndDate),
			field("offer", info.Offer),
			field("city", info.City),
			field("address", info.Address),
		))
		b.WriteString("\n")
	}
	return b.String()
}

func renderAccounts(accounts []storage.Access, now time.Time) string {
	if len(accounts) == 0 {
		return st.empty.Render("no accounts") + "\n"
	}
	var b strings.Builder
	b.WriteString(st.header.Render(fmt.Sprintf("%-4s %-20s %-23s %s", "ID", "USERNAME", "VALID", "LAST USED")))
	b.WriteString("\n")
	for _, acc := range accounts {
		used := "never"
		if acc.LastUsedAt != nil {
			used = acc.LastUsedAt.Local().Format("2006-01-02 15:04")
		}
		window := acc.StartDate.Format(dateFlagLayout) + " " + acc.EndDate.Format(dateFlagLayout)
		line := fmt.Sprintf("%-4d %-20s %-23s %s", acc.ID, acc.Username, window, used)
		if !acc.ValidOn(now) {
			line = st.empty.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func renderTransactions(records []types.TransactionRecord) string {
	if len(records) == 0 {
		return st.empty.Render("no transactions") + "\n"
	}
	var b strings.Builder
	b.WriteString(st.header.Render(fmt.Sprintf("%-16s %-12s %-14s %-4s %-12s %-10s %s", "TIME", "DECODER", "PACKAGE", "DUR", "AMOUNT", "STATUS", "DETAIL")))
	b.WriteString("\n")
	for _, r := range records {
		amount := ""
		if r.AmountGNF > 0 {
			amount = formatAmount(&r.AmountGNF)
		}
		detail := r.ReferenceNumber
		status := st.success.Render(fmt.Sprintf("%-10s", r.Status))
		if r.Status == string(types.RenewalFailed) {
			status = st.failure.Render(fmt.Sprintf("%-10s", r.Status))
			detail = r.ErrorMessage
		}
		fmt.Fprintf(&b, "%-16s %-12s %-14s %-4s %-12s %s %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.DecoderNumber, r.PackageID, r.DurationID, amount, status, detail)
	}
	return b.String()
}
