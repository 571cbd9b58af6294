package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/logging"
	"github.com/entrhq/renewal/pkg/notify"
	"github.com/entrhq/renewal/pkg/portal"
	"github.com/entrhq/renewal/pkg/types"
)

// State is a step of the renewal state machine. States are entered strictly
// in declaration order.
type State int

const (
	StateInit State = iota
	StateAuthenticated
	StateSubscriberLocated
	StateOfferFormOpen
	StateOfferConfigured
	StateSubmitted
	StateClassified
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAuthenticated:
		return "authenticate"
	case StateSubscriberLocated:
		return "locate_subscriber"
	case StateOfferFormOpen:
		return "open_offer_form"
	case StateOfferConfigured:
		return "configure_offer"
	case StateSubmitted:
		return "submit"
	case StateClassified:
		return "classify"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// run is one renewal or lookup attempt.
type run struct {
	o       *Orchestrator
	id      string
	req     types.NormalizedRequest
	cfg     Config
	log     *logging.Logger
	cred    types.Credential
	session browser.Session
	state   State

	amount *int
	phone  string
}

func (r *run) renew(ctx context.Context) (out *types.RenewalOutcome, err error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { r.finish(err) }()

	steps := []struct {
		next State
		fn   func(context.Context) error
	}{
		{StateAuthenticated, r.authenticate},
		{StateSubscriberLocated, r.locateSubscriber},
		{StateOfferFormOpen, r.openOfferForm},
		{StateOfferConfigured, r.configureOffer},
		{StateSubmitted, r.submit},
	}
	for _, step := range steps {
		if err := r.stage(ctx, step.next, step.fn); err != nil {
			return nil, err
		}
	}

	err = r.stage(ctx, StateClassified, func(ctx context.Context) error {
		var cerr error
		out, cerr = r.classify(ctx)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *run) lookup(ctx context.Context) (infos []types.SubscriberInfo, err error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { r.finish(err) }()

	if err := r.stage(ctx, StateAuthenticated, r.authenticate); err != nil {
		return nil, err
	}
	err = r.stage(ctx, StateSubscriberLocated, func(ctx context.Context) error {
		if err := r.locateSubscriber(ctx); err != nil {
			return err
		}
		var panels []string
		if err := browser.EvaluateInto(ctx, r.session, portal.ScriptReadPanels, portal.SelSubscriberPanels, &panels); err != nil {
			return fmt.Errorf("read subscriber panels: %w", err)
		}
		infos = portal.ParseSubscribers(panels)
		if len(infos) == 0 {
			return fmt.Errorf("%w: %s (no readable panel)", types.ErrSubscriberNotFound, r.req.SubscriberID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// loggedIn reports whether any post-login signal is present.
func (r *run) loggedIn(ctx context.Context) bool {
	return r.o.loginURLs.Match(r.session.URL()) != "" || browser.Exists(ctx, r.session, portal.SelSubscriberInput)
}

func (r *run) authenticate(ctx context.Context) error {
	s := r.session
	if err := s.Navigate(ctx, r.o.profile.BaseURL); err != nil {
		return fmt.Errorf("%w: open portal: %v", types.ErrLoginTimeout, err)
	}
	if r.loggedIn(ctx) {
		r.log.Debugf("[%s] session already logged in", r.id)
		return nil
	}

	if err := browser.WaitForSelector(ctx, s, portal.SelLoginInput, r.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: login form not shown: %v", types.ErrLoginTimeout, err)
	}
	if err := s.Fill(ctx, portal.SelLoginInput, r.cred.Username); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}
	if err := s.Fill(ctx, portal.SelPasswordInput, r.cred.Secret); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}
	if err := s.Press(ctx, portal.SelPasswordInput, "Enter"); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}

	err := browser.WaitFor(ctx, r.cfg.LoginTimeout, r.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return r.loggedIn(ctx), nil
	})
	if err != nil {
		return fmt.Errorf("%w as %s: %v", types.ErrLoginTimeout, r.cred.Username, err)
	}
	r.log.Infof("[%s] logged in as %s", r.id, r.cred.Username)
	return nil
}

func (r *run) locateSubscriber(ctx context.Context) error {
	s := r.session
	if err := browser.WaitForSelector(ctx, s, portal.SelSubscriberInput, r.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: search field: %v", types.ErrFormInteraction, err)
	}
	if err := s.Fill(ctx, portal.SelSubscriberInput, r.req.SubscriberID); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}
	if err := s.Click(ctx, portal.SelSearchButton); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}

	var (
		found    string
		notFound string
	)
	err := browser.WaitFor(ctx, r.cfg.SearchTimeout, r.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		if found = browser.FirstPresent(ctx, s, portal.SubscriberResultSelectors); found != "" {
			return true, nil
		}
		text, err := browser.EvaluateString(ctx, s, portal.ScriptReadNotFound, portal.NotFoundMarkers)
		if err != nil {
			return false, err
		}
		notFound = text
		return notFound != "", nil
	})

	switch {
	case found != "":
		r.log.Infof("[%s] subscriber %s found (%s)", r.id, r.req.SubscriberID, found)
		return nil
	case notFound != "":
		return fmt.Errorf("%w: %s: %s", types.ErrSubscriberNotFound, r.req.SubscriberID, notFound)
	default:
		// No answer either way; the subscriber may well exist.
		return fmt.Errorf("%w: search result not shown for %s: %v", types.ErrFormInteraction, r.req.SubscriberID, err)
	}
}

func (r *run) openOfferForm(ctx context.Context) error {
	s := r.session
	if err := browser.WaitForSelector(ctx, s, portal.SelSelectSubscriber, r.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: subscriber selector: %v", types.ErrFormInteraction, err)
	}
	if err := s.Click(ctx, portal.SelSelectSubscriber); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}

	// The customer record is on screen now.
	if phone, err := browser.EvaluateString(ctx, s, portal.ScriptReadPhone, nil); err == nil && phone != "" {
		r.phone = portal.CleanPhone(phone)
	}

	for _, sel := range []string{portal.SelSubscriberValid, portal.SelRenewalQuick} {
		if err := browser.WaitForSelector(ctx, s, sel, r.cfg.OptionalStepTimeout); err != nil {
			r.log.Warnf("[%s] %s not shown, continuing", r.id, sel)
			continue
		}
		if err := s.Click(ctx, sel); err != nil {
			r.log.Warnf("[%s] clicking %s failed, continuing: %v", r.id, sel, err)
		}
	}

	if err := browser.WaitForSelector(ctx, s, portal.SelDuration, r.cfg.FormTimeout); err != nil {
		return fmt.Errorf("%w: offer form not shown: %v", types.ErrFormInteraction, err)
	}
	return nil
}

// configureOffer fills duration, offer and option in that order. Selecting
// the offer repopulates the option list, so the offer is settled before the
// option is touched.
func (r *run) configureOffer(ctx context.Context) error {
	if _, err := r.selectField(ctx, portal.SelDuration, portal.DurationTarget(r.req.Duration)); err != nil {
		return err
	}

	offerTarget := portal.OfferTarget(r.req.Offer)
	offer, err := r.selectField(ctx, portal.SelOffer, offerTarget)
	if err != nil {
		return err
	}
	sleepCtx(ctx, r.cfg.SettleDelay)
	if err := r.verifyOffer(ctx, offer, offerTarget); err != nil {
		return err
	}

	optionTarget, reason := portal.OptionTarget(r.req.Offer, r.req.Option)
	if reason != "" {
		r.log.Warnf("[%s] %s, keeping no add-on", r.id, reason)
	}
	if optionTarget.Placeholder {
		if err := r.keepPlaceholder(ctx); err != nil {
			return err
		}
	} else if _, err := r.selectField(ctx, portal.SelOption, optionTarget); err != nil {
		r.log.Warnf("[%s] option %s not applied: %v", r.id, r.req.Option, err)
	}
	return nil
}

// verifyOffer re-reads the offer field and selects it again, once, when it
// no longer holds the intended entry.
func (r *run) verifyOffer(ctx context.Context, want selectOption, target portal.FieldTarget) error {
	st, err := r.readSelect(ctx, portal.SelOffer)
	if err == nil && st != nil && strings.EqualFold(st.Value, want.Value) {
		return nil
	}
	got := ""
	if st != nil {
		got = st.Value
	}
	r.log.Warnf("[%s] offer field holds %q instead of %q, selecting again", r.id, got, want.Value)

	if _, err := r.selectField(ctx, portal.SelOffer, target); err != nil {
		return err
	}
	sleepCtx(ctx, r.cfg.SettleDelay)
	if st, err := r.readSelect(ctx, portal.SelOffer); err != nil || st == nil || !strings.EqualFold(st.Value, want.Value) {
		r.log.Warnf("[%s] offer field still differs after retry, continuing", r.id)
	}
	return nil
}

func (r *run) submit(ctx context.Context) error {
	s := r.session
	if err := browser.WaitForSelector(ctx, s, portal.SelValidOffers, r.cfg.StepTimeout); err != nil {
		return fmt.Errorf("%w: offer validation button: %v", types.ErrFormInteraction, err)
	}
	if err := s.Click(ctx, portal.SelValidOffers); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}

	confirm, err := browser.FirstMatch(ctx, s, portal.ConfirmSelectors, r.cfg.StepTimeout, r.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("%w: confirmation control: %v", types.ErrFormInteraction, err)
	}

	// The invoice is shown with the confirmation control.
	if text, err := browser.EvaluateString(ctx, s, portal.ScriptReadAmount, strings.Join(portal.AmountSelectors, ", ")); err == nil {
		if amount, ok := portal.ParseAmount(text); ok {
			r.amount = &amount
			r.log.Infof("[%s] invoice amount %d GNF", r.id, amount)
		}
	}

	if err := s.Click(ctx, confirm); err != nil {
		return fmt.Errorf("%w: %v", types.ErrFormInteraction, err)
	}
	return nil
}

func (r *run) classify(ctx context.Context) (*types.RenewalOutcome, error) {
	result := r.o.classifier.Classify(ctx, r.session, r.cfg.ClassifyIterations, r.cfg.ClassifyInterval)

	out := &types.RenewalOutcome{
		Request:         r.req,
		Amount:          r.amount,
		Validation:      result,
		SubscriberPhone: r.phone,
	}

	switch result.Status() {
	case types.OutcomeSuccess:
		out.Status = types.RenewalSucceeded
		r.afterSuccess(ctx, out)
		return out, nil

	case types.OutcomeError:
		return nil, &types.SubmissionError{
			Category: result.Category(),
			Code:     result.Code(),
			Message:  result.Message(),
		}

	default:
		if r.cfg.TimeoutPolicy == TimeoutAssumeSuccess {
			r.log.Warnf("[%s] no outcome signal after %d polls, reporting unconfirmed", r.id, result.Iterations())
			out.Status = types.RenewalUnconfirmed
			return out, nil
		}
		return nil, fmt.Errorf("%w after %d polls: %s", types.ErrClassificationTimeout, result.Iterations(), result.Message())
	}
}

// afterSuccess reads the reference and acknowledges the success view. Both
// are best effort.
func (r *run) afterSuccess(ctx context.Context, out *types.RenewalOutcome) {
	s := r.session
	if ref, err := browser.EvaluateString(ctx, s, portal.ScriptReadReference, nil); err == nil {
		out.ReferenceID = ref
	}
	if browser.Exists(ctx, s, portal.SelContinueValidation) {
		if err := s.Click(ctx, portal.SelContinueValidation); err != nil {
			r.log.Debugf("[%s] continue button: %v", r.id, err)
		}
	}
}

func (r *run) progressEvent(next State) notify.Event {
	ev := notify.NewEvent(notify.EventProgress, r.id, r.req.SubscriberID, "entering "+next.String())
	ev.Stage = next.String()
	return ev
}

func (r *run) successEvent(out *types.RenewalOutcome) notify.Event {
	ev := notify.NewEvent(notify.EventSuccess, r.id, r.req.SubscriberID, out.Validation.Message())
	if out.Status == types.RenewalUnconfirmed {
		ev.Message = "submitted, portal gave no confirmation"
	}
	ev.Offer = out.Request.Offer
	ev.Option = out.Request.Option
	ev.Duration = out.Request.Duration
	ev.Amount = out.Amount
	ev.Reference = out.ReferenceID
	return ev
}

func (r *run) errorEvent(err error) notify.Event {
	ev := notify.NewEvent(notify.EventError, r.id, r.req.SubscriberID, err.Error())
	ev.Stage = r.state.String()
	var se *types.StageError
	if errors.As(err, &se) {
		ev.Stage = se.Stage
	}
	ev.Offer = r.req.Offer
	ev.Option = r.req.Option
	ev.Duration = r.req.Duration
	ev.Amount = r.amount
	ev.Category = string(types.CategoryOf(err))
	return ev
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
