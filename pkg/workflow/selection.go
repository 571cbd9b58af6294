package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/renewal/pkg/browser"
	"github.com/entrhq/renewal/pkg/portal"
	"github.com/entrhq/renewal/pkg/types"
)

// selectOption is one <option> of a dropdown as read by ScriptReadSelect.
type selectOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

type selectState struct {
	Value   string         `json:"value"`
	Options []selectOption `json:"options"`
}

func (s *selectState) selected() (selectOption, bool) {
	for _, o := range s.Options {
		if o.Selected {
			return o, true
		}
	}
	return selectOption{}, false
}

var placeholderWords = []string{"choisir", "choose", "sélectionner", "select"}

func isPlaceholder(o selectOption) bool {
	return strings.TrimSpace(o.Value) == "" || portal.ContainsAny(o.Label, placeholderWords)
}

// matchKind records which strategy picked an entry.
type matchKind int

const (
	matchNone matchKind = iota
	matchValue
	matchLabel
	matchLabelSubstring
	matchPositional
)

func (m matchKind) String() string {
	switch m {
	case matchValue:
		return "value"
	case matchLabel:
		return "label"
	case matchLabelSubstring:
		return "label substring"
	case matchPositional:
		return "positional default"
	default:
		return "none"
	}
}

// chooseOption picks the entry of options that best fits target: exact
// value, then exact label, then label substring, then the first real entry
// when the target allows it. It returns -1 when nothing fits.
func chooseOption(options []selectOption, target portal.FieldTarget) (int, matchKind) {
	for _, want := range target.Values {
		if want == "" {
			continue
		}
		for i, o := range options {
			if strings.EqualFold(o.Value, want) {
				return i, matchValue
			}
		}
	}
	for _, want := range target.Labels {
		if want == "" {
			continue
		}
		for i, o := range options {
			if !isPlaceholder(o) && strings.EqualFold(o.Label, want) {
				return i, matchLabel
			}
		}
	}
	for _, want := range target.Labels {
		if want == "" {
			continue
		}
		lower := strings.ToLower(want)
		for i, o := range options {
			if !isPlaceholder(o) && strings.Contains(strings.ToLower(o.Label), lower) {
				return i, matchLabelSubstring
			}
		}
	}
	if target.Positional {
		for i, o := range options {
			if !isPlaceholder(o) {
				return i, matchPositional
			}
		}
	}
	return -1, matchNone
}

func (r *run) readSelect(ctx context.Context, selector string) (*selectState, error) {
	var st *selectState
	if err := browser.EvaluateInto(ctx, r.session, portal.ScriptReadSelect, selector, &st); err != nil {
		return nil, err
	}
	return st, nil
}

// waitSelect waits until selector is a dropdown with at least one entry.
func (r *run) waitSelect(ctx context.Context, selector string) (*selectState, error) {
	var st *selectState
	err := browser.WaitFor(ctx, r.cfg.FormTimeout, r.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		s, err := r.readSelect(ctx, selector)
		if err != nil {
			return false, err
		}
		st = s
		return s != nil && len(s.Options) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s not shown: %v", types.ErrFormInteraction, selector, err)
	}
	return st, nil
}

// selectField sets a dropdown to the entry best matching target and returns
// that entry.
func (r *run) selectField(ctx context.Context, selector string, target portal.FieldTarget) (selectOption, error) {
	st, err := r.waitSelect(ctx, selector)
	if err != nil {
		return selectOption{}, err
	}

	idx, how := chooseOption(st.Options, target)
	if idx < 0 {
		return selectOption{}, fmt.Errorf("%w: no entry of %s matches %s", types.ErrFormInteraction, selector, target)
	}
	chosen := st.Options[idx]
	if how == matchPositional {
		r.log.Warnf("[%s] %s: %s not offered, falling back to %q", r.id, selector, target, chosen.Label)
	} else {
		r.log.Debugf("[%s] %s: %q chosen by %s", r.id, selector, chosen.Label, how)
	}

	ok, err := browser.EvaluateBool(ctx, r.session, portal.ScriptSetSelect, map[string]any{
		"selector": selector,
		"index":    idx,
	})
	if err != nil {
		return selectOption{}, fmt.Errorf("%w: set %s: %v", types.ErrFormInteraction, selector, err)
	}
	if !ok {
		return selectOption{}, fmt.Errorf("%w: %s rejected entry %d", types.ErrFormInteraction, selector, idx)
	}
	return chosen, nil
}

// keepPlaceholder makes sure no real add-on is selected in the option field.
// The portal pre-selects one on some offers when the offer changes.
func (r *run) keepPlaceholder(ctx context.Context) error {
	st, err := r.readSelect(ctx, portal.SelOption)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", types.ErrFormInteraction, portal.SelOption, err)
	}
	if st == nil {
		return nil
	}
	if cur, ok := st.selected(); !ok || isPlaceholder(cur) {
		return nil
	}

	r.log.Infof("[%s] option field auto-selected %q, clearing it", r.id, st.Value)
	ok, err := browser.EvaluateBool(ctx, r.session, portal.ScriptClearSelect, portal.SelOption)
	if err != nil || !ok {
		return fmt.Errorf("%w: could not clear %s: %v", types.ErrFormInteraction, portal.SelOption, err)
	}
	return nil
}
