package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultPollInterval is used by the wait helpers when no interval is given.
const DefaultPollInterval = 250 * time.Millisecond

// Condition is polled by WaitFor. Errors count as "not yet".
type Condition func(ctx context.Context) (bool, error)

// WaitFor polls cond until it reports true, the timeout elapses or ctx is
// done. The condition is checked once before the first sleep.
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", ErrWaitTimeout, timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// Exists reports whether selector currently matches at least one element.
func Exists(ctx context.Context, s Session, selector string) bool {
	n, err := s.Count(ctx, selector)
	return err == nil && n > 0
}

// FirstPresent returns the first candidate that currently matches, or "".
func FirstPresent(ctx context.Context, s Session, candidates []string) string {
	for _, sel := range candidates {
		if Exists(ctx, s, sel) {
			return sel
		}
	}
	return ""
}

// FirstMatch waits until any candidate selector matches and returns it.
// Candidates are checked in order on every poll, so an earlier candidate
// wins over a later one that appeared at the same time.
func FirstMatch(ctx context.Context, s Session, candidates []string, timeout, interval time.Duration) (string, error) {
	var found string
	err := WaitFor(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		found = FirstPresent(ctx, s, candidates)
		return found != "", nil
	})
	if err != nil {
		return "", fmt.Errorf("none of %v: %w", candidates, err)
	}
	return found, nil
}

// WaitForSelector waits until selector matches at least one element.
func WaitForSelector(ctx context.Context, s Session, selector string, timeout time.Duration) error {
	_, err := FirstMatch(ctx, s, []string{selector}, timeout, 0)
	return err
}

// EvaluateInto runs script and decodes its result into out.
func EvaluateInto(ctx context.Context, s Session, script string, arg any, out any) error {
	raw, err := s.Evaluate(ctx, script, arg)
	if err != nil {
		return err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode script result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

// EvaluateString runs script and returns its result as a string. A null or
// undefined result yields "".
func EvaluateString(ctx context.Context, s Session, script string, arg any) (string, error) {
	raw, err := s.Evaluate(ctx, script, arg)
	if err != nil {
		return "", err
	}
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// EvaluateBool runs script and reports whether it returned true.
func EvaluateBool(ctx context.Context, s Session, script string, arg any) (bool, error) {
	raw, err := s.Evaluate(ctx, script, arg)
	if err != nil {
		return false, err
	}
	b, _ := raw.(bool)
	return b, nil
}
