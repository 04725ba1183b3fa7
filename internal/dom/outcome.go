package dom

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Outcome is the classification of a scrape attempt.
type Outcome struct {
	Found bool
	// Reason is empty on success, otherwise the negative phrase or
	// timeout note that decided the classification.
	Reason string
}

// OutcomeProbe reads the signals PollOutcome classifies. The rod-backed
// Editor implements it against the live page; tests script it.
type OutcomeProbe interface {
	// PositiveSignal reports whether a result dialog or freshly
	// populated edit form is present.
	PositiveSignal(ctx context.Context) (bool, error)
	// NegativeSignal returns visible toast/alert/empty-state text,
	// if any.
	NegativeSignal(ctx context.Context) (string, bool, error)
}

// PollOpts bounds outcome classification.
type PollOpts struct {
	Timeout  time.Duration // total budget, default: 8s
	Interval time.Duration // default: 150ms
	// Phrases are the negative fragments, matched case-insensitively.
	Phrases []string
}

func (o *PollOpts) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 150 * time.Millisecond
	}
}

// PollOutcome polls for positive and negative signals until one
// appears or the budget elapses. The first signal in either direction
// short-circuits the poll. Elapsing with neither is classified as not
// found: an ambiguous scrape must never proceed to apply.
func PollOutcome(ctx context.Context, tok *Token, probe OutcomeProbe, opts PollOpts) (Outcome, error) {
	opts.defaults()

	var out Outcome
	err := WaitFor(ctx, tok, WaitOpts{
		Timeout:         opts.Timeout,
		Interval:        opts.Interval,
		InterruptOnSkip: true,
	}, func(ctx context.Context) (bool, error) {
		if text, ok, err := probe.NegativeSignal(ctx); err == nil && ok {
			if phrase := matchPhrase(text, opts.Phrases); phrase != "" {
				out = Outcome{Found: false, Reason: phrase}
				return true, nil
			}
		}
		ok, err := probe.PositiveSignal(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			out = Outcome{Found: true}
			return true, nil
		}
		return false, nil
	})

	if errors.Is(err, ErrWaitTimeout) {
		return Outcome{Found: false, Reason: "no result signal before timeout"}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// matchPhrase returns the first phrase contained in text, or "".
func matchPhrase(text string, phrases []string) string {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}
