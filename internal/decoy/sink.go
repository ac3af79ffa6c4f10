package decoy

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/PPraveen007/Decoy/internal/capture"
)

// ErrAuthenticationFailed is the only outcome of a credential submission.
var ErrAuthenticationFailed = errors.New("authentication failed")

// CredentialSink absorbs login submissions. It holds no accounts: every
// submission fails after a randomized delay that imitates a real check.
type CredentialSink struct {
	minDelay time.Duration
	maxDelay time.Duration
	jitter   func(n int64) int64
}

// NewCredentialSink creates a sink delaying within [minDelay, maxDelay].
// Negative bounds are treated as zero and an inverted range collapses to minDelay.
func NewCredentialSink(minDelay, maxDelay time.Duration) *CredentialSink {
	minDelay = max(minDelay, 0)
	maxDelay = max(maxDelay, minDelay)
	return &CredentialSink{minDelay: minDelay, maxDelay: maxDelay, jitter: rand.Int64N}
}

// Delay picks the wait for one submission.
func (s *CredentialSink) Delay() time.Duration {
	spread := s.maxDelay - s.minDelay
	if spread <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.jitter(int64(spread)+1))
}

// Submit waits out the delay and rejects creds. If ctx ends first it returns
// ctx.Err() immediately; the submission is rejected either way.
func (s *CredentialSink) Submit(ctx context.Context, creds []capture.Field) error {
	d := s.Delay()
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrAuthenticationFailed
}
