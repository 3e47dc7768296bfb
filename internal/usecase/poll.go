package usecase

import (
	"context"
	"errors"
	"time"
)

var errPollExhausted = errors.New("usecase: poll attempts exhausted")

// pollDeadlineMargin is kept free before a ctx deadline so the caller can
// still report the timeout.
const pollDeadlineMargin = 2 * time.Second

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pollUntilSettled calls fetch every PollInterval while pending reports true.
// At most PollMaxAttempts fetches are made, and none that would end within
// pollDeadlineMargin of the ctx deadline.
func (s *SessionService) pollUntilSettled(ctx context.Context, pending func() bool, fetch func(context.Context) error) error {
	for attempts := 0; pending(); attempts++ {
		if attempts >= s.opts.PollMaxAttempts {
			return errPollExhausted
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.opts.PollInterval+pollDeadlineMargin {
			return errPollExhausted
		}
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return err
		}
		if err := fetch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
