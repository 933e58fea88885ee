// Package fallback runs alternatives in order until one succeeds.
//
// Import Path: metapub.io/metapub/internal/pkg/fallback
package fallback

import (
	"context"
	"errors"
)

// ErrNoAttempts is returned by First when it is given nothing to try.
var ErrNoAttempts = errors.New("no attempts")

// Attempt is one alternative. Name is used for logging only.
type Attempt struct {
	Name string
	Run  func(ctx context.Context) error
}

// Observer is notified after every failed attempt.
type Observer func(attempt Attempt, index int, err error)

// First runs attempts in order and returns nil at the first success.
// When every attempt fails, the error of the last one is returned.
// A cancelled context stops the sequence with the context error.
func First(ctx context.Context, attempts []Attempt, onFailure Observer) error {
	if len(attempts) == 0 {
		return ErrNoAttempts
	}

	var lastErr error
	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := a.Run(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(a, i, err)
		}
	}
	return lastErr
}
