package minutes

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMeetingOver is returned by finite replay sources once their snapshots
// are exhausted.
var ErrMeetingOver = errors.New("meeting over")

// TransientError wraps a fetch failure that is safe to retry on the next
// polling cycle without mutating any state.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient minutes fetch error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Source produces meeting snapshots over time. The live implementation polls
// the Legistar web API; replay implementations walk saved snapshots and drive
// a simulated clock. Wait is a blocking scheduling point in production and a
// clock advance during replay.
type Source interface {
	// Now returns the source's notion of current time.
	Now() time.Time

	// Wait suspends until d has elapsed on the source's clock.
	Wait(d time.Duration)

	// GetMinutes fetches a full snapshot of the meeting. It returns
	// ErrMeetingOver when a finite source is exhausted and a TransientError
	// for retryable fetch trouble.
	GetMinutes(ctx context.Context) (*Event, error)
}
