package poll

import (
	"errors"
	"fmt"

	"github.com/flowpilot/flowpilot/internal/flowerr"
)

// ErrCursorContention means other pollers kept winning the cursor update.
var ErrCursorContention = errors.New("poll cursor contention")

// PollError is a transient poll failure. The cursor is untouched and the
// scheduler retries on its normal cadence.
type PollError struct {
	TriggerID string
	Key       Key
	Err       error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s (%s): %v", e.TriggerID, e.Key, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

func (e *PollError) Kind() flowerr.Kind { return flowerr.KindTriggerPoll }

func (e *PollError) Retryable() bool { return true }
