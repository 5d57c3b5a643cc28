// Package flowerr classifies runtime errors so the orchestrator can decide
// whether a failure blocks a workflow, fails a single step, or is retried on
// the next scheduled tick.
package flowerr

import (
	"context"
	"errors"
)

// Kind identifies one class of the runtime error taxonomy.
type Kind string

const (
	KindUnknown                 Kind = ""
	KindValidation              Kind = "validation"
	KindDynamicOptions          Kind = "dynamic_options_unavailable"
	KindConnection              Kind = "connection"
	KindTriggerPoll             Kind = "trigger_poll"
	KindInsufficientCredits     Kind = "insufficient_credits"
	KindAction                  Kind = "action"
	KindMeteringRateUnavailable Kind = "metering_rate_unavailable"
)

// Classified is implemented by every typed error the runtime produces.
type Classified interface {
	error
	Kind() Kind
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, k Kind) bool {
	for err != nil {
		if c, ok := err.(Classified); ok && c.Kind() == k {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// Blocking reports whether the error must stop a workflow before it runs.
func Blocking(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindInsufficientCredits:
		return true
	}
	return false
}

// IsRetryable reports whether the external scheduler should simply try again
// on its normal cadence.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindTriggerPoll {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
