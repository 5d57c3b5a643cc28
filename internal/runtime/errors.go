package runtime

import (
	"fmt"

	"github.com/flowpilot/flowpilot/internal/flowerr"
)

// ActionError is a provider-reported or integration failure of one action
// run. Message keeps the provider's text so the orchestrator can show it.
type ActionError struct {
	ActionID string
	Message  string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %s", e.ActionID, e.Message)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Kind() flowerr.Kind { return flowerr.KindAction }

// NotFoundError reports an unknown action or trigger id.
type NotFoundError struct {
	What string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.What, e.ID) }

func (e *NotFoundError) Kind() flowerr.Kind { return flowerr.KindValidation }
