package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/flowerr"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/provider"
)

const DefaultTimeout = 30 * time.Second

// runWithTimeout returns when fn returns or the deadline passes, whichever
// comes first. fn gets the bounded context; an integration that ignores it
// is abandoned, not waited for.
func runWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

// classify leaves already classified errors alone and turns everything else
// into an ActionError. A credential rejected by the vendor becomes a
// connection error.
func classify(actionID string, timeout time.Duration, connectionID string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ActionError{ActionID: actionID, Message: fmt.Sprintf("timed out after %s", timeout), Err: err}
	}
	if flowerr.KindOf(err) != flowerr.KindUnknown {
		return err
	}
	var apiErr *provider.APIError
	if httpclient.IsAuthError(err) || (errors.As(err, &apiErr) && apiErr.IsAuth()) {
		return &auth.Error{ConnectionID: connectionID, Reason: "rejected by provider", Err: err}
	}
	return &ActionError{ActionID: actionID, Message: err.Error(), Err: err}
}
