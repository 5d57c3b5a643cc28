package actor

import "context"

type workspaceKey struct{}

type executionKey struct{}

// WithWorkspace returns a context that carries the billing workspace ID.
// Outbound calls and ledger writes read it back with Workspace(ctx).
func WithWorkspace(ctx context.Context, workspaceID string) context.Context {
	if workspaceID == "" {
		return ctx
	}
	return context.WithValue(ctx, workspaceKey{}, workspaceID)
}

// Workspace returns the workspace ID from the context, or empty string if not set.
func Workspace(ctx context.Context) string {
	return stringValue(ctx, workspaceKey{})
}

// WithExecution returns a context tagged with the workflow execution ID.
func WithExecution(ctx context.Context, executionID string) context.Context {
	if executionID == "" {
		return ctx
	}
	return context.WithValue(ctx, executionKey{}, executionID)
}

// Execution returns the execution ID from the context, or empty string if not set.
func Execution(ctx context.Context) string {
	return stringValue(ctx, executionKey{})
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v := ctx.Value(key)
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
