package provider

import "fmt"

// APIError is an error reported by the vendor. Message keeps the vendor
// text so it reaches the workflow step unchanged.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) IsAuth() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
