package procare

import (
	"errors"
	"fmt"
)

// ErrNoChildren is returned when the account roster is empty.
var ErrNoChildren = errors.New("procare: no children found for this account")

// APIError represents a non-success HTTP response from the data API.
type APIError struct {
	Op         string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("procare: %s: HTTP %d", e.Op, e.StatusCode)
}

// IsStatus returns true if err (or any wrapped error) is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == code
	}
	return false
}
