package api

import (
	"errors"
	"fmt"

	"github.com/carlmjohnson/requests"
)

// AuthError indicates the caller's credential was missing or rejected
// (HTTP 401/403). It is the only error class that propagates past the
// operation that produced it: the host redirects to re-authentication.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credential rejected (status %d)", e.Status)
}

// ServerError carries a non-2xx, non-auth response with its diagnostic body.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// IsAuth reports whether err (anywhere in its chain) is a credential
// rejection.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsNetwork reports whether err was a transport-level failure (DNS, refused
// connection, timeout) rather than a server response.
func IsNetwork(err error) bool {
	return errors.Is(err, requests.ErrTransport)
}
