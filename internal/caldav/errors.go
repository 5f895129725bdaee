package caldav

import "errors"

var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidResponse    = errors.New("invalid server response")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDiscoveryFailed    = errors.New("could not discover CalDAV endpoint")
	ErrMissingCredentials = errors.New("no stored credentials for account")
)

// Retryable reports whether an error is transient and worth another
// attempt. Authentication, precondition and argument failures are terminal:
// retrying cannot fix them.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
