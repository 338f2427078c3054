package idp

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated means the profile endpoint did not accept the token.
// Network failures and rejected tokens are reported the same way.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrDomainRejected means the identity resolved but its email is outside the allowed domain.
var ErrDomainRejected = errors.New("email domain not allowed")

// ErrorCode classifies token exchange failures.
type ErrorCode string

const (
	// CodeScopeChanged means the granted scopes no longer match the request.
	CodeScopeChanged ErrorCode = "scope_changed"
	// CodeInvalidGrant means the code was rejected (expired, reused or wrong verifier).
	CodeInvalidGrant ErrorCode = "invalid_grant"
	// CodeProvider is any other error answer from the token endpoint.
	CodeProvider ErrorCode = "provider_error"
	// CodeTransport means the token endpoint could not be reached.
	CodeTransport ErrorCode = "transport_error"
)

// ExchangeError reports why an authorization code could not be exchanged.
type ExchangeError struct {
	Code        ErrorCode
	Description string
	Err         error
}

func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token exchange failed (%s): %s", e.Code, e.Description)
	}
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("token exchange failed (%s)", e.Code)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an *ExchangeError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Code == code
}

// DomainRejectedError carries the offending email for display.
type DomainRejectedError struct {
	Email         string
	AllowedDomain string
}

func (e *DomainRejectedError) Error() string {
	return fmt.Sprintf("%v: %q is not in %s", ErrDomainRejected, e.Email, e.AllowedDomain)
}

func (e *DomainRejectedError) Unwrap() error {
	return ErrDomainRejected
}
