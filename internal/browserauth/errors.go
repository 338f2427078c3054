package browserauth

import (
	"errors"
	"fmt"

	"github.com/dellavolpe/rnc-front/internal/idp"
)

var (
	// ErrAuthenticationFailure means the session holds no usable token or the
	// provider refused it. The session is anonymous afterwards.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrDomainRejected means the identity resolved but is not allowed in.
	ErrDomainRejected = idp.ErrDomainRejected

	// ErrScopeDrift means the granted scopes no longer match what was
	// requested. The user has to restart the login.
	ErrScopeDrift = errors.New("granted scopes changed")

	// ErrStateMismatch means the callback state is missing, forged, expired or
	// belongs to another login attempt.
	ErrStateMismatch = errors.New("state mismatch")
)

// ProviderError is an error the identity provider reported on the callback
// URL instead of a code.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("identity provider error: %s", e.Code)
	}
	return fmt.Sprintf("identity provider error: %s: %s", e.Code, e.Description)
}
