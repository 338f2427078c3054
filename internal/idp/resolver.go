package idp

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/emailutil"
	"github.com/dellavolpe/rnc-front/internal/log"
)

// Resolver turns a token into a verified identity restricted to one email domain.
type Resolver struct {
	provider      Provider
	allowedDomain string
}

// NewResolver creates a resolver. allowedDomain may be "@example.com" or "example.com".
func NewResolver(provider Provider, allowedDomain string) *Resolver {
	return &Resolver{provider: provider, allowedDomain: allowedDomain}
}

// AllowedDomain returns the configured domain restriction.
func (r *Resolver) AllowedDomain() string {
	return r.allowedDomain
}

// Resolve fetches the profile for token. It returns an error wrapping
// ErrNotAuthenticated when the provider rejects the token, and a
// *DomainRejectedError when the email falls outside the allowed domain.
func (r *Resolver) Resolve(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	info, err := r.provider.UserInfo(ctx, token)
	if err != nil {
		log.LogInfoCtx(ctx, "idp", "Identity lookup failed", map[string]any{
			"provider": r.provider.Type(),
			"error":    err.Error(),
		})
		return nil, err
	}

	if !emailutil.HasDomain(info.Email, r.allowedDomain) {
		log.LogWarnCtx(ctx, "idp", "Email domain rejected", map[string]any{
			"email":         info.Email,
			"domain":        emailutil.ExtractDomain(info.Email),
			"allowedDomain": r.allowedDomain,
		})
		return nil, &DomainRejectedError{Email: info.Email, AllowedDomain: r.allowedDomain}
	}

	return info, nil
}
