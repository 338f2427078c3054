package idp

import (
	"context"
	"net/http"

	"github.com/dellavolpe/rnc-front/internal/config"
)

// NewProvider creates the Azure AD provider described by the auth section.
func NewProvider(ctx context.Context, cfg config.AuthConfig, httpClient *http.Client) (Provider, error) {
	return NewAzureProvider(ctx, AzureConfig{
		TenantID:         cfg.TenantID,
		AuthorizationURL: cfg.AuthorizationURL,
		TokenURL:         cfg.TokenURL,
		MeURL:            cfg.MeURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     string(cfg.ClientSecret),
		RedirectURI:      cfg.RedirectURI,
		Scopes:           cfg.RequestedScopes(),
		ResourceScope:    cfg.ResourceScope,
		Prompt:           cfg.Prompt,
		HTTPClient:       httpClient,
	})
}
