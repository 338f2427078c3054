package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/ioutil"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/urlutil"
)

// DefaultAuthority is the Microsoft identity platform host.
const DefaultAuthority = "https://login.microsoftonline.com"

// AzureConfig configures the Azure AD provider.
type AzureConfig struct {
	// Authority overrides DefaultAuthority, mostly for tests.
	Authority string
	TenantID  string

	// Direct endpoints skip discovery when both are set.
	AuthorizationURL string
	TokenURL         string
	MeURL            string

	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// ResourceScope must appear in the granted scopes or the exchange is
	// reported as CodeScopeChanged.
	ResourceScope string
	Prompt        string

	HTTPClient *http.Client
}

// AzureProvider implements Provider for Azure AD and Microsoft Graph.
type AzureProvider struct {
	config        oauth2.Config
	meURL         string
	resourceScope string
	prompt        string
	httpClient    *http.Client
}

type graphMeResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// NewAzureProvider creates an Azure AD provider. Endpoints come from cfg or,
// when absent, from the tenant's OIDC discovery document.
func NewAzureProvider(ctx context.Context, cfg AzureConfig) (*AzureProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("clientId is required for Azure AD")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	endpoint := oauth2.Endpoint{
		AuthURL:  cfg.AuthorizationURL,
		TokenURL: cfg.TokenURL,
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		if cfg.TenantID == "" {
			return nil, fmt.Errorf("tenantId is required for Azure AD when endpoints are not configured")
		}
		discovered, err := discoverEndpoint(ctx, cfg.Authority, cfg.TenantID, httpClient)
		if err != nil {
			return nil, err
		}
		endpoint = discovered
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile", cfg.ResourceScope}
	}

	meURL := cfg.MeURL
	if meURL == "" {
		meURL = "https://graph.microsoft.com/v1.0/me"
	}

	return &AzureProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		meURL:         meURL,
		resourceScope: cfg.ResourceScope,
		prompt:        cfg.Prompt,
		httpClient:    httpClient,
	}, nil
}

func discoverEndpoint(ctx context.Context, authority, tenantID string, client *http.Client) (oauth2.Endpoint, error) {
	if authority == "" {
		authority = DefaultAuthority
	}
	issuer, err := urlutil.JoinPath(authority, tenantID, "v2.0")
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("invalid authority %q: %w", authority, err)
	}

	// Azure reports a GUID issuer even when the tenant is given by name.
	ctx = oidc.InsecureIssuerURLContext(oidc.ClientContext(ctx, client), issuer)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("failed to fetch OIDC discovery: %w", err)
	}

	log.LogDebugWithFields("idp", "Discovered Azure AD endpoints", map[string]any{
		"issuer": issuer,
	})
	return provider.Endpoint(), nil
}

// Type returns the provider type.
func (p *AzureProvider) Type() string {
	return "azure"
}

// AuthURL generates the authorization URL with a PKCE S256 challenge.
func (p *AzureProvider) AuthURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if p.prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", p.prompt))
	}
	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for a token and checks that
// the resource scope was granted.
func (p *AzureProvider) ExchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	if granted := GrantedScopes(token); granted != nil && p.resourceScope != "" {
		if !scopeGranted(granted, p.resourceScope) {
			return nil, &ExchangeError{
				Code:        CodeScopeChanged,
				Description: fmt.Sprintf("granted scopes %q do not include %s", strings.Join(granted, " "), p.resourceScope),
			}
		}
	}
	return token, nil
}

func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := CodeProvider
		switch re.ErrorCode {
		case "invalid_scope":
			code = CodeScopeChanged
		case "invalid_grant":
			code = CodeInvalidGrant
		}
		return &ExchangeError{Code: code, Description: re.ErrorDescription, Err: err}
	}
	return &ExchangeError{Code: CodeTransport, Err: err}
}

// UserInfo fetches the Graph profile. The token is used as-is; an expired or
// revoked token is never refreshed here.
func (p *AzureProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token", ErrNotAuthenticated)
	}

	client := &http.Client{
		Timeout: p.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   p.httpClient.Transport,
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.meURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: profile endpoint returned status %d: %s", ErrNotAuthenticated, resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}

	var me graphMeResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, fmt.Errorf("%w: decoding profile: %v", ErrNotAuthenticated, err)
	}

	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}

	return &UserInfo{
		ProviderType: p.Type(),
		Subject:      me.ID,
		Email:        email,
		Name:         me.DisplayName,
		Username:     me.UserPrincipalName,
	}, nil
}

func splitScopes(raw string) []string {
	return strings.Fields(raw)
}

// scopeGranted matches required against granted in full form
// ("https://graph.microsoft.com/User.Read") or short form ("User.Read").
func scopeGranted(granted []string, required string) bool {
	short := required
	if i := strings.LastIndex(required, "/"); i >= 0 {
		short = required[i+1:]
	}
	for _, g := range granted {
		if strings.EqualFold(g, required) || strings.EqualFold(g, short) {
			return true
		}
	}
	return false
}
