package idp_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/idp"
	"github.com/dellavolpe/rnc-front/internal/testutil"
)

const resourceScope = "https://graph.microsoft.com/User.Read"

func newProvider(t *testing.T, fake *testutil.FakeIDP) *idp.AzureProvider {
	t.Helper()
	p, err := idp.NewAzureProvider(context.Background(), idp.AzureConfig{
		AuthorizationURL: fake.AuthURL(),
		TokenURL:         fake.TokenURL(),
		MeURL:            fake.MeURL(),
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
		RedirectURI:      "https://rnc.example.com/",
		ResourceScope:    resourceScope,
		Prompt:           "select_account",
	})
	require.NoError(t, err)
	return p
}

func TestNewAzureProvider_MissingTenantID(t *testing.T) {
	_, err := idp.NewAzureProvider(context.Background(), idp.AzureConfig{ClientID: "client-id"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenantId is required")
}

func TestNewAzureProvider_Discovery(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()

	p, err := idp.NewAzureProvider(context.Background(), idp.AzureConfig{
		Authority:     fake.Authority(),
		TenantID:      testutil.FakeTenant,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		RedirectURI:   "https://rnc.example.com/",
		ResourceScope: resourceScope,
	})
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Type())

	authURL, err := url.Parse(p.AuthURL("state-1", oauth2.GenerateVerifier()))
	require.NoError(t, err)
	assert.Equal(t, fake.Server.URL+"/authorize", authURL.Scheme+"://"+authURL.Host+authURL.Path)
}

func TestNewAzureProvider_DiscoveryFailure(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()

	_, err := idp.NewAzureProvider(context.Background(), idp.AzureConfig{
		Authority: fake.Authority(),
		TenantID:  "unknown-tenant",
		ClientID:  "client-id",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch OIDC discovery")
}

func TestAzureProvider_AuthURL(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()
	p := newProvider(t, fake)

	verifier := oauth2.GenerateVerifier()
	u, err := url.Parse(p.AuthURL("signed-state", verifier))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://rnc.example.com/", q.Get("redirect_uri"))
	assert.Equal(t, "signed-state", q.Get("state"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	assert.Equal(t, "openid email profile "+resourceScope, q.Get("scope"))
}

func TestAzureProvider_ExchangeCode(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()
	p := newProvider(t, fake)

	token, err := p.ExchangeCode(context.Background(), "auth-code", "the-verifier")
	require.NoError(t, err)
	assert.Equal(t, fake.AccessToken(), token.AccessToken)
	assert.Contains(t, idp.GrantedScopes(token), resourceScope)

	code, verifier, secret := fake.LastExchange()
	assert.Equal(t, "auth-code", code)
	assert.Equal(t, "the-verifier", verifier)
	assert.Equal(t, "client-secret", secret)
}

func TestAzureProvider_ExchangeCode_ScopeForms(t *testing.T) {
	tests := []struct {
		name    string
		granted string
		wantErr bool
	}{
		{"full form", "openid " + resourceScope, false},
		{"short form", "User.Read profile openid email", false},
		{"case differs", "user.read", false},
		{"absent scope field", "", false},
		{"resource scope missing", "openid profile email", true},
		{"other resource", "https://management.azure.com/user_impersonation", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeIDP()
			defer fake.Close()
			fake.SetGrantedScope(tt.granted)
			p := newProvider(t, fake)

			_, err := p.ExchangeCode(context.Background(), "code", "verifier")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, idp.HasCode(err, idp.CodeScopeChanged), "got %v", err)
		})
	}
}

func TestAzureProvider_ExchangeCode_Errors(t *testing.T) {
	tests := []struct {
		name      string
		errorCode string
		want      idp.ErrorCode
	}{
		{"invalid scope", "invalid_scope", idp.CodeScopeChanged},
		{"invalid grant", "invalid_grant", idp.CodeInvalidGrant},
		{"other", "unauthorized_client", idp.CodeProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeIDP()
			defer fake.Close()
			fake.SetTokenError(tt.errorCode, "AADSTS00000: test failure")
			p := newProvider(t, fake)

			_, err := p.ExchangeCode(context.Background(), "code", "verifier")
			require.Error(t, err)

			var ee *idp.ExchangeError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, tt.want, ee.Code)
			assert.Equal(t, "AADSTS00000: test failure", ee.Description)
		})
	}
}

func TestAzureProvider_ExchangeCode_Transport(t *testing.T) {
	fake := testutil.NewFakeIDP()
	p := newProvider(t, fake)
	fake.Close()

	_, err := p.ExchangeCode(context.Background(), "code", "verifier")
	require.Error(t, err)
	assert.True(t, idp.HasCode(err, idp.CodeTransport))
}

func TestAzureProvider_UserInfo(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()
	p := newProvider(t, fake)

	info, err := p.UserInfo(context.Background(), &oauth2.Token{AccessToken: fake.AccessToken()})
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.Subject)
	assert.Equal(t, "Ana Souza", info.Name)
	assert.Equal(t, "ana.souza@dellavolpe.com.br", info.Email)
	assert.Equal(t, "azure", info.ProviderType)
}

func TestAzureProvider_UserInfo_FallsBackToUPN(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()
	fake.SetMe(map[string]string{
		"id":                "user-2",
		"displayName":       "Bruno Lima",
		"userPrincipalName": "bruno@dellavolpe.com.br",
	})
	p := newProvider(t, fake)

	info, err := p.UserInfo(context.Background(), &oauth2.Token{AccessToken: fake.AccessToken()})
	require.NoError(t, err)
	assert.Equal(t, "bruno@dellavolpe.com.br", info.Email)
	assert.Equal(t, "bruno@dellavolpe.com.br", info.Username)
}

func TestAzureProvider_UserInfo_NotAuthenticated(t *testing.T) {
	fake := testutil.NewFakeIDP()
	defer fake.Close()
	p := newProvider(t, fake)

	t.Run("rejected token", func(t *testing.T) {
		_, err := p.UserInfo(context.Background(), &oauth2.Token{AccessToken: "wrong"})
		assert.ErrorIs(t, err, idp.ErrNotAuthenticated)
	})

	t.Run("server error", func(t *testing.T) {
		fake.SetMeStatus(http.StatusServiceUnavailable)
		defer fake.SetMeStatus(http.StatusOK)
		_, err := p.UserInfo(context.Background(), &oauth2.Token{AccessToken: fake.AccessToken()})
		assert.ErrorIs(t, err, idp.ErrNotAuthenticated)
	})

	t.Run("nil token", func(t *testing.T) {
		_, err := p.UserInfo(context.Background(), nil)
		assert.ErrorIs(t, err, idp.ErrNotAuthenticated)
	})
}
