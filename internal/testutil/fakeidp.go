package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// FakeTenant is the tenant path served by FakeIDP's discovery endpoint.
const FakeTenant = "fake-tenant"

// FakeIDP stands in for Azure AD and Microsoft Graph in tests.
type FakeIDP struct {
	Server *httptest.Server

	mu               sync.Mutex
	accessToken      string
	grantedScope     string
	tokenError       string
	tokenErrorDesc   string
	meStatus         int
	me               map[string]string
	exchanges        int
	lastVerifier     string
	lastCode         string
	lastClientSecret string
}

// NewFakeIDP starts the fake. Call Close when done.
func NewFakeIDP() *FakeIDP {
	f := &FakeIDP{
		accessToken:  "fake-access-token",
		grantedScope: "openid email profile https://graph.microsoft.com/User.Read",
		meStatus:     http.StatusOK,
		me: map[string]string{
			"id":                "user-1",
			"displayName":       "Ana Souza",
			"mail":              "ana.souza@dellavolpe.com.br",
			"userPrincipalName": "ana.souza@dellavolpe.com.br",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/"+FakeTenant+"/v2.0/.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/me", f.handleMe)
	f.Server = httptest.NewServer(mux)
	return f
}

func (f *FakeIDP) Close()            { f.Server.Close() }
func (f *FakeIDP) AuthURL() string   { return f.Server.URL + "/authorize" }
func (f *FakeIDP) TokenURL() string  { return f.Server.URL + "/token" }
func (f *FakeIDP) MeURL() string     { return f.Server.URL + "/me" }
func (f *FakeIDP) Authority() string { return f.Server.URL }

// AccessToken returns the token the fake hands out.
func (f *FakeIDP) AccessToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessToken
}

// SetGrantedScope sets the "scope" echoed by /token. Empty omits the field.
func (f *FakeIDP) SetGrantedScope(scope string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantedScope = scope
}

// SetTokenError makes /token answer with an OAuth error body.
func (f *FakeIDP) SetTokenError(code, description string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenError = code
	f.tokenErrorDesc = description
}

// SetMeStatus makes /me answer with status.
func (f *FakeIDP) SetMeStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meStatus = status
}

// SetMe replaces the /me payload.
func (f *FakeIDP) SetMe(me map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.me = me
}

// Exchanges returns how many times /token was called.
func (f *FakeIDP) Exchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

// LastExchange returns the code, PKCE verifier and client secret of the most recent /token call.
func (f *FakeIDP) LastExchange() (code, verifier, clientSecret string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastCode, f.lastVerifier, f.lastClientSecret
}

func (f *FakeIDP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := f.Server.URL
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                "https://login.microsoftonline.com/00000000-guid/v2.0",
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/me",
		"jwks_uri":                              base + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *FakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.exchanges++
	f.lastCode = r.PostForm.Get("code")
	f.lastVerifier = r.PostForm.Get("code_verifier")
	f.lastClientSecret = r.PostForm.Get("client_secret")
	tokenError, desc := f.tokenError, f.tokenErrorDesc
	accessToken, scope := f.accessToken, f.grantedScope
	f.mu.Unlock()

	if tokenError != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             tokenError,
			"error_description": desc,
		})
		return
	}

	body := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if scope != "" {
		body["scope"] = scope
	}
	writeJSON(w, http.StatusOK, body)
}

func (f *FakeIDP) handleMe(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status, me, accessToken := f.meStatus, f.me, f.accessToken
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+accessToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "InvalidAuthenticationToken"}})
		return
	}
	if status != http.StatusOK {
		writeJSON(w, status, map[string]any{"error": map[string]string{"code": "Unavailable"}})
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
