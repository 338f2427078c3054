package browserauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/idp"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/session"
	"github.com/dellavolpe/rnc-front/internal/urlutil"
)

// DefaultStateTTL bounds how long a browser may take at the identity provider.
const DefaultStateTTL = 10 * time.Minute

// State is where a session stands in the login state machine.
type State int

const (
	StateAnonymous State = iota
	StateAwaitingCallback
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// StateOf derives the login state from what the session holds.
func StateOf(sess *session.Session) State {
	switch {
	case sess == nil:
		return StateAnonymous
	case sess.Token != nil:
		return StateAuthenticated
	case sess.Pending != nil:
		return StateAwaitingCallback
	default:
		return StateAnonymous
	}
}

// Outcome is the result of handling a callback request.
type Outcome int

const (
	// OutcomeNoop means the request was not a callback to act on.
	OutcomeNoop Outcome = iota
	// OutcomeFailed means the login attempt ended without a token.
	OutcomeFailed
	// OutcomeAuthenticated means a token was obtained and stored.
	OutcomeAuthenticated
	// OutcomeRestart means the login has to be started again by the user.
	OutcomeRestart
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeRestart:
		return "restart"
	default:
		return "noop"
	}
}

// CallbackResult is what HandleCallback decided.
type CallbackResult struct {
	Outcome Outcome
	// ReturnURL is the local path the login started from, if any.
	ReturnURL string
}

// Flow drives the authorization code login for browser sessions.
type Flow struct {
	provider idp.Provider
	resolver *idp.Resolver
	state    *crypto.StateSigner
	stateTTL time.Duration
	now      func() time.Time
}

// NewFlow creates a flow. stateKey signs the state parameter.
func NewFlow(provider idp.Provider, resolver *idp.Resolver, stateKey []byte, stateTTL time.Duration) *Flow {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &Flow{
		provider: provider,
		resolver: resolver,
		state:    crypto.NewStateSigner(stateKey, stateTTL),
		stateTTL: stateTTL,
		now:      time.Now,
	}
}

// Begin starts a login for sess and returns the provider URL to redirect to.
// Any identity the session held is dropped.
func (f *Flow) Begin(sess *session.Session, returnURL string) (string, error) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}
	returnURL = SanitizeReturnURL(returnURL)

	state, err := f.state.Sign(nonce, returnURL)
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	sess.ClearAuth()
	sess.Pending = &session.PendingLogin{
		Nonce:     nonce,
		Verifier:  verifier,
		ReturnURL: returnURL,
		ExpiresAt: f.now().Add(f.stateTTL),
	}

	log.LogInfoWithFields("browserauth", "Starting login", map[string]any{
		"session":  shortID(sess.ID),
		"provider": f.provider.Type(),
	})
	return f.provider.AuthURL(state, verifier), nil
}

// HandleCallback processes the query of a request that may be the provider
// redirecting back. A code is exchanged at most once: a session already
// holding a token ignores the callback, and the pending login is consumed
// before the exchange runs.
func (f *Flow) HandleCallback(ctx context.Context, sess *session.Session, query url.Values) (CallbackResult, error) {
	code := query.Get("code")
	providerErr := query.Get("error")

	if sess.Token != nil || (code == "" && providerErr == "") {
		return CallbackResult{Outcome: OutcomeNoop}, nil
	}

	pending := sess.Pending
	sess.Pending = nil

	if providerErr != "" {
		err := &ProviderError{Code: providerErr, Description: query.Get("error_description")}
		log.LogWarnCtx(ctx, "browserauth", "Provider returned an error", map[string]any{
			"session": shortID(sess.ID),
			"error":   err.Error(),
		})
		return CallbackResult{Outcome: OutcomeFailed}, err
	}

	if err := f.checkState(pending, query.Get("state")); err != nil {
		log.LogWarnCtx(ctx, "browserauth", "Rejected callback", map[string]any{
			"session": shortID(sess.ID),
			"error":   err.Error(),
		})
		return CallbackResult{Outcome: OutcomeFailed}, err
	}

	token, err := f.provider.ExchangeCode(ctx, code, pending.Verifier)
	if err != nil {
		sess.ClearAuth()
		if idp.HasCode(err, idp.CodeScopeChanged) {
			log.LogWarnCtx(ctx, "browserauth", "Scope drift detected, login must restart", map[string]any{
				"session": shortID(sess.ID),
				"error":   err.Error(),
			})
			return CallbackResult{Outcome: OutcomeRestart}, fmt.Errorf("%w: %w", ErrScopeDrift, err)
		}
		log.LogErrorCtx(ctx, "browserauth", "Code exchange failed", map[string]any{
			"session": shortID(sess.ID),
			"error":   err.Error(),
		})
		return CallbackResult{Outcome: OutcomeFailed}, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}

	sess.Token = token
	sess.GrantedScopes = idp.GrantedScopes(token)
	log.LogInfoCtx(ctx, "browserauth", "Login completed", map[string]any{
		"session": shortID(sess.ID),
		"scopes":  strings.Join(sess.GrantedScopes, " "),
	})
	return CallbackResult{Outcome: OutcomeAuthenticated, ReturnURL: pending.ReturnURL}, nil
}

func (f *Flow) checkState(pending *session.PendingLogin, state string) error {
	if pending == nil {
		return fmt.Errorf("%w: no login in progress", ErrStateMismatch)
	}
	if !f.now().Before(pending.ExpiresAt) {
		return fmt.Errorf("%w: login expired", ErrStateMismatch)
	}
	claims, err := f.state.Verify(state)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(pending.Nonce)) != 1 {
		return fmt.Errorf("%w: nonce does not match", ErrStateMismatch)
	}
	return nil
}

// Revalidate resolves the identity behind the session's token. The token is
// used as stored; an expired token is never refreshed. On any failure the
// token and identity are dropped.
func (f *Flow) Revalidate(ctx context.Context, sess *session.Session) (*idp.UserInfo, error) {
	if sess.Token == nil {
		return nil, fmt.Errorf("%w: no token", ErrAuthenticationFailure)
	}
	if !sess.Token.Valid() {
		sess.ClearAuth()
		log.LogInfoCtx(ctx, "browserauth", "Token expired", map[string]any{
			"session": shortID(sess.ID),
		})
		return nil, fmt.Errorf("%w: token expired", ErrAuthenticationFailure)
	}

	info, err := f.resolver.Resolve(ctx, sess.Token)
	if err != nil {
		sess.ClearAuth()
		if errors.Is(err, idp.ErrDomainRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}

	sess.User = info
	return info, nil
}

// Logout returns sess to the anonymous state.
func (f *Flow) Logout(sess *session.Session) {
	log.LogInfoWithFields("browserauth", "Logout", map[string]any{
		"session": shortID(sess.ID),
	})
	sess.Reset()
}

// AllowedDomain returns the domain the resolver admits.
func (f *Flow) AllowedDomain() string {
	return f.resolver.AllowedDomain()
}

// SanitizeReturnURL keeps only local absolute paths so a login can never
// redirect off-site.
func SanitizeReturnURL(raw string) string {
	if !urlutil.IsLocalPath(raw) {
		return "/"
	}
	return raw
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
