package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/dellavolpe/rnc-front/internal/browserauth"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/session"
)

// handleHome is both the landing page and the redirect URI registered with
// the identity provider.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, _ := session.FromContext(ctx)

	res, err := s.cfg.Flow.HandleCallback(ctx, sess, r.URL.Query())
	if res.Outcome != browserauth.OutcomeNoop {
		s.observeLogin(res.Outcome.String())
	}

	switch res.Outcome {
	case browserauth.OutcomeAuthenticated:
		target := res.ReturnURL
		if target == "" {
			target = "/"
		}
		http.Redirect(w, r, target, http.StatusFound)
		return

	// Failed callbacks also leave the callback URL so code and state do not
	// stay in the address bar or history.
	case browserauth.OutcomeRestart:
		sess.RestartLogin = true
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return

	case browserauth.OutcomeFailed:
		redirectWithFlash(w, r, "/", callbackMessage(err))
		return
	}

	// A stale callback URL (back button, reload) is cleaned up without
	// touching the token.
	if r.URL.RawQuery != "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if browserauth.StateOf(sess) != browserauth.StateAuthenticated {
		renderPage(w, r, http.StatusOK, "login", Page{
			Title:   "Entrar",
			Content: loginData{Restart: sess.TakeRestartLogin(), LoginURL: "/login"},
		})
		return
	}
	http.Redirect(w, r, "/records", http.StatusFound)
}

func callbackMessage(err error) string {
	var perr *browserauth.ProviderError
	switch {
	case errors.As(err, &perr):
		if perr.Code == "access_denied" {
			return "O login foi cancelado."
		}
		return "O provedor de identidade recusou o login."
	case errors.Is(err, browserauth.ErrStateMismatch):
		return "A tentativa de login expirou ou não pertence a esta sessão. Tente novamente."
	default:
		return "Não foi possível concluir o login. Tente novamente."
	}
}

// handleLogin starts the authorization code flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())

	authURL, err := s.cfg.Flow.Begin(sess, r.URL.Query().Get("return"))
	if err != nil {
		log.LogErrorCtx(r.Context(), "browserauth", "Failed to start login", map[string]any{
			"error": err.Error(),
		})
		renderError(w, r, http.StatusInternalServerError, "Não foi possível iniciar o login.")
		return
	}
	s.observeLogin("started")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleLogout drops the token and identity. The session itself stays so
// the browser keeps a valid cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	s.cfg.Flow.Logout(sess)
	redirectWithFlash(w, r, "/", "Você saiu da aplicação.")
}

// loginURLWithReturn builds the login link for ret.
func loginURLWithReturn(ret string) string {
	ret = browserauth.SanitizeReturnURL(ret)
	if ret == "/" {
		return "/login"
	}
	return "/login?return=" + url.QueryEscape(ret)
}
