package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dellavolpe/rnc-front/internal/browserauth"
	"github.com/dellavolpe/rnc-front/internal/cookie"
	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/session"
	"github.com/dellavolpe/rnc-front/internal/usercontext"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The first one is
// the innermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

const requestIDHeader = "X-Request-ID"

// NewRequestIDMiddleware tags each request with an ID, reusing a well-formed
// incoming one so a proxy's ID survives into the logs.
func NewRequestIDMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(log.WithRequestID(r.Context(), id)))
		})
	}
}

// NewLoggerMiddleware logs one line per request. Query strings are never
// logged since the callback carries the authorization code in them.
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": clientIP(r),
			}
			if r.URL.RawQuery != "" {
				fields["has_query"] = true
			}
			log.LogInfoCtx(r.Context(), prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.LogErrorCtx(r.Context(), prefix, "Recovered from panic", map[string]any{
						"panic": err,
						"path":  r.URL.Path,
					})
					renderError(w, r, http.StatusInternalServerError, "Erro interno. Tente novamente.")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewSecurityHeadersMiddleware sets the browser hardening headers. The
// referrer policy keeps the callback URL from leaking to other origins.
func NewSecurityHeadersMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// NewSessionMiddleware loads the browser's session, creating one when the
// cookie is missing or points nowhere, and saves it after the handler ran.
func NewSessionMiddleware(store session.Store, ttl time.Duration) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := loadSession(ctx, store, r)
			if err != nil {
				log.LogErrorCtx(ctx, "session", "Failed to load session", map[string]any{
					"error": err.Error(),
				})
				renderError(w, r, http.StatusInternalServerError, "Não foi possível carregar a sessão.")
				return
			}
			if sess == nil {
				if sess, err = session.New(ttl); err != nil {
					log.LogErrorCtx(ctx, "session", "Failed to create session", map[string]any{
						"error": err.Error(),
					})
					renderError(w, r, http.StatusInternalServerError, "Não foi possível criar a sessão.")
					return
				}
				cookie.SetSession(w, sess.ID, ttl)
				log.LogDebugCtx(ctx, "session", "Session created", nil)
			}
			sess.LastAccessedAt = time.Now()

			next.ServeHTTP(w, r.WithContext(session.WithSession(ctx, sess)))

			// The request context may already be canceled once the client has
			// its response; the save must still happen.
			if err := store.Save(context.WithoutCancel(ctx), sess); err != nil {
				log.LogErrorCtx(ctx, "session", "Failed to save session", map[string]any{
					"error": err.Error(),
				})
			}
		})
	}
}

func loadSession(ctx context.Context, store session.Store, r *http.Request) (*session.Session, error) {
	id, err := cookie.GetSession(r)
	if err != nil || id == "" {
		return nil, nil
	}
	sess, err := store.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// NewAuthGateMiddleware lets a request through only when the session holds
// a token whose identity resolves and passes the domain check. The check
// runs on every request.
func NewAuthGateMiddleware(flow *browserauth.Flow, observe func(outcome string)) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, ok := session.FromContext(ctx)
			if !ok {
				renderError(w, r, http.StatusInternalServerError, "Sessão ausente.")
				return
			}

			if browserauth.StateOf(sess) != browserauth.StateAuthenticated {
				http.Redirect(w, r, loginPath(r), http.StatusFound)
				return
			}

			user, err := flow.Revalidate(ctx, sess)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(usercontext.WithUser(ctx, user)))
			case errors.Is(err, browserauth.ErrDomainRejected):
				observe("domain_rejected")
				renderPage(w, r, http.StatusForbidden, "denied", Page{
					Title:   "Acesso negado",
					Content: deniedData{Domain: flow.AllowedDomain()},
				})
			default:
				observe("revalidate_failed")
				sess.Flash = "Sua sessão expirou. Entre novamente."
				http.Redirect(w, r, "/", http.StatusFound)
			}
		})
	}
}

func loginPath(r *http.Request) string {
	return loginURLWithReturn(r.URL.RequestURI())
}

const (
	csrfField = "csrf_token"
	// multipartMemory is how much of a multipart body is held in memory
	// before spilling to temporary files.
	multipartMemory = 8 << 20
)

// NewCSRFMiddleware rejects unsafe requests whose token was not minted for
// the request's session.
func NewCSRFMiddleware(csrf crypto.CSRFProtection) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					renderError(w, r, http.StatusRequestEntityTooLarge, "Arquivo muito grande.")
					return
				}
				renderError(w, r, http.StatusBadRequest, "Formulário inválido.")
				return
			}
			sess, ok := session.FromContext(r.Context())
			token := r.Header.Get("X-CSRF-Token")
			if token == "" {
				token = r.PostFormValue(csrfField)
			}
			if !ok || token == "" || !csrf.Validate(token, sess.ID) {
				log.LogWarnCtx(r.Context(), "csrf", "Rejected request with invalid CSRF token", map[string]any{
					"path": r.URL.Path,
				})
				renderError(w, r, http.StatusForbidden, "Formulário expirado. Recarregue a página e tente novamente.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewBodyLimitMiddleware caps request bodies at maxBytes.
func NewBodyLimitMiddleware(maxBytes int64) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
