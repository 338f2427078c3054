package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dellavolpe/rnc-front/internal/browserauth"
	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/objstore"
	"github.com/dellavolpe/rnc-front/internal/records"
	"github.com/dellavolpe/rnc-front/internal/session"
)

// DefaultMaxUploadBytes bounds one attachment upload request.
const DefaultMaxUploadBytes = 25 << 20

// RecordStore is the part of records.Store the pages use.
type RecordStore interface {
	SearchRecords(ctx context.Context, query string) ([]*records.Record, error)
	GetRecord(ctx context.Context, id int64) (*records.Record, error)
	InsertRecord(ctx context.Context, r records.Record) (int64, error)
	UpdateRecord(ctx context.Context, id int64, r records.Record) error
	SoftDeleteRecord(ctx context.Context, id int64) error
	ListReasons(ctx context.Context) ([]*records.Reason, error)
	InsertReason(ctx context.Context, name string) (*records.Reason, error)
	SoftDeleteReason(ctx context.Context, id int64) error
}

// AttachmentStore is the part of objstore.Manager the attachment pages use.
type AttachmentStore interface {
	UploadReader(ctx context.Context, r io.Reader, size int64, objectName, bucket, contentType string) (*objstore.UploadResult, error)
	ListAttachments(ctx context.Context, bucket, recordID string) ([]string, error)
	Stat(ctx context.Context, bucket, objectName string) (*objstore.ObjectInfo, error)
	Presign(ctx context.Context, bucket, objectName string, method objstore.PresignMethod, expiresHours int) (string, error)
}

// BranchLister lists the selectable branches.
type BranchLister interface {
	Names(ctx context.Context) ([]string, error)
}

// Observer receives counters for metrics. Every method may be called
// concurrently.
type Observer interface {
	Instrument(next http.Handler) http.Handler
	Handler() http.Handler
	ObserveLogin(outcome string)
	ObserveRecord(op string, err error)
}

// Config wires the server to its collaborators.
type Config struct {
	Flow       *browserauth.Flow
	Sessions   session.Store
	SessionTTL time.Duration
	CSRF       crypto.CSRFProtection

	Records            RecordStore
	Attachments        AttachmentStore
	AttachmentsBucket  string
	PresignExpiryHours int
	MaxUploadBytes     int64
	Branches           BranchLister

	Metrics            Observer
	LoginRatePerMinute int
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	TrustProxyHeaders  bool
	Health             map[string]HealthCheck
}

// Server holds the page handlers.
type Server struct {
	cfg Config
}

// New creates the server.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.PresignExpiryHours <= 0 {
		cfg.PresignExpiryHours = 1
	}
	return &Server{cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(NewRecoverMiddleware("http"))
	if s.cfg.TrustProxyHeaders {
		r.Use(NewRealIPMiddleware())
	}
	r.Use(
		NewRequestIDMiddleware(),
		NewLoggerMiddleware("http"),
		NewSecurityHeadersMiddleware(),
	)
	if s.cfg.Metrics != nil {
		r.Use(s.cfg.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	r.Method(http.MethodGet, "/health", NewHealthHandler(s.cfg.Health))

	r.Group(func(r chi.Router) {
		r.Use(
			NewSessionMiddleware(s.cfg.Sessions, s.cfg.SessionTTL),
			NewRateLimitMiddleware(s.cfg.LoginRatePerMinute, isAuthRequest),
			NewBodyLimitMiddleware(s.cfg.MaxUploadBytes),
			NewCSRFMiddleware(s.cfg.CSRF),
		)

		r.Get("/", s.handleHome)
		r.Get("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(NewAuthGateMiddleware(s.cfg.Flow, s.observeLogin))

			r.Get("/records", s.handleListRecords)
			r.Get("/records/new", s.handleNewRecord)
			r.Post("/records/new", s.handleCreateRecord)
			r.Get("/records/{id}/edit", s.handleEditRecord)
			r.Post("/records/{id}/edit", s.handleUpdateRecord)
			r.Post("/records/{id}/delete", s.handleDeleteRecord)

			r.Get("/reasons", s.handleListReasons)
			r.Post("/reasons", s.handleCreateReason)
			r.Post("/reasons/{id}/delete", s.handleDeleteReason)

			r.Get("/records/{id}/attachments", s.handleListAttachments)
			r.Post("/records/{id}/attachments", s.handleUploadAttachments)
			r.Get("/records/{id}/attachments/{name}", s.handleDownloadAttachment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, r, http.StatusNotFound, "Página não encontrada.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, r, http.StatusMethodNotAllowed, "Método não permitido.")
	})
	return r
}

func (s *Server) observeLogin(outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveLogin(outcome)
	}
}

func (s *Server) observeRecord(op string, err error) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveRecord(op, err)
	}
}

// csrfToken mints a form token bound to the request's session.
func (s *Server) csrfToken(r *http.Request) string {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		return ""
	}
	token, err := s.cfg.CSRF.Generate(sess.ID)
	if err != nil {
		log.LogErrorCtx(r.Context(), "csrf", "Failed to generate CSRF token", map[string]any{
			"error": err.Error(),
		})
		return ""
	}
	return token
}

// page renders a gated page with the CSRF token filled in.
func (s *Server) page(w http.ResponseWriter, r *http.Request, status int, name, title string, content any) {
	renderPage(w, r, status, name, Page{
		Title:     title,
		CSRFToken: s.csrfToken(r),
		Content:   content,
	})
}

// redirectWithFlash stores a one-shot message and sends the browser to target.
func redirectWithFlash(w http.ResponseWriter, r *http.Request, target, flash string) {
	if sess, ok := session.FromContext(r.Context()); ok && flash != "" {
		sess.Flash = flash
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
