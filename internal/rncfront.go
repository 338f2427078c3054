package internal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dellavolpe/rnc-front/internal/browserauth"
	"github.com/dellavolpe/rnc-front/internal/config"
	"github.com/dellavolpe/rnc-front/internal/crypto"
	"github.com/dellavolpe/rnc-front/internal/idp"
	"github.com/dellavolpe/rnc-front/internal/log"
	"github.com/dellavolpe/rnc-front/internal/metrics"
	"github.com/dellavolpe/rnc-front/internal/objstore"
	"github.com/dellavolpe/rnc-front/internal/records"
	"github.com/dellavolpe/rnc-front/internal/refdata"
	"github.com/dellavolpe/rnc-front/internal/server"
	"github.com/dellavolpe/rnc-front/internal/session"
)

const shutdownTimeout = 30 * time.Second

// RNCFront is the complete application: pages, login, records and files.
type RNCFront struct {
	config     config.Config
	httpServer *server.HTTPServer
	sessions   session.Store
	cleanup    *session.CleanupManager
	db         *sql.DB
}

// keys holds the per-purpose keys derived from app.secretKey.
type keys struct {
	state   []byte
	csrf    []byte
	session []byte
}

func deriveKeys(secret config.Secret) (keys, error) {
	var k keys
	var err error
	if k.state, err = crypto.DeriveKey([]byte(secret), crypto.PurposeState); err != nil {
		return k, err
	}
	if k.csrf, err = crypto.DeriveKey([]byte(secret), crypto.PurposeCSRF); err != nil {
		return k, err
	}
	if k.session, err = crypto.DeriveKey([]byte(secret), crypto.PurposeSession); err != nil {
		return k, err
	}
	return k, nil
}

// NewRNCFront builds every dependency. The database and the object store
// are probed here so a bad configuration fails at startup.
func NewRNCFront(ctx context.Context, cfg config.Config, version string) (*RNCFront, error) {
	log.LogInfoWithFields("rncfront", "Building application", map[string]any{
		"baseURL":      cfg.App.BaseURL,
		"sessionStore": cfg.App.SessionStore,
	})

	k, err := deriveKeys(cfg.App.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("deriving keys: %w", err)
	}

	sessions, err := setupSessions(cfg.App, k.session)
	if err != nil {
		return nil, fmt.Errorf("failed to setup sessions: %w", err)
	}
	app := &RNCFront{config: cfg, sessions: sessions}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	var sessionCount func() int
	if counted, isCounted := sessions.(interface{ Len() int }); isCounted {
		sessionCount = counted.Len
	}
	m := metrics.New(version, sessionCount)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	provider, err := idp.NewProvider(ctx, cfg.Auth, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to setup identity provider: %w", err)
	}
	flow := browserauth.NewFlow(provider, idp.NewResolver(provider, cfg.Auth.AllowedDomain), k.state, browserauth.DefaultStateTTL)

	objects, err := objstore.Connect(ctx, objstore.Options{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: string(cfg.Storage.AccessKey),
		SecretKey: string(cfg.Storage.SecretKey),
		Secure:    cfg.Storage.Secure,
		Region:    cfg.Storage.Region,
	}, objstore.WithOperationHook(m.ObserveStorage))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	app.db, err = records.Open(ctx, string(cfg.Database.DSN), cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := records.NewStore(app.db)
	if cfg.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		log.LogInfoWithFields("rncfront", "Database schema ensured", nil)
	}

	branches := refdata.NewBranchCatalog(objects, refdata.BranchConfig{
		Bucket: cfg.Reference.Bucket,
		Object: cfg.Reference.Object,
		Column: cfg.Reference.Column,
		TTL:    cfg.Reference.CacheTTL,
	})

	srv := server.New(server.Config{
		Flow:               flow,
		Sessions:           sessions,
		SessionTTL:         cfg.App.SessionTTL,
		CSRF:               crypto.NewCSRFProtection(k.csrf, cfg.App.SessionTTL),
		Records:            store,
		Attachments:        objects,
		AttachmentsBucket:  cfg.Storage.AttachmentsBucket,
		PresignExpiryHours: cfg.Storage.PresignExpiryHours,
		Branches:           branches,
		Metrics:            m,
		LoginRatePerMinute: cfg.App.LoginRatePerMinute,
		TrustProxyHeaders:  cfg.App.TrustProxyHeaders,
		Health: map[string]server.HealthCheck{
			"database": store.Ping,
			"storage": func(ctx context.Context) error {
				_, err := objects.BucketExists(ctx, cfg.Storage.AttachmentsBucket)
				return err
			},
		},
	})

	app.httpServer = server.NewHTTPServer(srv.Handler(), cfg.App.Addr)
	app.cleanup = session.NewCleanupManager(sessions, cfg.App.CleanupInterval)
	ok = true
	return app, nil
}

func setupSessions(cfg config.AppConfig, key []byte) (session.Store, error) {
	switch cfg.SessionStore {
	case config.SessionStoreBolt:
		log.LogInfoWithFields("rncfront", "Using bolt session store", map[string]any{
			"path": cfg.SessionPath,
		})
		store, err := session.NewBoltStore(cfg.SessionPath, key)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		log.LogInfoWithFields("rncfront", "Using in-memory session store", nil)
		return session.NewMemoryStore(), nil
	}
}

// Run serves until a signal arrives or the server fails, then shuts down.
func (a *RNCFront) Run() error {
	log.LogInfoWithFields("rncfront", "Starting application", map[string]any{
		"addr": a.config.App.Addr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.cleanup.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var shutdownReason string
	var runErr error
	select {
	case <-ctx.Done():
		shutdownReason = "signal"
		log.LogInfoWithFields("rncfront", "Received shutdown signal", nil)
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		runErr = err
		log.LogErrorWithFields("rncfront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("rncfront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("rncfront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		runErr = errors.Join(runErr, err)
	}
	a.cleanup.Stop()
	a.close()

	log.LogInfoWithFields("rncfront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return runErr
}

func (a *RNCFront) close() {
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			log.LogErrorWithFields("rncfront", "Failed to close session store", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.LogErrorWithFields("rncfront", "Failed to close database", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
