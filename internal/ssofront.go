package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opendataworks/sso-front/internal/authflow"
	"github.com/opendataworks/sso-front/internal/config"
	"github.com/opendataworks/sso-front/internal/crypto"
	"github.com/opendataworks/sso-front/internal/directory"
	"github.com/opendataworks/sso-front/internal/idp"
	jsonwriter "github.com/opendataworks/sso-front/internal/json"
	"github.com/opendataworks/sso-front/internal/log"
	"github.com/opendataworks/sso-front/internal/provision"
	"github.com/opendataworks/sso-front/internal/server"
)

// SSOFront represents the complete SSO front application
type SSOFront struct {
	config     config.Config
	httpServer *server.HTTPServer
	dirCloser  func() error
}

// NewSSOFront creates a new SSO front application with all dependencies built
func NewSSOFront(ctx context.Context, cfg config.Config) (*SSOFront, error) {
	log.LogInfoWithFields("ssofront", "Building SSO front application", map[string]any{
		"provider":  cfg.Provider.IdentityProvider,
		"directory": cfg.Directory.Backend,
	})

	dir, dirCloser, err := setupDirectory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup user directory: %w", err)
	}

	flow := authflow.New(idp.New(cfg.Provider), provision.New(dir))
	if err := flow.Configure(cfg); err != nil {
		return nil, fmt.Errorf("failed to configure auth flow: %w", err)
	}

	signer, err := setupTicketSigner(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup ticket signer: %w", err)
	}

	mux := buildHTTPHandler(cfg, flow, dir, signer)
	httpServer := server.NewHTTPServer(mux, cfg.Front.Addr)

	return &SSOFront{
		config:     cfg,
		httpServer: httpServer,
		dirCloser:  dirCloser,
	}, nil
}

// Run starts the application and blocks until shutdown
func (s *SSOFront) Run() error {
	log.LogInfoWithFields("ssofront", "Starting SSO front application", map[string]any{
		"addr": s.config.Front.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("ssofront", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("ssofront", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	case <-ctx.Done():
		shutdownReason = "context cancelled"
		log.LogInfoWithFields("ssofront", "Context cancelled, shutting down", nil)
	}

	log.LogInfoWithFields("ssofront", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("ssofront", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	if s.dirCloser != nil {
		if err := s.dirCloser(); err != nil {
			log.LogWarnWithFields("ssofront", "Directory close error", map[string]any{
				"error": err.Error(),
			})
		}
	}

	log.LogInfoWithFields("ssofront", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupDirectory creates the user directory backend based on configuration
func setupDirectory(ctx context.Context, cfg config.Config) (directory.Directory, func() error, error) {
	switch cfg.Directory.Backend {
	case config.DirectoryBackendFirestore:
		log.LogInfoWithFields("directory", "Using Firestore user directory", map[string]any{
			"project":    cfg.Directory.FirestoreProject,
			"database":   cfg.Directory.FirestoreDatabase,
			"collection": cfg.Directory.FirestoreCollection,
		})
		dir, err := directory.NewFirestoreDirectory(
			ctx,
			cfg.Directory.FirestoreProject,
			cfg.Directory.FirestoreDatabase,
			cfg.Directory.FirestoreCollection,
		)
		if err != nil {
			return nil, nil, err
		}
		return dir, dir.Close, nil

	default:
		log.LogInfoWithFields("directory", "Using in-memory user directory", nil)
		return directory.NewMemoryDirectory(), nil, nil
	}
}

// setupTicketSigner builds the auth ticket signer. Without a configured
// secret a process-local random key is generated; tickets then do not
// survive restarts.
func setupTicketSigner(cfg config.Config) (crypto.TokenSigner, error) {
	secret := string(cfg.Session.TicketSecret)
	if secret == "" {
		generated, err := crypto.GenerateSecureToken()
		if err != nil {
			return crypto.TokenSigner{}, fmt.Errorf("generating ticket key: %w", err)
		}
		secret = generated
		log.LogWarnWithFields("ssofront", "No ticket secret configured, using a process-local random key", nil)
	}
	return crypto.NewTokenSigner([]byte(secret), cfg.Session.TicketTTL), nil
}

// buildHTTPHandler creates the complete HTTP handler with all routing and middleware
func buildHTTPHandler(cfg config.Config, flow authflow.Authenticator, dir directory.Directory, signer crypto.TokenSigner) http.Handler {
	// The login and logout paths only reach the inner mux when the flow
	// decided there is nothing left to do (an established session on the
	// login page); send the browser back to the portal.
	home := cfg.Front.BaseURL
	if home == "" {
		home = "/"
	}

	inner := http.NewServeMux()
	inner.Handle("/user/me", server.NewUserHandler())
	inner.HandleFunc("/user/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, home, http.StatusFound)
	})
	inner.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		jsonwriter.WriteNotFound(w, "Not found")
	})

	authChain := server.ChainMiddleware(
		inner,
		server.NewAuthMiddleware(flow, dir, signer, cfg.Session.TicketTTL),
		server.NewLoggerMiddleware("auth"),
		server.NewRecoverMiddleware("auth"),
	)

	mux := http.NewServeMux()
	mux.Handle("/healthz", server.NewHealthHandler(cfg.Front.Name))
	mux.Handle("/", authChain)

	log.LogInfoWithFields("server", "SSO front server initialized", nil)
	return mux
}
