package sandbox

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alexbotov/mpesa/internal/config"
	"github.com/alexbotov/mpesa/internal/control"
	"github.com/alexbotov/mpesa/internal/database"
	"github.com/alexbotov/mpesa/internal/domain"
	"github.com/alexbotov/mpesa/internal/keys"
	"github.com/alexbotov/mpesa/internal/ledger"
)

const shutdownTimeout = 30 * time.Second

// Server is a fully wired sandbox
type Server struct {
	Handler   *Handler
	PublicKey string

	httpServer *http.Server
	store      ledger.Store
	hub        *Hub
	logger     *slog.Logger
}

// NewServer builds the store, authenticator, control service, event hub and
// router described by cfg. An empty database DSN selects the in-memory store;
// an empty private key file generates a throwaway key pair.
func NewServer(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	opening, err := domain.ParseMoney(cfg.Sandbox.FloatBalance, cfg.Sandbox.Currency)
	if err != nil {
		return nil, fmt.Errorf("invalid float balance %q: %w", cfg.Sandbox.FloatBalance, err)
	}

	privateKey, err := loadOrGenerateKey(cfg.Sandbox.PrivateKeyFile, logger)
	if err != nil {
		return nil, err
	}

	authn, err := NewAuthenticator(privateKey, cfg.Sandbox.APIKey, cfg.Sandbox.JWTSecret, cfg.Sandbox.TokenTTL)
	if err != nil {
		return nil, err
	}
	publicKey, err := authn.PublicKeyBody()
	if err != nil {
		return nil, err
	}

	store, backend, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureAccount(ctx, cfg.Sandbox.ServiceProviderCode, opening); err != nil {
		store.Close()
		return nil, err
	}

	ctrl := control.New(store, logger)
	if err := ctrl.LoadState(ctx); err != nil {
		store.Close()
		return nil, err
	}

	hub := NewHub(logger)
	handler := New(Options{
		ServiceProviderCode: cfg.Sandbox.ServiceProviderCode,
		Currency:            cfg.Sandbox.Currency,
		Version:             version,
		Backend:             backend,
	}, authn, store, ctrl, hub, logger)

	return &Server{
		Handler:   handler,
		PublicKey: publicKey,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort("", strconv.Itoa(cfg.Sandbox.Port)),
			Handler:      handler.SetupRouter(),
			ReadTimeout:  cfg.Sandbox.ReadTimeout,
			WriteTimeout: cfg.Sandbox.WriteTimeout,
		},
		store:  store,
		hub:    hub,
		logger: logger,
	}, nil
}

func loadOrGenerateKey(path string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if path != "" {
		return keys.LoadPrivateKey(path)
	}
	logger.Warn("no private key file configured, generating a throwaway key pair")
	return keys.Generate(keys.DefaultBits)
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (ledger.Store, string, error) {
	if cfg.DSN == "" {
		return ledger.NewMemoryStore(), "memory", nil
	}
	db, err := database.New(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, "", err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, "", err
	}
	return ledger.NewPostgresStore(db), cfg.Driver, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting sandbox", "addr", s.httpServer.Addr, "public_key", s.PublicKey)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down sandbox")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.hub.Close()
	err := s.httpServer.Shutdown(shutdownCtx)
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the store and disconnects subscribers without serving
func (s *Server) Close() error {
	s.hub.Close()
	return s.store.Close()
}
