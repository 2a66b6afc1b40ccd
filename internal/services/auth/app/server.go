package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quietriver/gatehouse/internal/services/auth/api/rest"
	"github.com/quietriver/gatehouse/internal/services/auth/email"
	"github.com/quietriver/gatehouse/internal/services/auth/service"
	"github.com/quietriver/gatehouse/internal/services/auth/signup"
	authsqlite "github.com/quietriver/gatehouse/internal/services/auth/storage/sqlite"
)

// codeRetention keeps consumed code rows around long enough for delivery
// pacing to be computed before the sweep removes them.
const codeRetention = 24 * time.Hour

// Server hosts the auth HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
	clock      func() time.Time
}

// New creates a configured auth server listening on the provided port.
func New(port int) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	store, err := openAuthStore(resolveAuthDBPath())
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	signer, err := signup.NewSignerFromEnv(time.Now)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure signup grants: %w", err)
	}

	svc := service.New(service.Stores{
		Accounts:   store,
		Codes:      store,
		Challenges: store,
		Passkeys:   store,
		Sessions:   store,
	}, email.NewSenderFromEnv(), signer)

	mux := http.NewServeMux()
	rest.NewHandler(svc).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
		clock:      time.Now,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, port int) error {
	srv, err := New(port)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.StartCleanup(serverCtx, 5*time.Minute)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// StartCleanup starts periodic expiry cleanup for transient auth records.
//
// Expired codes, challenges, and sessions are already rejected lazily on
// access; the sweep only keeps the tables from accumulating.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

func (s *Server) cleanupExpired(ctx context.Context) {
	now := s.clock().UTC()
	if err := s.store.DeleteOneTimeCodesExpiredBefore(ctx, now.Add(-codeRetention)); err != nil {
		log.Printf("cleanup codes: %v", err)
	}
	if err := s.store.DeleteExpiredChallenges(ctx, now); err != nil {
		log.Printf("cleanup challenges: %v", err)
	}
	if err := s.store.DeleteExpiredSessions(ctx, now); err != nil {
		log.Printf("cleanup sessions: %v", err)
	}
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close auth store: %v", err)
	}
}

func resolveAuthDBPath() string {
	path := strings.TrimSpace(os.Getenv("GATEHOUSE_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	return path
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}
