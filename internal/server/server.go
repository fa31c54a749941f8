// Package server exposes the live monitor over HTTP: session control,
// selection edits, snapshots (JSON, CBOR, text) and a websocket stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/canview/internal/auth"
	"github.com/danmuck/canview/internal/canbus"
	"github.com/danmuck/canview/internal/monitor"
	"github.com/danmuck/canview/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Catalog lists the messages a signal database knows.
type Catalog interface {
	Messages() []canbus.Descriptor
	Search(query string) []canbus.Descriptor
}

type Config struct {
	Addr        string
	CORSOrigins []string
	// Channel and Bitrate are used by connect requests that omit them.
	Channel string
	Bitrate int
	// Validator guards mutating routes. Nil leaves them open.
	Validator auth.Validator
	TLSCert   string
	TLSKey    string
}

type Deps struct {
	Session   *monitor.Session
	Refresher *monitor.Refresher
	Catalog   Catalog
}

type Server struct {
	cfg       Config
	session   *monitor.Session
	refresher *monitor.Refresher
	catalog   Catalog
	hub       *Hub
	router    *gin.Engine
	started   time.Time

	unsubscribe func()
}

func New(cfg Config, deps Deps) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, "/health", "/metrics", "/snapshot", "/session"))
	r.Use(observability.RequestMetricsMiddleware("/ws"))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:       cfg,
		session:   deps.Session,
		refresher: deps.Refresher,
		catalog:   deps.Catalog,
		hub:       NewHub(originChecker(normalizeOrigins(cfg.CORSOrigins))),
		router:    r,
		started:   time.Now(),
	}
	if s.refresher != nil {
		s.unsubscribe = s.refresher.Subscribe(s.hub)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.close()
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln, with TLS when cfg.TLSCert and cfg.TLSKey are
// set. The listener is closed on return.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	useTLS := s.cfg.TLSCert != "" && s.cfg.TLSKey != ""
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Bool("tls", useTLS).Msg("http listening")
		if useTLS {
			errCh <- srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve %s: %w", ln.Addr(), err)
	case <-ctx.Done():
	}

	s.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.hub.Close()
}

// statusFor maps monitor and canbus errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case monitor.IsPrecondition(err), errors.Is(err, canbus.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, monitor.ErrConnectionFailure):
		return http.StatusBadGateway
	case errors.Is(err, monitor.ErrShutdownTimeout):
		return http.StatusInternalServerError
	case errors.Is(err, canbus.ErrInvalidID), errors.Is(err, canbus.ErrInvalidLength):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// originChecker admits websocket upgrades from the CORS origins, the
// server's own host, and clients that send no Origin header.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	_, wildcard := allowed["*"]
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := allowed[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
