// Package httptransport serves the viewer REST API: state and its
// server-sent event stream, questions, capture requests, photo listing and
// upload, and a health report.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"glass-server-go/internal/platform/config"
	"glass-server-go/internal/platform/logging"
)

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Config     *config.Config
	Logger     *logging.Logger
	App        App
	Components map[string]StatusFunc
}

type Server struct {
	addr   string
	logger *logging.Logger
	router *Router
	srv    *http.Server
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.App == nil {
		return nil, errors.New("http server requires an app")
	}
	if opts.Config == nil {
		return nil, errors.New("http server requires config")
	}
	cfg := opts.Config
	issuer, err := NewTokenIssuer(cfg.Web.JWT)
	if err != nil {
		return nil, err
	}
	if issuer != nil && cfg.Server.Token == "" {
		opts.Logger.WarnTag("HTTP", "jwt enabled without server.token: anyone can obtain a token")
	}

	router, err := Build(Options{
		Config:         cfg,
		Logger:         opts.Logger,
		AuthMiddleware: AuthMiddleware(cfg.Server.Token, issuer),
	})
	if err != nil {
		return nil, err
	}

	h := &health{app: opts.App, started: time.Now(), components: opts.Components}
	router.API.GET("/health", h.handle)
	router.API.POST("/auth/token", handleToken(cfg.Server.Token, issuer))
	a := &api{app: opts.App, logger: opts.Logger, maxUpload: cfg.Image.MaxFileSize}
	a.register(router.Secured)

	return &Server{
		addr:   net.JoinHostPort(cfg.Web.IP, strconv.Itoa(cfg.Web.Port)),
		logger: opts.Logger,
		router: router,
	}, nil
}

func (s *Server) Handler() http.Handler {
	return s.router.Engine
}

// Start listens on the configured address and serves until ctx is done or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.InfoTag("HTTP", "listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
