package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"glass-server-go/internal/platform/logging"
)

type ServerConfig struct {
	Addr             string
	DevicePath       string
	ViewerPath       string
	HandshakeTimeout time.Duration
	Token            string
}

// Server exposes the device and viewer endpoints.
type Server struct {
	cfg     ServerConfig
	hub     *Hub
	device  *Router
	viewer  *Router
	logger  *logging.Logger
	httpSrv *http.Server
}

func NewServer(cfg ServerConfig, logger *logging.Logger) *Server {
	if cfg.DevicePath == "" {
		cfg.DevicePath = "/device"
	}
	if cfg.ViewerPath == "" {
		cfg.ViewerPath = "/viewer"
	}
	hub := NewHub(logger)
	opts := RouterOptions{HandshakeTimeout: cfg.HandshakeTimeout, Token: cfg.Token}
	return &Server{
		cfg:    cfg,
		hub:    hub,
		device: NewRouter(hub, logger, opts),
		viewer: NewRouter(hub, logger, opts),
		logger: logger,
	}
}

func (s *Server) SetDeviceBuilder(builder HandlerBuilder) {
	s.device.SetHandlerBuilder(builder)
}

func (s *Server) SetViewerBuilder(builder HandlerBuilder) {
	s.viewer.SetHandlerBuilder(builder)
}

// Handler returns the mux serving both endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.DevicePath, s.device.Handle)
	mux.HandleFunc(s.cfg.ViewerPath, s.viewer.Handle)
	return mux
}

// Start listens until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.httpSrv != nil {
		return nil
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.InfoTag("WebSocket", "listening on %s (%s, %s)", ln.Addr(), s.cfg.DevicePath, s.cfg.ViewerPath)
	err := s.httpSrv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the websocket server and active sessions.
func (s *Server) Stop() error {
	srv := s.httpSrv
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, ErrSessionShutdown)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	s.hub.CloseAll(ErrSessionShutdown)
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Counts exposes active device and viewer counts.
func (s *Server) Counts() (int, int) {
	return s.hub.Counts()
}
