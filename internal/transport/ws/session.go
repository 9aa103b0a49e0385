package ws

import (
	"context"
	"sync/atomic"
	"time"

	"glass-server-go/internal/platform/logging"
)

const defaultCloseTimeout = 5 * time.Second

const (
	RoleDevice = "device"
	RoleViewer = "viewer"
)

// SessionHandler drives one upgraded connection.
type SessionHandler interface {
	// Handle runs the read loop until the connection ends or ctx is done.
	Handle(ctx context.Context) error
	Close()
	ID() string
	Role() string
}

// Session encapsulates the lifecycle of a single websocket connection.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

func NewSession(parent context.Context, handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      handler.ID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
		ctx:     sessionCtx,
		cancel:  cancel,
	}
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Role() string {
	return s.handler.Role()
}

// Run executes the session handler and invokes onDone once exiting.
func (s *Session) Run(onDone func(error)) {
	var runErr error
	defer func() {
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	runErr = s.handler.Handle(s.ctx)
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.cancel != nil {
		s.cancel(reason)
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, reason)
	defer cancel()

	if s.handler != nil {
		done := make(chan struct{})
		go func() {
			s.handler.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.WarnTag("WebSocket", "session %s handler close timed out: %v", s.id, context.Cause(shutdownCtx))
		}
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.DebugTag("WebSocket", "session %s connection close failed: %v", s.id, err)
		}
	}
}
