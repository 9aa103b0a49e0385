package ws

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router upgrades HTTP connections on one path to websocket sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger
	token  string

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	builder          atomic.Value // HandlerBuilder
}

type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	// Token, when set, must be presented as a bearer token or ?token=.
	Token string
}

func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin:     opts.CheckOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		token:            opts.Token,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// SetHandlerBuilder registers the builder invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// Handle authenticates and upgrades the request, then runs a session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	if !r.authorized(req) {
		observability.RecordMetric(req.Context(), "websocket.auth.rejected", 1, map[string]string{"path": req.URL.Path})
		r.logger.WarnTag("WebSocket", "rejected %s from %s: %v", req.URL.Path, req.RemoteAddr, ErrUnauthorized)
		http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	_, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(handshakeCtx, "websocket.upgrade.error", 1,
			map[string]string{"component": "transport.websocket"})
		r.logger.ErrorTag("WebSocket", "handshake failed: %v", err)
		return
	}

	deviceID, clientID := resolveIdentifiers(req)
	wsConn := NewConnection(clientID, conn)

	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(handshakeCtx, "websocket.connection.error", 1,
			map[string]string{"component": "transport.websocket", "reason": "handler_creation_failed"})
		r.logger.ErrorTag("WebSocket", "failed to create handler: %v", err)
		_ = wsConn.Close()
		return
	}
	r.logger.InfoTag("WebSocket", "%s connected device=%s client=%s", handler.Role(), deviceID, clientID)

	// The session outlives the handshake request.
	session := NewSession(context.Background(), handler, wsConn, r.logger)
	r.hub.Register(session)

	labels := map[string]string{"component": "transport.websocket", "role": handler.Role()}
	observability.RecordMetric(handshakeCtx, "websocket.connection.opened", 1, labels)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "session %s ended: %v", session.ID(), runErr)
		}
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1, labels)
	})
}

func (r *Router) authorized(req *http.Request) bool {
	if r.token == "" {
		return true
	}
	presented := req.URL.Query().Get("token")
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(r.token)) == 1
}

func resolveIdentifiers(req *http.Request) (string, string) {
	deviceID := req.Header.Get("Device-Id")
	clientID := req.Header.Get("Client-Id")

	if deviceID == "" {
		deviceID = req.URL.Query().Get("device-id")
	}
	if clientID == "" {
		clientID = req.URL.Query().Get("client-id")
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}
	if deviceID == "" {
		deviceID = clientID
	}
	return deviceID, clientID
}
