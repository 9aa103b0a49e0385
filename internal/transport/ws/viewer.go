package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/domain/agent"
	"glass-server-go/internal/platform/logging"
)

const viewerBuffer = 16

// ViewerHandler pushes every state snapshot to a presentation client and
// accepts ask, capture and clear commands from it.
type ViewerHandler struct {
	conn    *Connection
	app     *appsession.Session
	logger  *logging.Logger
	updates chan agent.State
	wg      sync.WaitGroup
}

func NewViewerHandler(conn *Connection, app *appsession.Session, logger *logging.Logger) *ViewerHandler {
	return &ViewerHandler{
		conn:    conn,
		app:     app,
		logger:  logger,
		updates: make(chan agent.State, viewerBuffer),
	}
}

func ViewerBuilder(app *appsession.Session, logger *logging.Logger) HandlerBuilder {
	return func(conn *Connection, _ *http.Request) (SessionHandler, error) {
		return NewViewerHandler(conn, app, logger), nil
	}
}

func (h *ViewerHandler) ID() string   { return h.conn.ID() }
func (h *ViewerHandler) Role() string { return RoleViewer }

// enqueue runs inside the publisher; it never blocks. A slow viewer loses
// its oldest queued snapshot.
func (h *ViewerHandler) enqueue(st agent.State) {
	for {
		select {
		case h.updates <- st:
			return
		default:
		}
		select {
		case <-h.updates:
		default:
		}
	}
}

func (h *ViewerHandler) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	unsubscribe := h.app.Subscribe(h.enqueue)
	defer func() {
		unsubscribe()
		cancel()
		h.wg.Wait()
	}()

	snap := h.app.Snapshot()
	if err := h.conn.WriteJSON(Frame{Type: FrameState, Snapshot: &snap}); err != nil {
		return err
	}

	h.wg.Add(1)
	go h.writeLoop(ctx)

	for {
		messageType, payload, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || h.conn.IsClosed() {
				return nil
			}
			return err
		}
		if messageType == websocket.TextMessage {
			h.handleText(ctx, payload)
		}
	}
}

func (h *ViewerHandler) writeLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-h.updates:
			if err := h.conn.WriteJSON(Frame{Type: FrameState, Snapshot: &st}); err != nil {
				h.logger.DebugTag("WebSocket", "viewer %s write failed: %v", h.ID(), err)
				return
			}
		}
	}
}

func (h *ViewerHandler) handleText(ctx context.Context, payload []byte) {
	frame, err := parseFrame(payload)
	if err != nil {
		_ = h.conn.WriteJSON(Frame{Type: FrameError, Error: "invalid frame"})
		return
	}
	switch frame.Type {
	case FrameAsk:
		if frame.Text == "" {
			_ = h.conn.WriteJSON(Frame{Type: FrameError, Error: "question is empty"})
			return
		}
		h.spawn(func() {
			answer, accepted := h.app.Ask(ctx, frame.Text)
			_ = h.conn.WriteJSON(Frame{Type: FrameAnswer, Text: answer, Accepted: boolPtr(accepted)})
		})
	case FrameCapture:
		reply := Frame{Type: FrameCapture, Accepted: boolPtr(true)}
		if err := h.app.RequestCapture(ctx); err != nil {
			reply.Accepted = boolPtr(false)
			reply.Error = err.Error()
		}
		_ = h.conn.WriteJSON(reply)
	case FrameClear:
		h.spawn(func() {
			if err := h.app.ClearPhotos(ctx); err != nil {
				_ = h.conn.WriteJSON(Frame{Type: FrameError, Error: err.Error()})
			}
		})
	default:
		h.logger.DebugTag("WebSocket", "viewer %s sent unknown frame type %q", h.ID(), frame.Type)
	}
}

func (h *ViewerHandler) spawn(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *ViewerHandler) Close() {
	_ = h.conn.Close()
}
