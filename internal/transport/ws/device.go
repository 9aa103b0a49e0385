package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	appsession "glass-server-go/internal/app/session"
	"glass-server-go/internal/contracts/providers"
	"glass-server-go/internal/platform/logging"
)

// DeviceHandler serves one wearable. Binary frames from the device are
// photo notifications; text frames are JSON commands.
type DeviceHandler struct {
	conn     *Connection
	deviceID string
	app      *appsession.Session
	logger   *logging.Logger

	// outMu keeps capture commands from landing inside an audio stream.
	outMu sync.Mutex
	wg    sync.WaitGroup
}

func NewDeviceHandler(conn *Connection, deviceID string, app *appsession.Session, logger *logging.Logger) *DeviceHandler {
	return &DeviceHandler{conn: conn, deviceID: deviceID, app: app, logger: logger}
}

// DeviceBuilder returns a HandlerBuilder for the device endpoint.
func DeviceBuilder(app *appsession.Session, logger *logging.Logger) HandlerBuilder {
	return func(conn *Connection, req *http.Request) (SessionHandler, error) {
		deviceID, _ := resolveIdentifiers(req)
		return NewDeviceHandler(conn, deviceID, app, logger), nil
	}
}

func (h *DeviceHandler) ID() string   { return h.conn.ID() }
func (h *DeviceHandler) Role() string { return RoleDevice }
func (h *DeviceHandler) Ready() bool  { return !h.conn.IsClosed() }

func (h *DeviceHandler) WriteControl(_ context.Context, payload []byte) error {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	return h.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (h *DeviceHandler) StartListening(context.Context) error {
	return h.conn.WriteJSON(Frame{Type: FrameListen, State: "start"})
}

// PlayAudio streams audio between tts start and stop frames.
func (h *DeviceHandler) PlayAudio(ctx context.Context, audio providers.Audio) error {
	h.outMu.Lock()
	defer h.outMu.Unlock()

	if err := h.conn.WriteJSON(Frame{Type: FrameTTS, State: "start", Format: audio.Format, DurationMS: audio.Duration.Milliseconds()}); err != nil {
		return err
	}
	var err error
	for off := 0; off < len(audio.Data) && err == nil; off += audioChunkSize {
		if err = ctx.Err(); err != nil {
			break
		}
		end := min(off+audioChunkSize, len(audio.Data))
		err = h.conn.WriteMessage(websocket.BinaryMessage, audio.Data[off:end])
	}
	if stopErr := h.conn.WriteJSON(Frame{Type: FrameTTS, State: "stop"}); err == nil {
		err = stopErr
	}
	return err
}

func (h *DeviceHandler) Handle(ctx context.Context) error {
	link := h.app.Connect(h, "websocket")
	defer link.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.wg.Wait()
	}()

	for {
		messageType, payload, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || h.conn.IsClosed() {
				return nil
			}
			return err
		}
		switch messageType {
		case websocket.BinaryMessage:
			link.OnPacket(payload)
		case websocket.TextMessage:
			h.handleText(ctx, payload)
		}
	}
}

func (h *DeviceHandler) handleText(ctx context.Context, payload []byte) {
	frame, err := parseFrame(payload)
	if err != nil {
		h.logger.WarnTag("WebSocket", "device %s sent invalid frame: %v", h.deviceID, err)
		_ = h.conn.WriteJSON(Frame{Type: FrameError, Error: "invalid frame"})
		return
	}
	switch frame.Type {
	case FrameHello:
		_ = h.conn.WriteJSON(Frame{Type: FrameHello, SessionID: h.ID()})
	case FrameCapture:
		if err := h.app.RequestCapture(ctx); err != nil {
			_ = h.conn.WriteJSON(Frame{Type: FrameCapture, Accepted: boolPtr(false), Error: err.Error()})
		}
	case FrameAsk:
		if frame.Text == "" {
			return
		}
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			answer, accepted := h.app.Ask(ctx, frame.Text)
			if errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			_ = h.conn.WriteJSON(Frame{Type: FrameAnswer, Text: answer, Accepted: boolPtr(accepted)})
		}()
	default:
		h.logger.DebugTag("WebSocket", "device %s sent unknown frame type %q", h.deviceID, frame.Type)
	}
}

func (h *DeviceHandler) Close() {
	_ = h.conn.Close()
}
