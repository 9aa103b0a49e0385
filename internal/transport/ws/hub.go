package ws

import (
	"sync"

	"glass-server-go/internal/platform/logging"
)

// Hub tracks the active websocket sessions for a transport instance.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseAll terminates all active sessions and waits for their shutdown.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Counts returns the number of device and viewer sessions.
func (h *Hub) Counts() (devices int, viewers int) {
	h.sessions.Range(func(_, value any) bool {
		if s, ok := value.(*Session); ok {
			switch s.Role() {
			case RoleDevice:
				devices++
			case RoleViewer:
				viewers++
			}
		}
		return true
	})
	return devices, viewers
}
