package websocket

import (
	"sync"

	"ai-chatrelay-be/internal/pkg/logger"

	"github.com/google/uuid"
)

// Handle is one live transport bound to a chat session.
type Handle interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Registry tracks live handles keyed by session id. The relay engine
// serializes register/unregister/send for a single session; the registry only
// guarantees that different sessions do not block each other.
type Registry interface {
	Register(sessionID uuid.UUID, h Handle)
	Unregister(sessionID uuid.UUID)
	Send(sessionID uuid.UUID, payload interface{}) (bool, error)
}

type SessionRegistry struct {
	mu      sync.RWMutex
	handles map[uuid.UUID]Handle
	logger  logger.ILogger
}

func NewSessionRegistry(log logger.ILogger) *SessionRegistry {
	return &SessionRegistry{
		handles: make(map[uuid.UUID]Handle),
		logger:  log,
	}
}

// Register binds a handle to a session. A reconnect for the same session
// replaces the previous handle without notifying it; the old transport closes
// through its own lifecycle (replace-without-notify policy).
func (r *SessionRegistry) Register(sessionID uuid.UUID, h Handle) {
	r.mu.Lock()
	_, replaced := r.handles[sessionID]
	r.handles[sessionID] = h
	r.mu.Unlock()

	r.logger.Info("Registry", "Connection registered", map[string]interface{}{
		"session_id": sessionID,
		"replaced":   replaced,
	})
}

func (r *SessionRegistry) Unregister(sessionID uuid.UUID) {
	r.mu.Lock()
	_, ok := r.handles[sessionID]
	delete(r.handles, sessionID)
	r.mu.Unlock()

	if ok {
		r.logger.Info("Registry", "Connection unregistered", map[string]interface{}{
			"session_id": sessionID,
		})
	}
}

// Send delivers a payload to the session's live handle. Returns (false, nil)
// when no handle is registered, (true, err) when delivery was attempted.
func (r *SessionRegistry) Send(sessionID uuid.UUID, payload interface{}) (bool, error) {
	r.mu.RLock()
	h, ok := r.handles[sessionID]
	r.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return true, h.WriteJSON(payload)
}
