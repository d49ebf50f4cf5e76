package relay

import (
	"context"

	"ai-chatrelay-be/internal/entity"
	"ai-chatrelay-be/pkg/events"
	"ai-chatrelay-be/pkg/provider"

	"github.com/google/uuid"
)

// Payload is the outbound websocket envelope.
type Payload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SessionStore is the slice of the persistence layer the engine depends on.
// It must give read-your-writes within a session: a RecentMessages call sees
// every AppendMessage that returned before it.
type SessionStore interface {
	AppendMessage(ctx context.Context, sessionID uuid.UUID, sender, content, reference string) (*entity.ChatMessage, error)
	RecentMessages(ctx context.Context, sessionID, userID uuid.UUID, limit int) ([]*entity.ChatMessage, error)
}

// AnswerProvider wraps a single call to the upstream answer service.
type AnswerProvider interface {
	Ask(ctx context.Context, query, sessionID string, history []provider.Message) provider.Result
}

// Segmenter produces the ordered chunk sequence for a resolved answer text.
type Segmenter func(raw string) []string

// EventSink receives turn lifecycle events. Implementations must not block;
// a nil sink disables events.
type EventSink interface {
	TurnCompleted(evt events.TurnCompleted)
}

// Transport is the inbound side of one live connection.
type Transport interface {
	ReadMessage() (int, []byte, error)
}
