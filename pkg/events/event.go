package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is anything the relay can publish onto a bus.
type Event interface {
	Subject() string
	Payload() interface{}
}

// TurnCompleted is emitted after a query→answer cycle finishes, whether the
// answer came from the provider or degraded to a canned message.
type TurnCompleted struct {
	SessionID    uuid.UUID `json:"session_id"`
	UserID       uuid.UUID `json:"user_id"`
	Question     string    `json:"question"`
	AnswerLength int       `json:"answer_length"`
	Degraded     bool      `json:"degraded"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (TurnCompleted) Subject() string {
	return "chat.turn.completed"
}

func (e TurnCompleted) Payload() interface{} {
	return e
}
