package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ai-chatrelay-be/internal/constant"
	"ai-chatrelay-be/internal/pkg/logger"
	"ai-chatrelay-be/internal/websocket"
	"ai-chatrelay-be/pkg/events"
	"ai-chatrelay-be/pkg/provider"

	"github.com/google/uuid"
)

// Engine drives one chat connection through the relay state machine. One
// Engine serves all connections; each Run call owns exactly one connection
// and processes one inbound message at a time, so a session never has more
// than one turn in flight.
type Engine struct {
	registry websocket.Registry
	store    SessionStore
	provider AnswerProvider
	segment  Segmenter
	events   EventSink // may be nil
	logger   logger.ILogger

	chunkDelay   time.Duration
	contextLimit int
}

func NewEngine(
	registry websocket.Registry,
	store SessionStore,
	answerProvider AnswerProvider,
	segment Segmenter,
	sink EventSink,
	log logger.ILogger,
	chunkDelay time.Duration,
	contextLimit int,
) *Engine {
	if contextLimit <= 0 {
		contextLimit = 10
	}
	return &Engine{
		registry:     registry,
		store:        store,
		provider:     answerProvider,
		segment:      segment,
		events:       sink,
		logger:       log,
		chunkDelay:   chunkDelay,
		contextLimit: contextLimit,
	}
}

var errNoHandle = errors.New("no connection handle registered for session")

type inboundEnvelope struct {
	Message string `json:"message"`
}

// turn carries everything accumulated during one query→answer cycle.
type turn struct {
	query       string
	resolved    string
	reference   string
	degraded    bool
	accumulated strings.Builder
	aborted     bool
}

// accumulate appends a chunk to the text that will be persisted, inserting a
// space where two bare tokens would otherwise run together.
func (t *turn) accumulate(chunk string) {
	cur := t.accumulated.String()
	if cur != "" && !endsWithSpace(cur) && !startsWithSpace(chunk) {
		t.accumulated.WriteString(" ")
	}
	t.accumulated.WriteString(chunk)
}

func endsWithSpace(s string) bool {
	return s != "" && (s[len(s)-1] == ' ' || s[len(s)-1] == '\n' || s[len(s)-1] == '\t')
}

func startsWithSpace(s string) bool {
	return s != "" && (s[0] == ' ' || s[0] == '\n' || s[0] == '\t')
}

// Run attaches a connection to the relay and blocks until it disconnects.
// Transport failures end the connection; provider and persistence failures
// are absorbed per turn and never escape.
func (e *Engine) Run(ctx context.Context, t Transport, h websocket.Handle, sessionID, userID uuid.UUID) {
	st := StateConnecting
	var cur *turn

	for st != StateDisconnected {
		switch st {
		case StateConnecting:
			e.registry.Register(sessionID, h)
			if err := e.send(sessionID, constant.PayloadTypeInfo, "Connected to chat session "+sessionID.String()); err != nil {
				e.logger.Warn("Relay", "Handshake send failed", map[string]interface{}{
					"session_id": sessionID, "error": err.Error(),
				})
				st = StateDisconnected
				break
			}
			st = StateIdle

		case StateIdle:
			cur = &turn{}
			st = StateReceiving

		case StateReceiving:
			_, data, err := t.ReadMessage()
			if err != nil {
				e.logger.Info("Relay", "Connection closed", map[string]interface{}{
					"session_id": sessionID, "error": err.Error(),
				})
				st = StateDisconnected
				break
			}

			var env inboundEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				// Malformed inbound payload drops the turn, not the connection.
				e.logger.Warn("Relay", "Malformed inbound payload", map[string]interface{}{
					"session_id": sessionID, "error": err.Error(),
				})
				st = StateIdle
				break
			}

			query := strings.TrimSpace(env.Message)
			if query == "" {
				// Empty messages are silently ignored: no persistence, no provider call.
				st = StateIdle
				break
			}

			cur.query = query
			st = StatePersistingUser

		case StatePersistingUser:
			// Best-effort by policy: a failed persist is logged and the turn
			// still queries the provider.
			if _, err := e.store.AppendMessage(ctx, sessionID, constant.ChatMessageRoleUser, cur.query, ""); err != nil {
				e.logger.Error("Relay", "Failed to persist user message", map[string]interface{}{
					"session_id": sessionID, "error": err.Error(),
				})
			}
			st = StateQuerying

		case StateQuerying:
			history := e.loadHistory(ctx, sessionID, userID)

			if err := e.send(sessionID, constant.PayloadTypeStatus, constant.StatusProcessingText); err != nil {
				st = StateDisconnected
				break
			}

			res := e.provider.Ask(ctx, cur.query, sessionID.String(), history)
			cur.resolved, cur.reference, cur.degraded = e.resolve(sessionID, res)
			st = StateStreaming

		case StateStreaming:
			chunks := e.segment(cur.resolved)
			if cur.degraded {
				// A degraded turn delivers the canned text as one chunk,
				// persisted verbatim.
				chunks = []string{cur.resolved}
			}
			for _, chunk := range chunks {
				if err := e.send(sessionID, constant.PayloadTypeChunk, chunk); err != nil {
					// Fail fast: skip remaining chunks, keep what accumulated.
					e.logger.Warn("Relay", "Chunk delivery failed, aborting stream", map[string]interface{}{
						"session_id": sessionID, "error": err.Error(),
					})
					cur.aborted = true
					break
				}
				cur.accumulate(chunk)
				if e.chunkDelay > 0 {
					time.Sleep(e.chunkDelay)
				}
			}
			st = StatePersistingBot

		case StatePersistingBot:
			reference := ""
			if !cur.degraded && !cur.aborted {
				reference = cur.reference
			}
			if _, err := e.store.AppendMessage(ctx, sessionID, constant.ChatMessageRoleBot, cur.accumulated.String(), reference); err != nil {
				e.logger.Error("Relay", "Failed to persist bot message", map[string]interface{}{
					"session_id": sessionID, "error": err.Error(),
				})
			}

			if cur.aborted {
				st = StateDisconnected
				break
			}

			if err := e.send(sessionID, constant.PayloadTypeComplete, constant.ResponseCompleteText); err != nil {
				st = StateDisconnected
				break
			}

			e.emitTurnCompleted(sessionID, userID, cur)
			st = StateIdle
		}
	}

	e.disconnect(sessionID)
}

// send pushes one payload through the registry. A missing handle counts as a
// delivery failure: the connection is gone.
func (e *Engine) send(sessionID uuid.UUID, payloadType, content string) error {
	ok, err := e.registry.Send(sessionID, Payload{Type: payloadType, Content: content})
	if err != nil {
		return err
	}
	if !ok {
		return errNoHandle
	}
	return nil
}

// loadHistory fetches the most recent messages oldest-first. The user persist
// has already completed, so the window reflects this turn's question.
func (e *Engine) loadHistory(ctx context.Context, sessionID, userID uuid.UUID) []provider.Message {
	messages, err := e.store.RecentMessages(ctx, sessionID, userID, e.contextLimit)
	if err != nil {
		e.logger.Error("Relay", "Failed to load chat history", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
		return nil
	}

	history := make([]provider.Message, 0, len(messages))
	for _, m := range messages {
		history = append(history, provider.Message{Role: m.Sender, Content: m.Content})
	}
	return history
}

// resolve maps a provider result onto the text that will be streamed. Every
// classified failure degrades to a canned message; the turn never hard-fails
// toward the client.
func (e *Engine) resolve(sessionID uuid.UUID, res provider.Result) (text, reference string, degraded bool) {
	switch res.Kind {
	case provider.KindSuccess:
		return res.Answer, marshalReference(res.Reference), false
	case provider.KindTimeout:
		e.logger.Warn("Relay", "Provider timeout", map[string]interface{}{
			"session_id": sessionID,
		})
		return constant.ApologyTimeoutText, "", true
	case provider.KindNetworkError:
		e.logger.Warn("Relay", "Provider network failure", map[string]interface{}{
			"session_id": sessionID, "error": errString(res.Err),
		})
		return constant.ApologyNetworkText, "", true
	case provider.KindUpstreamError:
		e.logger.Warn("Relay", "Provider upstream error", map[string]interface{}{
			"session_id": sessionID, "status": res.Status, "detail": res.Detail,
		})
		return constant.ApologyGenericText, "", true
	default:
		e.logger.Warn("Relay", "Provider returned malformed response", map[string]interface{}{
			"session_id": sessionID, "error": errString(res.Err),
		})
		return constant.ApologyGenericText, "", true
	}
}

func (e *Engine) emitTurnCompleted(sessionID, userID uuid.UUID, cur *turn) {
	if e.events == nil {
		return
	}
	e.events.TurnCompleted(events.TurnCompleted{
		SessionID:    sessionID,
		UserID:       userID,
		Question:     cur.query,
		AnswerLength: cur.accumulated.Len(),
		Degraded:     cur.degraded,
		OccurredAt:   time.Now(),
	})
}

// disconnect releases the session's registry slot. Idempotent.
func (e *Engine) disconnect(sessionID uuid.UUID) {
	e.registry.Unregister(sessionID)
}

func marshalReference(ref string) string {
	if ref == "" {
		return ""
	}
	// Stored as jsonb, so wrap the upstream string as a JSON value.
	b, err := json.Marshal(ref)
	if err != nil {
		return ""
	}
	return string(b)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
