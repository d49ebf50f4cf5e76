package service

import (
	"context"
	"encoding/json"
	"time"

	"ai-chatrelay-be/internal/pkg/logger"
	"ai-chatrelay-be/pkg/events"
	pktNats "ai-chatrelay-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventPublisherService fans turn events out to the in-process bus and,
// when configured, mirrors them to NATS. It implements relay.EventSink and
// must never block a turn.
type EventPublisherService struct {
	publisher message.Publisher
	nats      *pktNats.Publisher // nil when NATS is not configured
	logger    logger.ILogger
}

func NewEventPublisherService(publisher message.Publisher, nats *pktNats.Publisher, log logger.ILogger) *EventPublisherService {
	return &EventPublisherService{
		publisher: publisher,
		nats:      nats,
		logger:    log,
	}
}

func (s *EventPublisherService) TurnCompleted(evt events.TurnCompleted) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("Events", "Failed to marshal turn event", map[string]interface{}{"error": err.Error()})
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(evt.Subject(), msg); err != nil {
		s.logger.Error("Events", "Failed to publish turn event", map[string]interface{}{"error": err.Error()})
	}

	if s.nats != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.nats.Publish(ctx, evt); err != nil {
				s.logger.Warn("Events", "NATS publish failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
}
