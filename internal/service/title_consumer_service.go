package service

import (
	"context"
	"encoding/json"

	"ai-chatrelay-be/internal/constant"
	"ai-chatrelay-be/internal/pkg/logger"
	"ai-chatrelay-be/internal/repository/specification"
	"ai-chatrelay-be/internal/repository/unitofwork"
	"ai-chatrelay-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

const maxTitleRunes = 80

// ITitleConsumerService names untitled sessions after their first question.
// It runs as a background worker off the in-process event bus.
type ITitleConsumerService interface {
	Consume(ctx context.Context) error
}

type titleConsumerService struct {
	subscriber message.Subscriber
	uowFactory unitofwork.RepositoryFactory
	logger     logger.ILogger
}

func NewTitleConsumerService(subscriber message.Subscriber, uowFactory unitofwork.RepositoryFactory, log logger.ILogger) ITitleConsumerService {
	return &titleConsumerService{
		subscriber: subscriber,
		uowFactory: uowFactory,
		logger:     log,
	}
}

func (s *titleConsumerService) Consume(ctx context.Context) error {
	messages, err := s.subscriber.Subscribe(ctx, events.TurnCompleted{}.Subject())
	if err != nil {
		return err
	}

	for msg := range messages {
		s.handle(ctx, msg)
		msg.Ack()
	}
	return nil
}

func (s *titleConsumerService) handle(ctx context.Context, msg *message.Message) {
	var evt events.TurnCompleted
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		s.logger.Warn("TitleConsumer", "Malformed turn event", map[string]interface{}{"error": err.Error()})
		return
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: evt.SessionID})
	if err != nil {
		s.logger.Error("TitleConsumer", "Failed to load session", map[string]interface{}{
			"session_id": evt.SessionID, "error": err.Error(),
		})
		return
	}
	if session == nil || session.Title != constant.DefaultSessionTitle {
		return
	}

	session.Title = truncateRunes(evt.Question, maxTitleRunes)
	if err := uow.ChatSessionRepository().Update(ctx, session); err != nil {
		s.logger.Error("TitleConsumer", "Failed to rename session", map[string]interface{}{
			"session_id": evt.SessionID, "error": err.Error(),
		})
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
