package service

import (
	"context"
	"fmt"
	"time"

	"ai-chatrelay-be/internal/constant"
	"ai-chatrelay-be/internal/dto"
	"ai-chatrelay-be/internal/entity"
	"ai-chatrelay-be/internal/repository/memory"
	"ai-chatrelay-be/internal/repository/specification"
	"ai-chatrelay-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

// IChatService is the Session Store collaborator: durable CRUD for sessions
// and ordered messages. The relay engine consumes AppendMessage and
// RecentMessages; the REST surface consumes the rest.
type IChatService interface {
	CreateSession(ctx context.Context, userId uuid.UUID, title string) (*dto.SessionResponse, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error)
	GetSessionMessages(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.MessageResponse, error)
	DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error

	VerifyOwnership(ctx context.Context, sessionId, userId uuid.UUID) (bool, error)
	AppendMessage(ctx context.Context, sessionId uuid.UUID, sender, content, reference string) (*entity.ChatMessage, error)
	RecentMessages(ctx context.Context, sessionId, userId uuid.UUID, limit int) ([]*entity.ChatMessage, error)
}

type chatService struct {
	uowFactory unitofwork.RepositoryFactory
	ownership  *memory.OwnershipCache
}

func NewChatService(uowFactory unitofwork.RepositoryFactory, ownership *memory.OwnershipCache) IChatService {
	return &chatService{
		uowFactory: uowFactory,
		ownership:  ownership,
	}
}

func (cs *chatService) CreateSession(ctx context.Context, userId uuid.UUID, title string) (*dto.SessionResponse, error) {
	if title == "" {
		title = constant.DefaultSessionTitle
	}

	session := entity.ChatSession{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		CreatedAt: time.Now(),
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ChatSessionRepository().Create(ctx, &session); err != nil {
		return nil, err
	}

	cs.ownership.Save(session.Id, userId)

	return &dto.SessionResponse{
		Id:        session.Id,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}, nil
}

func (cs *chatService) GetAllSessions(ctx context.Context, userId uuid.UUID) ([]*dto.SessionResponse, error) {
	uow := cs.uowFactory.NewUnitOfWork(ctx)

	sessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	response := make([]*dto.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, &dto.SessionResponse{
			Id:        s.Id,
			Title:     s.Title,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}

	return response, nil
}

func (cs *chatService) GetSessionMessages(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.MessageResponse, error) {
	owned, err := cs.VerifyOwnership(ctx, sessionId, userId)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, fmt.Errorf("session not found or access denied")
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "created_at", Desc: false},
	)
	if err != nil {
		return nil, err
	}

	response := make([]*dto.MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, &dto.MessageResponse{
			Id:        m.Id,
			Sender:    m.Sender,
			Content:   m.Content,
			Reference: m.Reference,
			CreatedAt: m.CreatedAt,
		})
	}

	return response, nil
}

func (cs *chatService) DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	owned, err := cs.VerifyOwnership(ctx, sessionId, userId)
	if err != nil {
		return err
	}
	if !owned {
		return fmt.Errorf("session not found or access denied")
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	// Messages cascade with their session.
	if err := uow.ChatMessageRepository().DeleteByChatSessionId(ctx, sessionId); err != nil {
		return err
	}
	if err := uow.ChatSessionRepository().Delete(ctx, sessionId); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return err
	}

	cs.ownership.Delete(sessionId)
	return nil
}

// VerifyOwnership answers whether userId owns sessionId, consulting the
// in-memory cache before the database.
func (cs *chatService) VerifyOwnership(ctx context.Context, sessionId, userId uuid.UUID) (bool, error) {
	if owner, found := cs.ownership.Get(sessionId); found {
		return owner == userId, nil
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.ChatSessionRepository().FindOne(ctx, specification.ByID{ID: sessionId})
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}

	cs.ownership.Save(session.Id, session.UserId)
	return session.UserId == userId, nil
}

// AppendMessage writes one immutable message and advances the session's
// updated_at inside a single transaction.
func (cs *chatService) AppendMessage(ctx context.Context, sessionId uuid.UUID, sender, content, reference string) (*entity.ChatMessage, error) {
	message := entity.ChatMessage{
		Id:            uuid.New(),
		ChatSessionId: sessionId,
		Sender:        sender,
		Content:       content,
		Reference:     reference,
		CreatedAt:     time.Now(),
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	if err := uow.ChatMessageRepository().Create(ctx, &message); err != nil {
		return nil, err
	}
	if err := uow.ChatSessionRepository().Touch(ctx, sessionId); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}

	return &message, nil
}

// RecentMessages returns the last limit messages for the session, oldest
// first. Empty when the session is not owned by userId.
func (cs *chatService) RecentMessages(ctx context.Context, sessionId, userId uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	owned, err := cs.VerifyOwnership(ctx, sessionId, userId)
	if err != nil {
		return nil, err
	}
	if !owned {
		return []*entity.ChatMessage{}, nil
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)
	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: sessionId},
		specification.OrderBy{Field: "created_at", Desc: true},
		specification.Limit{Count: limit},
	)
	if err != nil {
		return nil, err
	}

	// Reverse the window back to oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
