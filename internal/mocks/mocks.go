package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-presence-service/internal/auth"
	"chat-presence-service/internal/models"
	"chat-presence-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateMessageState(ctx context.Context, messageID int64, state models.DeliveryState, at time.Time) error {
	args := m.Called(ctx, messageID, state, at)
	return args.Error(0)
}

func (m *MessageRepositoryMock) FindConversation(ctx context.Context, userA, userB int64, limit int, before *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB, limit, before)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) FindGroupConversation(ctx context.Context, groupID int64, limit int, before *time.Time) ([]models.Message, error) {
	args := m.Called(ctx, groupID, limit, before)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, receiverID, senderID int64, at time.Time) ([]int64, error) {
	args := m.Called(ctx, receiverID, senderID, at)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, senderID, readerID int64, at time.Time) (int, error) {
	args := m.Called(ctx, senderID, readerID, at)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID, senderID int64) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) FindUser(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) UpdateStatus(ctx context.Context, userID int64, status models.UserStatus) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

func (m *UserRepositoryMock) TouchActivity(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

func (m *UserRepositoryMock) LastActivity(ctx context.Context, userID int64) (*time.Time, error) {
	args := m.Called(ctx, userID)
	var at *time.Time
	if val := args.Get(0); val != nil {
		at = val.(*time.Time)
	}
	return at, args.Error(1)
}

func (m *UserRepositoryMock) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) VerifyToken(ctx context.Context, token string) (auth.Identity, error) {
	args := m.Called(ctx, token)
	var identity auth.Identity
	if val := args.Get(0); val != nil {
		identity = val.(auth.Identity)
	}
	return identity, args.Error(1)
}

func (m *VerifierMock) IsUsable(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ auth.Verifier = (*VerifierMock)(nil)
