package mocks

import (
	"context"
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockScheduledMessageRepository is a mock implementation of persistence.ScheduledMessageRepository interface.
type MockScheduledMessageRepository struct {
	mock.Mock
}

func (m *MockScheduledMessageRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ScheduledMessage), args.Error(1)
}

func (m *MockScheduledMessageRepository) MarkSending(ctx context.Context, id int64, runID string, now time.Time) (bool, error) {
	args := m.Called(ctx, id, runID, now)

	return args.Bool(0), args.Error(1)
}

func (m *MockScheduledMessageRepository) MarkSent(ctx context.Context, id int64, runID, externalMessageID string, now time.Time) error {
	args := m.Called(ctx, id, runID, externalMessageID, now)

	return args.Error(0)
}

func (m *MockScheduledMessageRepository) MarkFailed(ctx context.Context, id int64, failure models.DispatchFailure) error {
	args := m.Called(ctx, id, failure)

	return args.Error(0)
}

func (m *MockScheduledMessageRepository) Schedule(ctx context.Context, msg *models.ScheduledMessage) (bool, error) {
	args := m.Called(ctx, msg)

	return args.Bool(0), args.Error(1)
}

func (m *MockScheduledMessageRepository) ByID(ctx context.Context, id int64) (*models.ScheduledMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ScheduledMessage), args.Error(1)
}

func (m *MockScheduledMessageRepository) CountOutcomes(ctx context.Context, since time.Time) (int, int, error) {
	args := m.Called(ctx, since)

	return args.Int(0), args.Int(1), args.Error(2)
}

// MockChatMessageRepository is a mock implementation of persistence.ChatMessageRepository interface.
type MockChatMessageRepository struct {
	mock.Mock
}

func (m *MockChatMessageRepository) ByID(ctx context.Context, id int64) (*models.ChatMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ChatMessage), args.Error(1)
}

func (m *MockChatMessageRepository) MarkRevoked(ctx context.Context, id int64, now time.Time) error {
	args := m.Called(ctx, id, now)

	return args.Error(0)
}

func (m *MockChatMessageRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}
