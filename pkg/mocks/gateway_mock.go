package mocks

import (
	"context"
	"time"

	"github.com/dukex/courier/pkg/gateway"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of gateway.Gateway interface.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(gateway.SendResult), args.Error(1)
}

func (m *MockGateway) SetPresence(ctx context.Context, phone string, presence gateway.Presence, duration time.Duration) error {
	args := m.Called(ctx, phone, presence, duration)

	return args.Error(0)
}

func (m *MockGateway) Retract(ctx context.Context, externalMessageID string) error {
	args := m.Called(ctx, externalMessageID)

	return args.Error(0)
}
