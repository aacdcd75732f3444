package notify

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/technosupport/ts-eventgate/internal/retryqueue"
)

// MockEmailSender
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, msg Email) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockChatSender
type MockChatSender struct {
	mock.Mock
}

func (m *MockChatSender) SendPhoto(ctx context.Context, target, photoPath, caption string) error {
	args := m.Called(ctx, target, photoPath, caption)
	return args.Error(0)
}

// MockRetrySink
type MockRetrySink struct {
	mock.Mock
}

func (m *MockRetrySink) Persist(rec retryqueue.Record) (string, error) {
	args := m.Called(rec)
	return args.String(0), args.Error(1)
}
