package contentstore

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/MahmoudSaeedNST/learnhub/internal/types"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateOrGetThread(ctx context.Context, token string, participants []int64) (string, error) {
	args := m.Called(ctx, token, participants)
	return args.String(0), args.Error(1)
}

func (m *MockStore) PersistMessage(ctx context.Context, token string, params MessageParams) (types.Message, error) {
	args := m.Called(ctx, token, params)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockStore) DeleteMessage(ctx context.Context, token, messageId string) error {
	args := m.Called(ctx, token, messageId)
	return args.Error(0)
}

func (m *MockStore) ParticipantsOf(ctx context.Context, token, threadId string) ([]int64, error) {
	args := m.Called(ctx, token, threadId)
	if participants, ok := args.Get(0).([]int64); ok {
		return participants, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) MarkRead(ctx context.Context, token, threadId string, userId int64, messageId string) error {
	args := m.Called(ctx, token, threadId, userId, messageId)
	return args.Error(0)
}

func (m *MockStore) RecordCall(ctx context.Context, token string, record types.CallRecord) error {
	args := m.Called(ctx, token, record)
	return args.Error(0)
}

func (m *MockStore) UpdatePresence(ctx context.Context, token string, userId int64, status types.PresenceStatus, lastActivity time.Time) error {
	args := m.Called(ctx, token, userId, status, lastActivity)
	return args.Error(0)
}

func (m *MockStore) FriendsOf(ctx context.Context, token string, userId int64) ([]int64, error) {
	args := m.Called(ctx, token, userId)
	if friends, ok := args.Get(0).([]int64); ok {
		return friends, args.Error(1)
	}
	return nil, args.Error(1)
}
