package mocks

import (
	"context"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) SaveSnapshot(ctx context.Context, snapshot *models.PipelineSnapshot) error {
	args := m.Called(ctx, snapshot)

	return args.Error(0)
}

func (m *MockPersistence) SnapshotByID(ctx context.Context, submissionID string) (*models.PipelineSnapshot, error) {
	args := m.Called(ctx, submissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.PipelineSnapshot), args.Error(1)
}

func (m *MockPersistence) ActiveSnapshots(ctx context.Context) ([]*models.PipelineSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.PipelineSnapshot), args.Error(1)
}

func (m *MockPersistence) AppendJournal(ctx context.Context, record models.JournalRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockPersistence) Journal(ctx context.Context, submissionID string) ([]models.JournalRecord, error) {
	args := m.Called(ctx, submissionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.JournalRecord), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
