package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
)

type MockExecutorRepo struct {
	SaveFunc                     func(e *domain.Executor) (int64, error)
	UpdateLastActiveFunc         func(id int64, ts time.Time) error
	FindActiveSinceFunc          func(cutoff time.Time) ([]*domain.Executor, error)
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(e *domain.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 0, nil
}
func (m *MockExecutorRepo) UpdateLastActive(id int64, ts time.Time) error {
	if m.UpdateLastActiveFunc != nil {
		return m.UpdateLastActiveFunc(id, ts)
	}
	return nil
}
func (m *MockExecutorRepo) FindActiveSince(cutoff time.Time) ([]*domain.Executor, error) {
	if m.FindActiveSinceFunc != nil {
		return m.FindActiveSinceFunc(cutoff)
	}
	return nil, nil
}
func (m *MockExecutorRepo) GetExecutorsByLastActive(limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

func TestExecutorsController_GetExecutors(t *testing.T) {
	mockExecutorRepo := &MockExecutorRepo{
		GetExecutorsByLastActiveFunc: func(limit int) ([]*domain.Executor, error) {
			return []*domain.Executor{
				{ID: 1, Name: "executor1"},
			}, nil
		},
	}

	c := NewExecutorsController(mockExecutorRepo, &MockUserRepo{})

	req := httptest.NewRequest("GET", "/api/executors", nil)
	w := httptest.NewRecorder()

	c.handleGetExecutors(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var executors []domain.Executor
	if err := json.NewDecoder(resp.Body).Decode(&executors); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(executors) != 1 {
		t.Errorf("Expected 1 executor, got %d", len(executors))
	}
}
