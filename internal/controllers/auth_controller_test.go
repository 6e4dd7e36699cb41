package controllers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// MockUserRepo implements engine.UserRepo for testing
type MockUserRepo struct {
	FindBySessionIDFunc         func(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKeyFunc            func(apiKey string) (*domain.User, error)
	FindByUsernameFunc          func(username string) (*domain.User, error)
	FindByIdFunc                func(id int64) (*domain.User, error)
	FindAllFunc                 func() (*[]domain.User, error)
	SaveFunc                    func(user *domain.User) (int64, error)
	UpdateSessionFunc           func(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionIDFunc func(sessionID string) error
}

func (m *MockUserRepo) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	if m.FindBySessionIDFunc != nil {
		return m.FindBySessionIDFunc(sessionID, now)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByApiKey(apiKey string) (*domain.User, error) {
	if m.FindByApiKeyFunc != nil {
		return m.FindByApiKeyFunc(apiKey)
	}
	return nil, nil
}
func (m *MockUserRepo) FindByUsername(username string) (*domain.User, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(username)
	}
	return nil, nil
}
func (m *MockUserRepo) FindById(id int64) (*domain.User, error) {
	if m.FindByIdFunc != nil {
		return m.FindByIdFunc(id)
	}
	return nil, nil
}
func (m *MockUserRepo) FindAll() (*[]domain.User, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}
func (m *MockUserRepo) Save(user *domain.User) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(user)
	}
	return 0, nil
}
func (m *MockUserRepo) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	if m.UpdateSessionFunc != nil {
		return m.UpdateSessionFunc(userID, sessionID, expiry)
	}
	return nil
}
func (m *MockUserRepo) ClearSessionBySessionID(sessionID string) error {
	if m.ClearSessionBySessionIDFunc != nil {
		return m.ClearSessionBySessionIDFunc(sessionID)
	}
	return nil
}

func TestAuthController_RequireAuth_SessionCookie(t *testing.T) {
	mockRepo := &MockUserRepo{
		FindBySessionIDFunc: func(sessionID string, now time.Time) (*domain.User, error) {
			if sessionID == "valid_session" {
				return &domain.User{Username: "testuser"}, nil
			}
			return nil, nil
		},
	}
	ac := NewAuthController(mockRepo)

	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		username := r.Context().Value(core.CtxKeyUsername)
		if username != "testuser" {
			t.Errorf("Expected username in context, got %v", username)
		}
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest("GET", "/api/templates", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "valid_session"})
	w := httptest.NewRecorder()

	ac.RequireAuth(nextHandler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthController_RequireAuth_ApiKey(t *testing.T) {
	mockRepo := &MockUserRepo{
		FindByApiKeyFunc: func(apiKey string) (*domain.User, error) {
			if apiKey == "valid_key" {
				return &domain.User{Username: "api_user"}, nil
			}
			return nil, nil
		},
	}
	ac := NewAuthController(mockRepo)

	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		username := r.Context().Value(core.CtxKeyUsername)
		if username != "api_user" {
			t.Errorf("Expected username in context, got %v", username)
		}
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest("GET", "/api/templates", nil)
	req.Header.Set("X-API-Key", "valid_key")
	w := httptest.NewRecorder()

	ac.RequireAuth(nextHandler).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthController_RequireAuth_Unauthorized(t *testing.T) {
	ac := NewAuthController(&MockUserRepo{})

	nextHandler := func(w http.ResponseWriter, r *http.Request) {
		t.Error("Next handler should not be called")
	}

	// No credentials
	req := httptest.NewRequest("GET", "/api/templates", nil)
	w := httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected unauthorized 401, got %d", w.Code)
	}

	// Invalid API key
	req = httptest.NewRequest("GET", "/api/templates", nil)
	req.Header.Set("X-API-Key", "invalid_key")
	w = httptest.NewRecorder()
	ac.RequireAuth(nextHandler).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected unauthorized 401, got %d", w.Code)
	}
}

func TestAuthController_Login(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	var savedSession string
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			if username == "alice" {
				return &domain.User{
					ID:       1,
					Username: "alice",
					Password: string(hash),
					Enabled:  sql.NullBool{Bool: true, Valid: true},
				}, nil
			}
			return nil, nil
		},
		UpdateSessionFunc: func(userID int64, sessionID string, expiry time.Time) error {
			savedSession = sessionID
			return nil
		},
	}
	ac := NewAuthController(mockRepo)

	body, _ := json.Marshal(models.LoginRequest{Username: "alice", Password: "secret"})
	req := httptest.NewRequest("POST", "/api/login", bytes.NewReader(body))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp models.LoginResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.SessionID == "" || resp.SessionID != savedSession {
		t.Errorf("Expected persisted session id in response, got %q", resp.SessionID)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sessionId" || !cookies[0].HttpOnly {
		t.Errorf("Expected HttpOnly sessionId cookie, got %v", cookies)
	}
}

func TestAuthController_Login_BadPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			return &domain.User{
				Username: "alice",
				Password: string(hash),
				Enabled:  sql.NullBool{Bool: true, Valid: true},
			}, nil
		},
	}
	ac := NewAuthController(mockRepo)

	body, _ := json.Marshal(models.LoginRequest{Username: "alice", Password: "wrong"})
	req := httptest.NewRequest("POST", "/api/login", bytes.NewReader(body))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuthController_Login_DisabledUser(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	mockRepo := &MockUserRepo{
		FindByUsernameFunc: func(username string) (*domain.User, error) {
			return &domain.User{
				Username: "alice",
				Password: string(hash),
				Enabled:  sql.NullBool{Bool: false, Valid: true},
			}, nil
		},
	}
	ac := NewAuthController(mockRepo)

	body, _ := json.Marshal(models.LoginRequest{Username: "alice", Password: "secret"})
	req := httptest.NewRequest("POST", "/api/login", bytes.NewReader(body))
	w := httptest.NewRecorder()

	ac.handleLogin(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestAuthController_Logout(t *testing.T) {
	cleared := ""
	mockRepo := &MockUserRepo{
		ClearSessionBySessionIDFunc: func(sessionID string) error {
			cleared = sessionID
			return nil
		},
	}
	ac := NewAuthController(mockRepo)

	req := httptest.NewRequest("POST", "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: "sessionId", Value: "sess-1"})
	w := httptest.NewRecorder()

	ac.handleLogout(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if cleared != "sess-1" {
		t.Errorf("Expected session sess-1 cleared, got %q", cleared)
	}
}
