package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowgrid/flowgrid/internal/config"
	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/util"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/core"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

type AuthController struct {
	UserRepo engine.UserRepo
}

func NewAuthController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

func (ac *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", ac.handleLogin)
	mux.HandleFunc("POST /api/logout", ac.handleLogout)
}

// RequireAuth accepts either a session cookie or an X-API-Key header.
func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1) Try session cookie
		if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
			u, err := ac.UserRepo.FindBySessionID(c.Value, time.Now().UTC())
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		// 2) Try API key from headers
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			u, err := ac.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

func (ac *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.LoginRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	user, err := ac.UserRepo.FindByUsername(req.Username)
	if err != nil || user == nil || !user.Enabled.Bool {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	expiryHours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	sessionID := uuid.NewString()
	expiry := time.Now().UTC().Add(time.Duration(expiryHours) * time.Hour)
	if err := ac.UserRepo.UpdateSession(user.ID, sessionID, expiry); err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "sessionId",
		Value:    sessionID,
		Path:     "/",
		Expires:  expiry,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	util.WriteJSONResponse(w, http.StatusOK, models.LoginResponse{SessionID: sessionID, Expiry: expiry})
}

func (ac *AuthController) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
		if err := ac.UserRepo.ClearSessionBySessionID(c.Value); err == nil {
			http.SetCookie(w, &http.Cookie{Name: "sessionId", Value: "", Path: "/", MaxAge: -1})
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// actorFromContext returns the authenticated username, or the system actor
// when a request reached a handler without one.
func actorFromContext(ctx context.Context) string {
	if v := ctx.Value(core.CtxKeyUsername); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "anonymous"
}
