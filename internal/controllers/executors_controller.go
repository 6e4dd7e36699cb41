package controllers

import (
	"log/slog"
	"net/http"

	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/util"
)

type ExecutorsController struct {
	AuthController
	ExecutorRepo engine.ExecutorRepo
}

func NewExecutorsController(executorRepo engine.ExecutorRepo, userRepo engine.UserRepo) *ExecutorsController {
	return &ExecutorsController{
		ExecutorRepo:   executorRepo,
		AuthController: AuthController{UserRepo: userRepo},
	}
}

func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireAuth(c.handleGetExecutors))
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	executors, err := c.ExecutorRepo.GetExecutorsByLastActive(100)
	if err != nil {
		slog.Error("Failed to get executors", "error", err)
		http.Error(w, "failed to get executors", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, executors)
}
