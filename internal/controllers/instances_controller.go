package controllers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/util"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/domain"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// InstancesController exposes the instance lifecycle: creation, transitions,
// step results, rollback, search and the audit trail.
type InstancesController struct {
	AuthController
	Engine *engine.Engine
}

func NewInstancesController(eng *engine.Engine, userRepo engine.UserRepo) *InstancesController {
	return &InstancesController{
		Engine:         eng,
		AuthController: AuthController{UserRepo: userRepo},
	}
}

func (c *InstancesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/instances", c.RequireAuth(c.handleCreateInstance))
	mux.HandleFunc("POST /api/instances/search", c.RequireAuth(c.handleSearchInstances))
	mux.HandleFunc("GET /api/instances/overview", c.RequireAuth(c.handleOverview))
	mux.HandleFunc("GET /api/instances/byExternalId/{externalId}", c.RequireAuth(c.handleGetByExternalID))
	mux.HandleFunc("GET /api/instances/{id}", c.RequireAuth(c.handleGetInstance))
	mux.HandleFunc("POST /api/instances/{id}/transition", c.RequireAuth(c.handleTransition))
	mux.HandleFunc("POST /api/instances/{id}/steps/{stepId}/result", c.RequireAuth(c.handleStepResult))
	mux.HandleFunc("GET /api/instances/{id}/steps", c.RequireAuth(c.handleGetSteps))
	mux.HandleFunc("GET /api/instances/{id}/events", c.RequireAuth(c.handleGetEvents))
	mux.HandleFunc("POST /api/instances/{id}/rollback", c.RequireAuth(c.handleRollback))
	mux.HandleFunc("GET /api/instances/{id}/rollback", c.RequireAuth(c.handleGetRollback))
}

func (c *InstancesController) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateInstanceRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.TemplateID == 0 {
		http.Error(w, "templateId is required", http.StatusBadRequest)
		return
	}

	inst, err := c.Engine.CreateInstance(r.Context(), req.TemplateID, req.ExternalID, req.Variables, actorFromContext(r.Context()))
	if err != nil {
		slog.Warn("Instance creation rejected", "template_id", req.TemplateID, "error", err)
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, mapInstanceToApi(inst))
}

func (c *InstancesController) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inst, err := c.Engine.GetInstance(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapInstanceToApi(inst))
}

func (c *InstancesController) handleGetByExternalID(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("externalId")
	if externalID == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}
	inst, err := c.Engine.GetInstanceByExternalID(externalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapInstanceToApi(inst))
}

func (c *InstancesController) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := util.DecodeJSONBody[models.TransitionRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	target := domain.InstanceStatus(req.TargetStatus)
	switch target {
	case domain.StatusRunning, domain.StatusPaused, domain.StatusCancelled,
		domain.StatusCompleted, domain.StatusFailed:
	default:
		http.Error(w, "unknown target status", http.StatusBadRequest)
		return
	}

	inst, err := c.Engine.Transition(r.Context(), id, target, actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapInstanceToApi(inst))
}

func (c *InstancesController) handleStepResult(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	stepID := r.PathValue("stepId")
	if stepID == "" {
		http.Error(w, "stepId is required", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[models.StepResultRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Attempt <= 0 {
		http.Error(w, "attempt must be positive", http.StatusBadRequest)
		return
	}

	exec, err := c.Engine.RecordStepResult(r.Context(), id, stepID, req.Attempt, req.Output, req.Error, actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapStepExecutionToApi(exec))
}

func (c *InstancesController) handleGetSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	steps, err := c.Engine.InstanceSteps(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]models.StepExecutionApiResponse, 0, len(*steps))
	for i := range *steps {
		out = append(out, mapStepExecutionToApi(&(*steps)[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *InstancesController) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	events, err := c.Engine.InstanceEvents(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]models.EventApiResponse, 0, len(*events))
	for i := range *events {
		out = append(out, mapEventToApi(&(*events)[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *InstancesController) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := util.DecodeJSONBody[models.RollbackRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	rb, err := c.Engine.Rollback(r.Context(), id, req.Reason, actorFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapRollbackToApi(rb))
}

func (c *InstancesController) handleGetRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rb, err := c.Engine.GetRollback(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapRollbackToApi(rb))
}

func (c *InstancesController) handleSearchInstances(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.SearchInstancesRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	instances, err := c.Engine.SearchInstances(req)
	if err != nil {
		slog.Error("Instance search failed", "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	out := make([]models.InstanceApiResponse, 0, len(*instances))
	for i := range *instances {
		out = append(out, mapInstanceToApi(&(*instances)[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *InstancesController) handleOverview(w http.ResponseWriter, r *http.Request) {
	rows, err := c.Engine.InstanceOverview()
	if err != nil {
		slog.Error("Overview query failed", "error", err)
		http.Error(w, "overview failed", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, rows)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
