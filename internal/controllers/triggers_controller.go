package controllers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/util"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// TriggersController exposes trigger and schedule registration plus event
// ingestion.
type TriggersController struct {
	AuthController
	Engine    *engine.Engine
	Scheduler *engine.Scheduler
}

func NewTriggersController(eng *engine.Engine, scheduler *engine.Scheduler, userRepo engine.UserRepo) *TriggersController {
	return &TriggersController{
		Engine:         eng,
		Scheduler:      scheduler,
		AuthController: AuthController{UserRepo: userRepo},
	}
}

func (c *TriggersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/triggers", c.RequireAuth(c.handleRegisterTrigger))
	mux.HandleFunc("GET /api/triggers/{id}", c.RequireAuth(c.handleGetTrigger))
	mux.HandleFunc("POST /api/triggers/{id}/enabled", c.RequireAuth(c.handleSetTriggerEnabled))
	mux.HandleFunc("POST /api/schedules", c.RequireAuth(c.handleRegisterSchedule))
	mux.HandleFunc("GET /api/schedules/{id}", c.RequireAuth(c.handleGetSchedule))
	mux.HandleFunc("POST /api/events", c.RequireAuth(c.handleIngestEvent))
}

func (c *TriggersController) handleRegisterTrigger(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.RegisterTriggerRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	trigger, err := c.Engine.RegisterTrigger(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, models.CreateResponse{ID: trigger.ID})
}

func (c *TriggersController) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	trigger, err := c.Engine.GetTrigger(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapTriggerToApi(trigger))
}

func (c *TriggersController) handleSetTriggerEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[struct {
		Enabled bool `json:"enabled"`
	}](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := c.Engine.SetTriggerEnabled(id, req.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *TriggersController) handleRegisterSchedule(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.RegisterScheduleRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	sched, err := c.Scheduler.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, models.CreateResponse{ID: sched.ID})
}

func (c *TriggersController) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	sched, err := c.Scheduler.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapScheduleToApi(sched))
}

func (c *TriggersController) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.IngestEventRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.EventKey == "" {
		http.Error(w, "eventKey is required", http.StatusBadRequest)
		return
	}

	fired, err := c.Engine.HandleEvent(r.Context(), req.EventKey, req.Payload, actorFromContext(r.Context()))
	if err != nil {
		slog.Error("Event ingest failed", "event_key", req.EventKey, "error", err)
		http.Error(w, "event ingest failed", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, map[string]int{"fired": fired})
}
