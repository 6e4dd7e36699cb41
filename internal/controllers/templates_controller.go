package controllers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/util"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// TemplatesController exposes template publishing and introspection.
type TemplatesController struct {
	AuthController
	Store  *engine.TemplateStore
	Engine *engine.Engine
}

func NewTemplatesController(store *engine.TemplateStore, eng *engine.Engine, userRepo engine.UserRepo) *TemplatesController {
	return &TemplatesController{
		Store:          store,
		Engine:         eng,
		AuthController: AuthController{UserRepo: userRepo},
	}
}

func (c *TemplatesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/templates", c.RequireAuth(c.handlePublishTemplate))
	mux.HandleFunc("GET /api/templates", c.RequireAuth(c.handleListTemplates))
	mux.HandleFunc("GET /api/templates/stats", c.RequireAuth(c.handleTemplateStats))
	mux.HandleFunc("GET /api/templates/{id}", c.RequireAuth(c.handleGetTemplate))
	mux.HandleFunc("POST /api/templates/{id}/active", c.RequireAuth(c.handleSetActive))
}

func (c *TemplatesController) handlePublishTemplate(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.PublishTemplateRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	tmpl, err := c.Store.Publish(r.Context(), req, actorFromContext(r.Context()))
	if err != nil {
		slog.Warn("Template publish rejected", "name", req.Name, "error", err)
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusCreated, mapTemplateToApi(tmpl))
}

func (c *TemplatesController) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := c.Store.List()
	if err != nil {
		slog.Error("Failed to list templates", "error", err)
		http.Error(w, "failed to list templates", http.StatusInternalServerError)
		return
	}
	out := make([]models.TemplateApiResponse, 0, len(*templates))
	for i := range *templates {
		out = append(out, mapTemplateToApi(&(*templates)[i]))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *TemplatesController) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	tmpl, err := c.Store.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapTemplateToApi(tmpl))
}

func (c *TemplatesController) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[struct {
		Active bool `json:"active"`
	}](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := c.Store.SetActive(id, req.Active); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *TemplatesController) handleTemplateStats(w http.ResponseWriter, r *http.Request) {
	rows, err := c.Engine.TemplateStats()
	if err != nil {
		slog.Error("Failed to compute template stats", "error", err)
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapTemplateStatsToApi(rows))
}
