package controllers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowgrid/flowgrid/internal/engine"
	"github.com/flowgrid/flowgrid/internal/util"
	"github.com/flowgrid/flowgrid/pkg/flowgrid/models"
)

// ApprovalsController exposes approval chains and decision recording.
type ApprovalsController struct {
	AuthController
	Engine *engine.Engine
}

func NewApprovalsController(eng *engine.Engine, userRepo engine.UserRepo) *ApprovalsController {
	return &ApprovalsController{
		Engine:         eng,
		AuthController: AuthController{UserRepo: userRepo},
	}
}

func (c *ApprovalsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chains/{id}", c.RequireAuth(c.handleGetChain))
	mux.HandleFunc("POST /api/chains/{id}/decision", c.RequireAuth(c.handleDecision))
}

func (c *ApprovalsController) handleGetChain(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	chain, err := c.Engine.GetChain(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapChainToApi(chain))
}

func (c *ApprovalsController) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[models.DecisionRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	// The approver defaults to the authenticated caller; an explicit id in
	// the payload allows service accounts to relay decisions.
	approverID := req.ApproverID
	if approverID == "" {
		approverID = actorFromContext(r.Context())
	}

	chain, err := c.Engine.RecordDecision(r.Context(), id, approverID, req.Approved, req.Comments)
	if err != nil {
		slog.Warn("Decision rejected", "chain_id", id, "approver", approverID, "error", err)
		writeDomainError(w, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, mapChainToApi(chain))
}
