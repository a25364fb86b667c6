// Package httpapi exposes the Action Authority governance core's five
// public operations over HTTP using chi.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"quantumlife/internal/authority"
	"quantumlife/internal/authority/policy"
	"quantumlife/internal/authority/workorder"
	"quantumlife/internal/log"
)

// Server exposes Core over HTTP.
type Server struct {
	core   *authority.Core
	router chi.Router
}

// New builds a Server with routes registered.
func New(core *authority.Core) *Server {
	s := &Server{core: core, router: chi.NewRouter()}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

// Router returns the http.Handler to mount or serve directly.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Post("/v1/proposals", s.handleSubmitProposal)
	s.router.Post("/v1/proposals/{id}/advance", s.handleAdvance)
	s.router.Post("/v1/work-orders/{id}/attestations", s.handleAttest)
	s.router.Post("/v1/dispatch", s.handleDispatch)
	s.router.Get("/v1/forensic-log/verify", s.handleVerify)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type submitProposalRequest struct {
	ActionID string `json:"action_id"`
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var req submitProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inst := s.core.SubmitProposal(req.ActionID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"action_id": inst.ID(),
		"state":     string(inst.State()),
	})
}

type advanceRequest struct {
	Op     string `json:"op"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, ok := s.core.Instance(id)
	if !ok {
		writeError(w, http.StatusNotFound, errNotFound("proposal", id))
		return
	}
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch req.Op {
	case "reveal":
		err = inst.Reveal()
	case "arm_preview":
		err = inst.ArmPreview()
	case "confirm_ready":
		err = inst.ConfirmReady()
	case "reject":
		err = inst.Reject(req.Reason)
	default:
		writeError(w, http.StatusBadRequest, errUnknownOp(req.Op))
		return
	}
	if err != nil {
		log.WithComponent("httpapi").Warn().Err(err).Str("action_id", id).Msg("advance rejected")
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action_id": id, "state": string(inst.State())})
}

type attestRequest struct {
	SessionID string              `json:"session_id"`
	RiskLevel workorder.RiskLevel `json:"risk_level"`
	Signature string              `json:"signature"`
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req attestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	complete := s.core.Quorum.Register(id, req.RiskLevel, req.SessionID, time.Now(), req.Signature)
	writeJSON(w, http.StatusOK, map[string]any{"work_order_id": id, "complete": complete})
}

type dispatchRequest struct {
	WorkOrder   workorder.WorkOrder    `json:"work_order"`
	SessionID   string                 `json:"session_id"`
	LeaseID     string                 `json:"lease_id,omitempty"`
	SemanticCtx policy.SemanticContext `json:"semantic_context"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order := req.WorkOrder
	result, err := s.core.Dispatcher.Dispatch(r.Context(), &order, req.SessionID, req.LeaseID, req.SemanticCtx)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := s.core.Forensic.VerifyAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
