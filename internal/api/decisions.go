// Package api exposes the decision pipeline over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/solvency-gateway/internal/core/domain"
	"github.com/tjfontaine/solvency-gateway/internal/core/ports"
	"github.com/tjfontaine/solvency-gateway/internal/server"
)

const maxRequestBytes = 1 << 20

// DecisionRequest is the body of POST /v1/decisions.
type DecisionRequest struct {
	ClientID    string `json:"client_id"`
	LoanRequest string `json:"loan_request"`
}

// Handler serves the decision API.
type Handler struct {
	service ports.DecisionService
	logger  *slog.Logger
}

func NewHandler(service ports.DecisionService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Post("/v1/decisions", h.HandleCreateDecision)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreateDecision runs the pipeline for one client. Only request
// validation fails the call; stage failures are reported inside the decision.
func (h *Handler) HandleCreateDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DecisionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		server.AddError(ctx, err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, domain.ErrInvalidRequest("request body too large").
				WithStatusCode(http.StatusRequestEntityTooLarge))
			return
		}
		writeError(w, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		writeError(w, domain.ErrInvalidRequest("client_id is required").WithParam("client_id"))
		return
	}
	server.AddLogField(ctx, "client_id", req.ClientID)

	decision := h.service.GetDecision(ctx, req.ClientID, req.LoanRequest)
	if decision == nil {
		h.logger.ErrorContext(ctx, "pipeline returned no decision", slog.String("client_id", req.ClientID))
		writeError(w, domain.ErrServer("no decision produced"))
		return
	}

	server.AddLogField(ctx, "solvency_status", string(decision.SolvencyStatus))
	if len(decision.DegradedStages) > 0 {
		server.AddLogField(ctx, "degraded_stages", strings.Join(decision.DegradedStages, ","))
	}
	writeJSON(w, http.StatusOK, decision)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, apiErr *domain.APIError) {
	writeJSON(w, apiErr.HTTPStatusCode(), map[string]*domain.APIError{"error": apiErr})
}
