package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
)

// AttemptHandler submits opportunities and reads attempt history.
type AttemptHandler struct {
	orch   *orchestrator.Orchestrator
	store  domain.AttemptStore
	logger *slog.Logger
}

// NewAttemptHandler creates an AttemptHandler.
func NewAttemptHandler(orch *orchestrator.Orchestrator, store domain.AttemptStore, logger *slog.Logger) *AttemptHandler {
	return &AttemptHandler{orch: orch, store: store, logger: logger.With(slog.String("handler", "attempts"))}
}

type attemptFailure struct {
	Error     string                 `json:"error"`
	Class     domain.ErrorClass      `json:"class,omitempty"`
	Retriable bool                   `json:"retriable"`
	Result    domain.ExecutionResult `json:"result"`
}

// Execute runs one attempt for the signed caller.
// POST /api/attempts
func (h *AttemptHandler) Execute(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var opp domain.Opportunity
	if err := decodeJSON(w, r, &opp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.orch.Attempt(r.Context(), opp, who)
	if err != nil {
		writeJSON(w, statusFor(err, http.StatusInternalServerError), attemptFailure{
			Error:     err.Error(),
			Class:     domain.ClassOf(err),
			Retriable: domain.IsRetriable(err),
			Result:    res,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// List returns recent attempts, newest first.
// GET /api/attempts?limit=&offset=&since=&until=
func (h *AttemptHandler) List(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list attempts failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if out == nil {
		out = []domain.ExecutionResult{}
	}
	writeJSON(w, http.StatusOK, out)
}

// Get returns one attempt.
// GET /api/attempts/{id}
func (h *AttemptHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
