package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phivault/internal/feedback"
	"phivault/internal/transport/http/shared"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
)

// FeedbackService defines the scoring operations the transport exposes.
type FeedbackService interface {
	Submit(ctx context.Context, procedureID domain.ProcedureID, notes string) (*feedback.Feedback, error)
	Get(ctx context.Context, procedureID domain.ProcedureID) (*feedback.Feedback, error)
}

// FeedbackHandler handles the scrubbing feedback endpoints.
type FeedbackHandler struct {
	feedback FeedbackService
	logger   *slog.Logger
}

func NewFeedbackHandler(feedbackSvc FeedbackService, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedbackSvc, logger: logger}
}

// Register mounts the feedback routes.
func (h *FeedbackHandler) Register(r chi.Router) {
	r.Post("/procedures/{id}/feedback", h.handleSubmit)
	r.Get("/procedures/{id}/feedback", h.handleGet)
}

type submitFeedbackRequest struct {
	Notes string `json:"notes"`
}

type feedbackResponse struct {
	ID          string          `json:"id"`
	ProcedureID string          `json:"procedure_id"`
	ReviewerID  string          `json:"reviewer_id"`
	Scores      feedback.Scores `json:"scores"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toFeedbackResponse(fb *feedback.Feedback) feedbackResponse {
	return feedbackResponse{
		ID:          fb.ID.String(),
		ProcedureID: fb.ProcedureID.String(),
		ReviewerID:  fb.ReviewerID,
		Scores:      fb.Scores,
		Notes:       fb.Notes,
		CreatedAt:   fb.CreatedAt,
		UpdatedAt:   fb.UpdatedAt,
	}
}

func (h *FeedbackHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req submitFeedbackRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
			return
		}
	}

	fb, err := h.feedback.Submit(ctx, id, req.Notes)
	if err != nil {
		h.logger.WarnContext(ctx, "feedback submit failed",
			"procedure_id", id.String(),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toFeedbackResponse(fb))
}

func (h *FeedbackHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	fb, err := h.feedback.Get(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toFeedbackResponse(fb))
}
