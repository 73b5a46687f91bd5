package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"phivault/internal/linker"
	"phivault/internal/transport/http/shared"
	dErrors "phivault/pkg/domain-errors"
)

// LinkerService defines the concept linking operations the transport exposes.
type LinkerService interface {
	Available() bool
	LinkSpans(ctx context.Context, doc string, spans []linker.Span) ([][]linker.Concept, error)
}

// LinkerHandler handles the concept linking endpoint.
type LinkerHandler struct {
	linker LinkerService
	logger *slog.Logger
}

func NewLinkerHandler(linkerSvc LinkerService, logger *slog.Logger) *LinkerHandler {
	return &LinkerHandler{linker: linkerSvc, logger: logger}
}

// Register mounts the linker routes.
func (h *LinkerHandler) Register(r chi.Router) {
	r.Post("/link", h.handleLink)
}

type linkRequest struct {
	Doc   string        `json:"doc"`
	Spans []linker.Span `json:"spans"`
}

type linkResponse struct {
	Available bool               `json:"available"`
	Results   [][]linker.Concept `json:"results"`
}

func (h *LinkerHandler) handleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	results, err := h.linker.LinkSpans(ctx, req.Doc, req.Spans)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if results == nil {
		results = [][]linker.Concept{}
	}
	shared.WriteJSON(w, http.StatusOK, linkResponse{
		Available: h.linker.Available(),
		Results:   results,
	})
}
