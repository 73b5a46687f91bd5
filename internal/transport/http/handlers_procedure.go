package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"phivault/internal/procedure"
	"phivault/internal/transport/http/shared"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/requestcontext"
)

// ProcedureService defines the lifecycle operations the transport exposes.
type ProcedureService interface {
	Create(ctx context.Context, in procedure.CreateInput) (*procedure.Record, error)
	Get(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error)
	StartReview(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error)
	ConfirmEntity(ctx context.Context, id domain.ProcedureID, index int) (*procedure.Record, error)
	UnflagEntity(ctx context.Context, id domain.ProcedureID, index int) (*procedure.Record, error)
	AddEntity(ctx context.Context, id domain.ProcedureID, entity procedure.Entity) (*procedure.Record, error)
	ConfirmPHI(ctx context.Context, id domain.ProcedureID, signOff bool) (*procedure.Record, error)
	Process(ctx context.Context, id domain.ProcedureID, infer procedure.InferenceFunc) (*procedure.Record, error)
	Fail(ctx context.Context, id domain.ProcedureID, cause string) (*procedure.Record, error)
	CloseReview(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error)
	Resubmit(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error)
}

// ProcedureHandler handles the procedure record lifecycle endpoints.
type ProcedureHandler struct {
	procedures ProcedureService
	ledger     AuditReader
	infer      procedure.InferenceFunc
	logger     *slog.Logger
}

func NewProcedureHandler(procedures ProcedureService, ledger AuditReader, infer procedure.InferenceFunc, logger *slog.Logger) *ProcedureHandler {
	return &ProcedureHandler{
		procedures: procedures,
		ledger:     ledger,
		infer:      infer,
		logger:     logger,
	}
}

// Register mounts the procedure routes.
func (h *ProcedureHandler) Register(r chi.Router) {
	r.Post("/procedures", h.handleCreate)
	r.Get("/procedures/{id}", h.handleGet)
	r.Get("/procedures/{id}/audit", h.handleAuditTrail)
	r.Post("/procedures/{id}/review", h.handleStartReview)
	r.Post("/procedures/{id}/entities", h.handleAddEntity)
	r.Post("/procedures/{id}/entities/{index}/confirm", h.handleConfirmEntity)
	r.Post("/procedures/{id}/entities/{index}/unflag", h.handleUnflagEntity)
	r.Post("/procedures/{id}/confirm", h.handleConfirmPHI)
	r.Post("/procedures/{id}/process", h.handleProcess)
	r.Post("/procedures/{id}/fail", h.handleFail)
	r.Post("/procedures/{id}/close", h.handleCloseReview)
	r.Post("/procedures/{id}/resubmit", h.handleResubmit)
}

type createProcedureRequest struct {
	VaultID          string             `json:"vault_id"`
	ScrubbedText     string             `json:"scrubbed_text"`
	OriginalTextHash string             `json:"original_text_hash"`
	EntityMap        []procedure.Entity `json:"entity_map"`
}

type procedureResponse struct {
	ID               string             `json:"id"`
	VaultID          string             `json:"vault_id"`
	ScrubbedText     string             `json:"scrubbed_text"`
	OriginalTextHash string             `json:"original_text_hash"`
	EntityMap        []procedure.Entity `json:"entity_map"`
	Status           string             `json:"status"`
	CodingResults    json.RawMessage    `json:"coding_results,omitempty"`
	FailureDetail    string             `json:"failure_detail,omitempty"`
	SubmitterID      string             `json:"submitter_id"`
	ReviewerID       string             `json:"reviewer_id,omitempty"`
	Version          int                `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
}

func toProcedureResponse(record *procedure.Record) procedureResponse {
	return procedureResponse{
		ID:               record.ID.String(),
		VaultID:          record.VaultID.String(),
		ScrubbedText:     record.ScrubbedText,
		OriginalTextHash: record.OriginalTextHash,
		EntityMap:        record.EntityMap,
		Status:           string(record.Status),
		CodingResults:    record.CodingResults,
		FailureDetail:    record.FailureDetail,
		SubmitterID:      record.SubmitterID,
		ReviewerID:       record.ReviewerID,
		Version:          record.Version,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
		CompletedAt:      record.CompletedAt,
	}
}

func (h *ProcedureHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createProcedureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	vaultID, err := domain.ParseVaultID(req.VaultID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if req.ScrubbedText == "" || req.OriginalTextHash == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput,
			"scrubbed_text and original_text_hash are required"))
		return
	}

	record, err := h.procedures.Create(ctx, procedure.CreateInput{
		VaultID:          vaultID,
		ScrubbedText:     req.ScrubbedText,
		OriginalTextHash: req.OriginalTextHash,
		EntityMap:        req.EntityMap,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "procedure create failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toProcedureResponse(record))
}

func (h *ProcedureHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.withRecord(w, r, h.procedures.Get)
}

func (h *ProcedureHandler) handleStartReview(w http.ResponseWriter, r *http.Request) {
	h.withRecord(w, r, h.procedures.StartReview)
}

func (h *ProcedureHandler) handleCloseReview(w http.ResponseWriter, r *http.Request) {
	h.withRecord(w, r, h.procedures.CloseReview)
}

func (h *ProcedureHandler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	h.withRecord(w, r, h.procedures.Resubmit)
}

func (h *ProcedureHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	h.withRecord(w, r, func(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error) {
		return h.procedures.Process(ctx, id, h.infer)
	})
}

type failRequest struct {
	Detail string `json:"detail"`
}

func (h *ProcedureHandler) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
			return
		}
	}
	h.withRecord(w, r, func(ctx context.Context, id domain.ProcedureID) (*procedure.Record, error) {
		return h.procedures.Fail(ctx, id, req.Detail)
	})
}

func (h *ProcedureHandler) withRecord(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.ProcedureID) (*procedure.Record, error)) {
	ctx := r.Context()
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	record, err := fn(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "procedure operation failed",
			"request_id", requestcontext.RequestID(ctx),
			"procedure_id", id.String(),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProcedureResponse(record))
}

func (h *ProcedureHandler) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var entity procedure.Entity
	if err := json.NewDecoder(r.Body).Decode(&entity); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	record, err := h.procedures.AddEntity(ctx, id, entity)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProcedureResponse(record))
}

func (h *ProcedureHandler) handleConfirmEntity(w http.ResponseWriter, r *http.Request) {
	h.editEntity(w, r, h.procedures.ConfirmEntity)
}

func (h *ProcedureHandler) handleUnflagEntity(w http.ResponseWriter, r *http.Request) {
	h.editEntity(w, r, h.procedures.UnflagEntity)
}

func (h *ProcedureHandler) editEntity(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.ProcedureID, int) (*procedure.Record, error)) {
	ctx := r.Context()
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "entity index must be an integer"))
		return
	}

	record, err := fn(ctx, id, index)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProcedureResponse(record))
}

type confirmPHIRequest struct {
	SignOff bool `json:"sign_off"`
}

func (h *ProcedureHandler) handleConfirmPHI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req confirmPHIRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
			return
		}
	}

	record, err := h.procedures.ConfirmPHI(ctx, id, req.SignOff)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProcedureResponse(record))
}

func (h *ProcedureHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseProcedureID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.ledger.ListByProcedure(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toAuditResponses(entries))
}
