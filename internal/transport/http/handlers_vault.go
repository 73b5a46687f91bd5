package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phivault/internal/audit"
	"phivault/internal/transport/http/shared"
	"phivault/internal/vault"
	"phivault/pkg/domain"
	dErrors "phivault/pkg/domain-errors"
	"phivault/pkg/requestcontext"
)

// VaultService defines the vault operations the transport exposes.
type VaultService interface {
	Store(ctx context.Context, plaintext string) (*vault.Record, error)
	Decrypt(ctx context.Context, id domain.VaultID) (string, error)
	Reidentify(ctx context.Context, id domain.VaultID) (string, error)
	Describe(ctx context.Context, id domain.VaultID) (*vault.Record, error)
	SoftDelete(ctx context.Context, id domain.VaultID) error
}

// AuditReader exposes the ledger's query side.
type AuditReader interface {
	ListByVault(ctx context.Context, vaultID domain.VaultID) ([]audit.Entry, error)
	ListByProcedure(ctx context.Context, procedureID domain.ProcedureID) ([]audit.Entry, error)
}

// VaultHandler handles the vault endpoints. Ciphertext never appears in a
// response: metadata endpoints return hashes and versions, the decrypt
// endpoints return plaintext only after the service's audit-and-authorize
// path has run.
type VaultHandler struct {
	vault  VaultService
	ledger AuditReader
	logger *slog.Logger
}

func NewVaultHandler(vaultSvc VaultService, ledger AuditReader, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{vault: vaultSvc, ledger: ledger, logger: logger}
}

// Register mounts the vault routes.
func (h *VaultHandler) Register(r chi.Router) {
	r.Post("/vault", h.handleStore)
	r.Get("/vault/{id}", h.handleDescribe)
	r.Delete("/vault/{id}", h.handleSoftDelete)
	r.Post("/vault/{id}/decrypt", h.handleDecrypt)
	r.Post("/vault/{id}/reidentify", h.handleReidentify)
	r.Get("/vault/{id}/audit", h.handleAuditTrail)
}

type storeRequest struct {
	Text string `json:"text"`
}

type vaultRecordResponse struct {
	ID          string     `json:"id"`
	PayloadHash string     `json:"payload_hash"`
	Algorithm   string     `json:"encryption_algorithm"`
	KeyVersion  int        `json:"key_version"`
	IsDeleted   bool       `json:"is_deleted"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func toVaultResponse(record *vault.Record) vaultRecordResponse {
	return vaultRecordResponse{
		ID:          record.ID.String(),
		PayloadHash: record.PayloadHash,
		Algorithm:   record.EncryptionAlgorithm,
		KeyVersion:  record.KeyVersion,
		IsDeleted:   record.IsDeleted,
		CreatedBy:   record.CreatedBy,
		CreatedAt:   record.CreatedAt,
		DeletedAt:   record.DeletedAt,
	}
}

func (h *VaultHandler) handleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Text == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "text is required"))
		return
	}

	record, err := h.vault.Store(ctx, req.Text)
	if err != nil {
		h.logger.WarnContext(ctx, "vault store failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toVaultResponse(record))
}

func (h *VaultHandler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseVaultID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	record, err := h.vault.Describe(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toVaultResponse(record))
}

func (h *VaultHandler) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseVaultID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.vault.SoftDelete(r.Context(), id); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type plaintextResponse struct {
	Text string `json:"text"`
}

func (h *VaultHandler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, h.vault.Decrypt)
}

func (h *VaultHandler) handleReidentify(w http.ResponseWriter, r *http.Request) {
	h.open(w, r, h.vault.Reidentify)
}

func (h *VaultHandler) open(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.VaultID) (string, error)) {
	ctx := r.Context()
	id, err := domain.ParseVaultID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	plaintext, err := fn(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "vault open failed",
			"request_id", requestcontext.RequestID(ctx),
			"vault_id", id.String(),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, plaintextResponse{Text: plaintext})
}

type auditEntryResponse struct {
	ID          string            `json:"id"`
	Sequence    int64             `json:"sequence"`
	Timestamp   time.Time         `json:"timestamp"`
	Action      string            `json:"action"`
	ActorID     string            `json:"actor_id"`
	VaultID     string            `json:"vault_id,omitempty"`
	ProcedureID string            `json:"procedure_id,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
}

func toAuditResponses(entries []audit.Entry) []auditEntryResponse {
	out := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp := auditEntryResponse{
			ID:        entry.ID.String(),
			Sequence:  entry.Sequence,
			Timestamp: entry.Timestamp,
			Action:    string(entry.Action),
			ActorID:   entry.ActorID,
			Detail:    entry.Detail,
			Metadata:  entry.Metadata,
			RequestID: entry.RequestID,
		}
		if entry.VaultID != nil {
			resp.VaultID = entry.VaultID.String()
		}
		if entry.ProcedureID != nil {
			resp.ProcedureID = entry.ProcedureID.String()
		}
		out = append(out, resp)
	}
	return out
}

func (h *VaultHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseVaultID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.ledger.ListByVault(r.Context(), id)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toAuditResponses(entries))
}
