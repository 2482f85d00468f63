package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
	"github.com/dapurlaras/pos-api/internal/middleware"
	"github.com/dapurlaras/pos-api/internal/service"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// ApprovalServicer defines the item-removal approval operations the handler
// needs.
type ApprovalServicer interface {
	RequestCancellation(ctx context.Context, req service.RequestCancellationRequest) (database.ApprovalRequest, error)
	Resolve(ctx context.Context, req service.ApprovalDecisionRequest) (*service.ResolveResult, error)
}

// ApprovalReadStore is the read-only slice of the store the handler queries
// directly. Satisfied by *database.Queries.
type ApprovalReadStore interface {
	ListPendingApprovalRequests(ctx context.Context) ([]database.ApprovalRequest, error)
	ListDeletionLog(ctx context.Context, arg database.ListDeletionLogParams) ([]database.DeletionLogEntry, error)
}

type ApprovalHandler struct {
	svc    ApprovalServicer
	store  ApprovalReadStore
	events EventPublisher
}

func NewApprovalHandler(svc ApprovalServicer, store ApprovalReadStore, events EventPublisher) *ApprovalHandler {
	return &ApprovalHandler{svc: svc, store: store, events: events}
}

// RegisterRoutes registers request and listing routes. Resolve is registered
// by the router so it can sit behind the rate limiter.
func (h *ApprovalHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Request)
	r.Get("/", h.ListPending)
}

type createApprovalRequest struct {
	BillID     string `json:"bill_id"`
	BillItemID string `json:"bill_item_id"`
	Reason     string `json:"reason"`
}

type resolveApprovalRequest struct {
	Decision      string `json:"decision"`
	ApproverEmail string `json:"approver_email"`
	ApproverPin   string `json:"approver_pin"`
}

type approvalResponse struct {
	ID            string     `json:"id"`
	BillID        string     `json:"bill_id"`
	BillItemID    string     `json:"bill_item_id"`
	ItemName      string     `json:"item_name"`
	ItemQuantity  int32      `json:"item_quantity"`
	ItemUnitPrice string     `json:"item_unit_price"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	RequestedBy   string     `json:"requested_by"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

type approvalListResponse struct {
	Requests []approvalResponse `json:"requests"`
}

type resolveApprovalResponse struct {
	Request approvalResponse `json:"request"`
	Bill    *billResponse    `json:"bill,omitempty"`
}

type deletionLogEntryResponse struct {
	ID            string    `json:"id"`
	BillID        string    `json:"bill_id"`
	BillNumber    string    `json:"bill_number"`
	ItemName      string    `json:"item_name"`
	ItemQuantity  int32     `json:"item_quantity"`
	ItemUnitPrice string    `json:"item_unit_price"`
	Reason        string    `json:"reason"`
	RequestedBy   string    `json:"requested_by"`
	ApprovedBy    string    `json:"approved_by"`
	RequestedAt   time.Time `json:"requested_at"`
	DeletedAt     time.Time `json:"deleted_at"`
}

type deletionLogResponse struct {
	Entries []deletionLogEntryResponse `json:"entries"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

// Request handles POST /approvals. Any cashier can file one, the removal
// itself waits for a manager.
func (h *ApprovalHandler) Request(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req createApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	billID, err := uuid.Parse(req.BillID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill_id"})
		return
	}
	itemID, err := uuid.Parse(req.BillItemID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill_item_id"})
		return
	}

	request, err := h.svc.RequestCancellation(r.Context(), service.RequestCancellationRequest{
		BillID:      billID,
		BillItemID:  itemID,
		Reason:      req.Reason,
		RequestedBy: claims.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBillNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrItemNotOnBill):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrReasonRequired):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case isApprovalConflictError(err):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: creating approval request: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toApprovalResponse(request)
	h.events.Publish(ws.EventApprovalRequested, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// ListPending handles GET /approvals. Only pending requests are listable,
// resolved ones live on in the deletion log.
func (h *ApprovalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" && status != enum.ApprovalStatusPending {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only PENDING requests can be listed"})
		return
	}

	requests, err := h.store.ListPendingApprovalRequests(r.Context())
	if err != nil {
		log.Printf("ERROR: listing approval requests: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := approvalListResponse{Requests: make([]approvalResponse, 0, len(requests))}
	for _, req := range requests {
		resp.Requests = append(resp.Requests, toApprovalResponse(req))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Resolve handles POST /approvals/{id}/resolve. The manager credentials ride
// in the body, whoever is logged in at the terminal does not matter.
func (h *ApprovalHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid approval request id"})
		return
	}

	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.Resolve(r.Context(), service.ApprovalDecisionRequest{
		RequestID:     id,
		Decision:      req.Decision,
		ApproverEmail: req.ApproverEmail,
		ApproverPIN:   req.ApproverPin,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrApprovalNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidDecision):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrNotAuthorized):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		case isApprovalConflictError(err) || isBillConflictError(err):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: resolving approval request: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := resolveApprovalResponse{Request: toApprovalResponse(result.Request)}
	if result.Bill != nil {
		bill := toBillResponse(*result.Bill, result.Items)
		resp.Bill = &bill
		h.events.Publish(ws.EventBillUpdated, bill)
	}
	h.events.Publish(ws.EventApprovalResolved, resp.Request)
	writeJSON(w, http.StatusOK, resp)
}

// DeletionLog handles GET /deletion-log.
func (h *ApprovalHandler) DeletionLog(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	entries, err := h.store.ListDeletionLog(r.Context(), database.ListDeletionLogParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: listing deletion log: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := deletionLogResponse{
		Entries: make([]deletionLogEntryResponse, 0, len(entries)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, toDeletionLogEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toApprovalResponse(req database.ApprovalRequest) approvalResponse {
	return approvalResponse{
		ID:            req.ID.String(),
		BillID:        req.BillID.String(),
		BillItemID:    req.BillItemID.String(),
		ItemName:      req.ItemName,
		ItemQuantity:  req.ItemQuantity,
		ItemUnitPrice: numericToString(req.ItemUnitPrice),
		Reason:        req.Reason,
		Status:        req.Status,
		RequestedBy:   req.RequestedBy.String(),
		ResolvedBy:    uuidPtr(req.ResolvedBy),
		RequestedAt:   req.RequestedAt,
		ResolvedAt:    timePtr(req.ResolvedAt),
	}
}

func toDeletionLogEntryResponse(entry database.DeletionLogEntry) deletionLogEntryResponse {
	return deletionLogEntryResponse{
		ID:            entry.ID.String(),
		BillID:        entry.BillID.String(),
		BillNumber:    entry.BillNumber,
		ItemName:      entry.ItemName,
		ItemQuantity:  entry.ItemQuantity,
		ItemUnitPrice: numericToString(entry.ItemUnitPrice),
		Reason:        entry.Reason,
		RequestedBy:   entry.RequestedBy.String(),
		ApprovedBy:    entry.ApprovedBy.String(),
		RequestedAt:   entry.RequestedAt,
		DeletedAt:     entry.DeletedAt,
	}
}

// isApprovalConflictError reports whether err means the request or its item
// is in a state that refuses the operation.
func isApprovalConflictError(err error) bool {
	return errors.Is(err, service.ErrApprovalResolved) ||
		errors.Is(err, service.ErrApprovalPending) ||
		errors.Is(err, service.ErrItemChanged) ||
		errors.Is(err, service.ErrLastItem)
}
