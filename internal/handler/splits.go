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
	"github.com/jackc/pgx/v5"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/middleware"
	"github.com/dapurlaras/pos-api/internal/service"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// SplitServicer defines the split session operations the handler needs.
type SplitServicer interface {
	OpenSplit(ctx context.Context, req service.OpenSplitRequest) (*service.SplitDetail, error)
	AddPart(ctx context.Context, billID uuid.UUID, assigneeName string) (database.SplitPart, error)
	RemovePart(ctx context.Context, billID, partID uuid.UUID) error
	Allocate(ctx context.Context, req service.AllocateRequest) (*service.SplitDetail, error)
	CancelSplit(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
}

// SplitReadStore is the read-only slice of the store the handler queries
// directly. Satisfied by *database.Queries.
type SplitReadStore interface {
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
	ListSplitPartsBySession(ctx context.Context, sessionID uuid.UUID) ([]database.SplitPart, error)
	ListSplitAllocationsBySession(ctx context.Context, sessionID uuid.UUID) ([]database.SplitAllocation, error)
}

type SplitHandler struct {
	svc    SplitServicer
	store  SplitReadStore
	events EventPublisher
}

func NewSplitHandler(svc SplitServicer, store SplitReadStore, events EventPublisher) *SplitHandler {
	return &SplitHandler{svc: svc, store: store, events: events}
}

// RegisterRoutes registers split routes under /bills/{id}/split.
func (h *SplitHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Open)
	r.Get("/", h.Get)
	r.Delete("/", h.Cancel)
	r.Post("/parts", h.AddPart)
	r.Delete("/parts/{partID}", h.RemovePart)
	r.Put("/parts/{partID}/allocations", h.Allocate)
}

type openSplitRequest struct {
	PartCount     int32    `json:"part_count"`
	AssigneeNames []string `json:"assignee_names"`
}

type addPartRequest struct {
	AssigneeName string `json:"assignee_name"`
}

type allocateRequest struct {
	BillItemID string `json:"bill_item_id"`
	Quantity   int32  `json:"quantity"`
}

type splitPartResponse struct {
	ID           string     `json:"id"`
	PartNumber   int32      `json:"part_number"`
	AssigneeName *string    `json:"assignee_name,omitempty"`
	Paid         bool       `json:"paid"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
}

type splitAllocationResponse struct {
	PartID     string `json:"part_id"`
	BillItemID string `json:"bill_item_id"`
	Quantity   int32  `json:"quantity"`
}

type splitSessionResponse struct {
	ID          string                    `json:"id"`
	BillID      string                    `json:"bill_id"`
	Status      string                    `json:"status"`
	CreatedBy   string                    `json:"created_by"`
	CreatedAt   time.Time                 `json:"created_at"`
	ClosedAt    *time.Time                `json:"closed_at,omitempty"`
	Parts       []splitPartResponse       `json:"parts,omitempty"`
	Allocations []splitAllocationResponse `json:"allocations,omitempty"`
}

// Open handles POST /bills/{id}/split.
func (h *SplitHandler) Open(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	billID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	var req openSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	detail, err := h.svc.OpenSplit(r.Context(), service.OpenSplitRequest{
		BillID:        billID,
		CreatedBy:     claims.UserID,
		PartCount:     req.PartCount,
		AssigneeNames: req.AssigneeNames,
	})
	if err != nil {
		h.respondSplitError(w, "opening split", err)
		return
	}

	h.publishSplitUpdate(billID)
	writeJSON(w, http.StatusCreated, toSplitSessionResponse(detail.Session, detail.Parts, detail.Allocations))
}

// Get handles GET /bills/{id}/split. Returns the active session only.
func (h *SplitHandler) Get(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	session, err := h.store.GetActiveSplitSessionByBill(r.Context(), billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": service.ErrSplitSessionNotFound.Error()})
			return
		}
		log.Printf("ERROR: fetching split session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	parts, err := h.store.ListSplitPartsBySession(r.Context(), session.ID)
	if err != nil {
		log.Printf("ERROR: fetching split parts: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	allocations, err := h.store.ListSplitAllocationsBySession(r.Context(), session.ID)
	if err != nil {
		log.Printf("ERROR: fetching split allocations: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toSplitSessionResponse(session, parts, allocations))
}

// AddPart handles POST /bills/{id}/split/parts.
func (h *SplitHandler) AddPart(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	var req addPartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	part, err := h.svc.AddPart(r.Context(), billID, req.AssigneeName)
	if err != nil {
		h.respondSplitError(w, "adding split part", err)
		return
	}

	h.publishSplitUpdate(billID)
	writeJSON(w, http.StatusCreated, toSplitPartResponse(part))
}

// RemovePart handles DELETE /bills/{id}/split/parts/{partID}.
func (h *SplitHandler) RemovePart(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}
	partID, err := uuid.Parse(chi.URLParam(r, "partID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid part id"})
		return
	}

	if err := h.svc.RemovePart(r.Context(), billID, partID); err != nil {
		h.respondSplitError(w, "removing split part", err)
		return
	}

	h.publishSplitUpdate(billID)
	w.WriteHeader(http.StatusNoContent)
}

// Allocate handles PUT /bills/{id}/split/parts/{partID}/allocations. One call
// sets one item's quantity on one part; quantity 0 clears it.
func (h *SplitHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}
	partID, err := uuid.Parse(chi.URLParam(r, "partID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid part id"})
		return
	}

	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	itemID, err := uuid.Parse(req.BillItemID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill_item_id"})
		return
	}

	detail, err := h.svc.Allocate(r.Context(), service.AllocateRequest{
		BillID:     billID,
		PartID:     partID,
		BillItemID: itemID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.respondSplitError(w, "allocating split item", err)
		return
	}

	h.publishSplitUpdate(billID)
	writeJSON(w, http.StatusOK, toSplitSessionResponse(detail.Session, detail.Parts, detail.Allocations))
}

// Cancel handles DELETE /bills/{id}/split.
func (h *SplitHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	session, err := h.svc.CancelSplit(r.Context(), billID)
	if err != nil {
		h.respondSplitError(w, "cancelling split", err)
		return
	}

	h.publishSplitUpdate(billID)
	writeJSON(w, http.StatusOK, toSplitSessionResponse(session, nil, nil))
}

// publishSplitUpdate tells terminals to refetch the split view of a bill.
func (h *SplitHandler) publishSplitUpdate(billID uuid.UUID) {
	h.events.Publish(ws.EventSplitUpdated, map[string]string{"bill_id": billID.String()})
}

func (h *SplitHandler) respondSplitError(w http.ResponseWriter, op string, err error) {
	var capErr *service.CapacityError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     capErr.Error(),
			"item_name": capErr.ItemName,
			"requested": capErr.Requested,
			"remaining": capErr.Remaining,
		})
	case errors.Is(err, service.ErrBillNotFound),
		errors.Is(err, service.ErrSplitSessionNotFound),
		errors.Is(err, service.ErrPartNotFound),
		errors.Is(err, service.ErrItemNotOnBill):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrMinParts),
		errors.Is(err, service.ErrAllocationQuantity):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrSplitSessionExists),
		errors.Is(err, service.ErrPartPaid),
		errors.Is(err, service.ErrCancelPaidParts),
		errors.Is(err, service.ErrBillDiscountSplit),
		isBillConflictError(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func toSplitPartResponse(part database.SplitPart) splitPartResponse {
	return splitPartResponse{
		ID:           part.ID.String(),
		PartNumber:   part.PartNumber,
		AssigneeName: textPtr(part.AssigneeName),
		Paid:         part.Paid,
		PaidAt:       timePtr(part.PaidAt),
	}
}

func toSplitSessionResponse(session database.SplitSession, parts []database.SplitPart, allocations []database.SplitAllocation) splitSessionResponse {
	resp := splitSessionResponse{
		ID:        session.ID.String(),
		BillID:    session.BillID.String(),
		Status:    session.Status,
		CreatedBy: session.CreatedBy.String(),
		CreatedAt: session.CreatedAt,
		ClosedAt:  timePtr(session.ClosedAt),
	}
	for _, part := range parts {
		resp.Parts = append(resp.Parts, toSplitPartResponse(part))
	}
	for _, a := range allocations {
		resp.Allocations = append(resp.Allocations, splitAllocationResponse{
			PartID:     a.PartID.String(),
			BillItemID: a.BillItemID.String(),
			Quantity:   a.Quantity,
		})
	}
	return resp
}
