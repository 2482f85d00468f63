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

// ShiftServicer defines the shift and drawer ledger operations the handler
// needs.
type ShiftServicer interface {
	OpenShift(ctx context.Context, cashierID uuid.UUID, initialCash string) (database.Shift, error)
	ActiveShift(ctx context.Context, cashierID uuid.UUID) (*service.ShiftDetail, error)
	GetShiftDetail(ctx context.Context, id uuid.UUID) (*service.ShiftDetail, error)
	ListShifts(ctx context.Context, status string, limit, offset int32) ([]database.Shift, error)
	PostCashMovement(ctx context.Context, req service.PostMovementRequest) (database.CashMovement, error)
	CloseShift(ctx context.Context, req service.CloseShiftRequest) (*service.CloseShiftResult, error)
}

type ShiftHandler struct {
	svc    ShiftServicer
	events EventPublisher
}

func NewShiftHandler(svc ShiftServicer, events EventPublisher) *ShiftHandler {
	return &ShiftHandler{svc: svc, events: events}
}

// RegisterRoutes registers shift routes. Listing every shift is a
// back-office view, the rest belongs to the cashier on the drawer.
func (h *ShiftHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Open)
	r.Get("/active", h.Active)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/movements", h.PostMovement)
	r.Get("/{id}/movements", h.ListMovements)
	r.Post("/{id}/close", h.Close)
	r.With(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager)).Get("/", h.List)
}

type openShiftRequest struct {
	InitialCash string `json:"initial_cash"`
}

type postMovementRequest struct {
	Direction   string `json:"direction"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type closeShiftRequest struct {
	CountedCash string `json:"counted_cash"`
}

type shiftResponse struct {
	ID             string     `json:"id"`
	CashierID      string     `json:"cashier_id"`
	Status         string     `json:"status"`
	InitialCash    string     `json:"initial_cash"`
	FinalCash      string     `json:"final_cash"`
	SystemCash     string     `json:"system_cash"`
	CashDifference string     `json:"cash_difference"`
	TotalOrders    int32      `json:"total_orders"`
	TotalRevenue   string     `json:"total_revenue"`
	CashRevenue    string     `json:"cash_revenue"`
	NoncashRevenue string     `json:"noncash_revenue"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

type cashMovementResponse struct {
	ID          string    `json:"id"`
	ShiftID     string    `json:"shift_id"`
	CashierID   string    `json:"cashier_id"`
	Direction   string    `json:"direction"`
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

type shiftDetailResponse struct {
	shiftResponse
	Movements []cashMovementResponse `json:"movements"`
}

type shiftListResponse struct {
	Shifts []shiftResponse `json:"shifts"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type closeShiftResponse struct {
	shiftResponse
	Warnings []string `json:"warnings,omitempty"`
}

type movementListResponse struct {
	Movements []cashMovementResponse `json:"movements"`
}

// Open handles POST /shifts.
func (h *ShiftHandler) Open(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req openShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	shift, err := h.svc.OpenShift(r.Context(), claims.UserID, req.InitialCash)
	if err != nil {
		h.respondShiftError(w, "opening shift", err)
		return
	}

	writeJSON(w, http.StatusCreated, toShiftResponse(shift))
}

// Active handles GET /shifts/active. Returns the calling cashier's open
// shift with its movement ledger.
func (h *ShiftHandler) Active(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	detail, err := h.svc.ActiveShift(r.Context(), claims.UserID)
	if err != nil {
		h.respondShiftError(w, "fetching active shift", err)
		return
	}

	writeJSON(w, http.StatusOK, toShiftDetailResponse(detail))
}

// Get handles GET /shifts/{id}.
func (h *ShiftHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shift id"})
		return
	}

	detail, err := h.svc.GetShiftDetail(r.Context(), id)
	if err != nil {
		h.respondShiftError(w, "fetching shift", err)
		return
	}

	writeJSON(w, http.StatusOK, toShiftDetailResponse(detail))
}

// List handles GET /shifts.
func (h *ShiftHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	shifts, err := h.svc.ListShifts(r.Context(), r.URL.Query().Get("status"), int32(limit), int32(offset))
	if err != nil {
		h.respondShiftError(w, "listing shifts", err)
		return
	}

	resp := shiftListResponse{
		Shifts: make([]shiftResponse, 0, len(shifts)),
		Limit:  limit,
		Offset: offset,
	}
	for _, shift := range shifts {
		resp.Shifts = append(resp.Shifts, toShiftResponse(shift))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostMovement handles POST /shifts/{id}/movements.
func (h *ShiftHandler) PostMovement(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shift id"})
		return
	}

	var req postMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	movement, err := h.svc.PostCashMovement(r.Context(), service.PostMovementRequest{
		ShiftID:     id,
		CashierID:   claims.UserID,
		Direction:   req.Direction,
		Amount:      req.Amount,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		h.respondShiftError(w, "posting cash movement", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCashMovementResponse(movement))
}

// ListMovements handles GET /shifts/{id}/movements.
func (h *ShiftHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shift id"})
		return
	}

	detail, err := h.svc.GetShiftDetail(r.Context(), id)
	if err != nil {
		h.respondShiftError(w, "fetching shift movements", err)
		return
	}

	resp := movementListResponse{Movements: make([]cashMovementResponse, 0, len(detail.Movements))}
	for _, m := range detail.Movements {
		resp.Movements = append(resp.Movements, toCashMovementResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Close handles POST /shifts/{id}/close. Any discrepancy between the counted
// drawer and the system total is recorded, never rejected.
func (h *ShiftHandler) Close(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shift id"})
		return
	}

	var req closeShiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.CloseShift(r.Context(), service.CloseShiftRequest{
		ShiftID:     id,
		CashierID:   claims.UserID,
		CountedCash: req.CountedCash,
	})
	if err != nil {
		h.respondShiftError(w, "closing shift", err)
		return
	}

	resp := closeShiftResponse{
		shiftResponse: toShiftResponse(result.Shift),
		Warnings:      result.Warnings,
	}
	h.events.Publish(ws.EventShiftClosed, resp.shiftResponse)
	writeJSON(w, http.StatusOK, resp)
}

func (h *ShiftHandler) respondShiftError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrShiftNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInitialCash),
		errors.Is(err, service.ErrInvalidMovementAmount),
		errors.Is(err, service.ErrInvalidCountedCash),
		errors.Is(err, service.ErrInvalidDirection),
		errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrInvalidShiftStatus),
		errors.Is(err, service.ErrDescriptionRequired):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrShiftExists),
		errors.Is(err, service.ErrShiftClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrShiftNotOwned):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func toShiftResponse(shift database.Shift) shiftResponse {
	return shiftResponse{
		ID:             shift.ID.String(),
		CashierID:      shift.CashierID.String(),
		Status:         shift.Status,
		InitialCash:    numericToString(shift.InitialCash),
		FinalCash:      numericToString(shift.FinalCash),
		SystemCash:     numericToString(shift.SystemCash),
		CashDifference: numericToString(shift.CashDifference),
		TotalOrders:    shift.TotalOrders,
		TotalRevenue:   numericToString(shift.TotalRevenue),
		CashRevenue:    numericToString(shift.CashRevenue),
		NoncashRevenue: numericToString(shift.NoncashRevenue),
		OpenedAt:       shift.OpenedAt,
		ClosedAt:       timePtr(shift.ClosedAt),
	}
}

func toShiftDetailResponse(detail *service.ShiftDetail) shiftDetailResponse {
	resp := shiftDetailResponse{
		shiftResponse: toShiftResponse(detail.Shift),
		Movements:     make([]cashMovementResponse, 0, len(detail.Movements)),
	}
	for _, m := range detail.Movements {
		resp.Movements = append(resp.Movements, toCashMovementResponse(m))
	}
	return resp
}

func toCashMovementResponse(m database.CashMovement) cashMovementResponse {
	return cashMovementResponse{
		ID:          m.ID.String(),
		ShiftID:     m.ShiftID.String(),
		CashierID:   m.CashierID.String(),
		Direction:   m.Direction,
		Amount:      numericToString(m.Amount),
		Description: m.Description,
		Category:    m.Category,
		CreatedAt:   m.CreatedAt,
	}
}
