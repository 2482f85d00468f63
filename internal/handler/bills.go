package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
	"github.com/dapurlaras/pos-api/internal/middleware"
	"github.com/dapurlaras/pos-api/internal/service"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// EventPublisher pushes floor events to connected terminals.
// Satisfied by *ws.Hub.
type EventPublisher interface {
	Publish(eventType string, payload any)
}

// BillServicer defines the bill lifecycle operations the handler needs.
type BillServicer interface {
	CreateBill(ctx context.Context, req service.CreateBillRequest) (*service.BillDetail, error)
	AddItems(ctx context.Context, req service.AddItemsRequest) (*service.BillDetail, error)
	Submit(ctx context.Context, billID uuid.UUID) (database.Bill, error)
	Cancel(ctx context.Context, billID uuid.UUID) (database.Bill, error)
}

// BillReadStore is the read-only slice of the store the handler queries
// directly. Satisfied by *database.Queries.
type BillReadStore interface {
	GetBill(ctx context.Context, id uuid.UUID) (database.Bill, error)
	ListBills(ctx context.Context, arg database.ListBillsParams) ([]database.Bill, error)
	ListBillItemsByBill(ctx context.Context, billID uuid.UUID) ([]database.BillItem, error)
	ListPaymentsByBill(ctx context.Context, billID uuid.UUID) ([]database.Payment, error)
}

type BillHandler struct {
	svc    BillServicer
	store  BillReadStore
	events EventPublisher
}

func NewBillHandler(svc BillServicer, store BillReadStore, events EventPublisher) *BillHandler {
	return &BillHandler{svc: svc, store: store, events: events}
}

func (h *BillHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/items", h.AddItems)
	r.Post("/{id}/submit", h.Submit)
	r.Delete("/{id}", h.Cancel)
}

// --- Request / response types ---

type billItemInput struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int32  `json:"quantity"`
	Note       string `json:"note"`
}

type createBillRequest struct {
	Mode         string          `json:"mode"`
	CustomerName string          `json:"customer_name"`
	TableNumber  string          `json:"table_number"`
	Discount     string          `json:"discount"`
	Items        []billItemInput `json:"items"`
}

type addItemsRequest struct {
	Items []billItemInput `json:"items"`
}

type billItemResponse struct {
	ID         string    `json:"id"`
	MenuItemID string    `json:"menu_item_id"`
	Name       string    `json:"name"`
	UnitPrice  string    `json:"unit_price"`
	Quantity   int32     `json:"quantity"`
	Note       *string   `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type billResponse struct {
	ID            string             `json:"id"`
	BillNumber    string             `json:"bill_number"`
	CustomerName  *string            `json:"customer_name,omitempty"`
	TableNumber   *string            `json:"table_number,omitempty"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	PaymentMethod *string            `json:"payment_method,omitempty"`
	Subtotal      string             `json:"subtotal"`
	Discount      string             `json:"discount"`
	Total         string             `json:"total"`
	CreatedBy     string             `json:"created_by"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	SettledAt     *time.Time         `json:"settled_at,omitempty"`
	Items         []billItemResponse `json:"items,omitempty"`
}

type billDetailResponse struct {
	billResponse
	Payments []paymentResponse `json:"payments"`
}

type billListResponse struct {
	Bills  []billResponse `json:"bills"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type paymentResponse struct {
	ID              string    `json:"id"`
	BillID          string    `json:"bill_id"`
	SplitPartID     *string   `json:"split_part_id,omitempty"`
	ShiftID         string    `json:"shift_id"`
	PaymentMethod   string    `json:"payment_method"`
	Amount          string    `json:"amount"`
	AmountTendered  string    `json:"amount_tendered"`
	ChangeAmount    string    `json:"change_amount"`
	ReferenceNumber *string   `json:"reference_number,omitempty"`
	ProcessedBy     string    `json:"processed_by"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// --- Handlers ---

// Create handles POST /bills.
func (h *BillHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req createBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Mode == "" {
		req.Mode = enum.BillModeCreate
	}

	detail, err := h.svc.CreateBill(r.Context(), service.CreateBillRequest{
		CreatedBy:    claims.UserID,
		Mode:         req.Mode,
		CustomerName: req.CustomerName,
		TableNumber:  req.TableNumber,
		Discount:     req.Discount,
		Items:        toServiceItems(req.Items),
	})
	if err != nil {
		switch {
		case isBillValidationError(err):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case isBillConflictError(err):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: creating bill: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toBillResponse(detail.Bill, detail.Items)
	h.events.Publish(ws.EventBillCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /bills. Supports table, status, limit and offset query
// params. Results come back newest first without their line items.
func (h *BillHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !isValidBillStatus(status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status filter"})
		return
	}
	limit, offset := parsePagination(r)

	bills, err := h.store.ListBills(r.Context(), database.ListBillsParams{
		Status:      queryText(status),
		TableNumber: queryText(r.URL.Query().Get("table")),
		Limit:       int32(limit),
		Offset:      int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: listing bills: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := billListResponse{
		Bills:  make([]billResponse, 0, len(bills)),
		Limit:  limit,
		Offset: offset,
	}
	for _, bill := range bills {
		resp.Bills = append(resp.Bills, toBillResponse(bill, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /bills/{id}. Returns the bill with its items and payments.
func (h *BillHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	bill, err := h.store.GetBill(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "bill not found"})
			return
		}
		log.Printf("ERROR: fetching bill: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	items, err := h.store.ListBillItemsByBill(r.Context(), id)
	if err != nil {
		log.Printf("ERROR: fetching bill items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	payments, err := h.store.ListPaymentsByBill(r.Context(), id)
	if err != nil {
		log.Printf("ERROR: fetching bill payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := billDetailResponse{
		billResponse: toBillResponse(bill, items),
		Payments:     make([]paymentResponse, 0, len(payments)),
	}
	for _, p := range payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddItems handles POST /bills/{id}/items.
func (h *BillHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	var req addItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	detail, err := h.svc.AddItems(r.Context(), service.AddItemsRequest{
		BillID: id,
		Items:  toServiceItems(req.Items),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBillNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case isBillValidationError(err):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case isBillConflictError(err):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: adding bill items: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toBillResponse(detail.Bill, detail.Items)
	h.events.Publish(ws.EventBillUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Submit handles POST /bills/{id}/submit.
func (h *BillHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	bill, err := h.svc.Submit(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBillNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case isBillConflictError(err):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: submitting bill: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toBillResponse(bill, nil)
	h.events.Publish(ws.EventBillUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Cancel handles DELETE /bills/{id}. A bill is never deleted, it moves to
// CANCELLED and keeps its lines for the audit trail.
func (h *BillHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill id"})
		return
	}

	bill, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBillNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case isBillConflictError(err):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: cancelling bill: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := toBillResponse(bill, nil)
	h.events.Publish(ws.EventBillUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// --- Mappers ---

func toServiceItems(items []billItemInput) []service.BillItemRequest {
	out := make([]service.BillItemRequest, 0, len(items))
	for _, it := range items {
		out = append(out, service.BillItemRequest{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			Note:       it.Note,
		})
	}
	return out
}

func toBillResponse(bill database.Bill, items []database.BillItem) billResponse {
	resp := billResponse{
		ID:            bill.ID.String(),
		BillNumber:    bill.BillNumber,
		CustomerName:  textPtr(bill.CustomerName),
		TableNumber:   textPtr(bill.TableNumber),
		Status:        bill.Status,
		PaymentStatus: bill.PaymentStatus,
		PaymentMethod: textPtr(bill.PaymentMethod),
		Subtotal:      numericToString(bill.Subtotal),
		Discount:      numericToString(bill.Discount),
		Total:         numericToString(bill.Total),
		CreatedBy:     bill.CreatedBy.String(),
		CreatedAt:     bill.CreatedAt,
		UpdatedAt:     bill.UpdatedAt,
		SettledAt:     timePtr(bill.SettledAt),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, toBillItemResponse(item))
	}
	return resp
}

func toBillItemResponse(item database.BillItem) billItemResponse {
	return billItemResponse{
		ID:         item.ID.String(),
		MenuItemID: item.MenuItemID.String(),
		Name:       item.Name,
		UnitPrice:  numericToString(item.UnitPrice),
		Quantity:   item.Quantity,
		Note:       textPtr(item.Note),
		CreatedAt:  item.CreatedAt,
	}
}

func toPaymentResponse(p database.Payment) paymentResponse {
	return paymentResponse{
		ID:              p.ID.String(),
		BillID:          p.BillID.String(),
		SplitPartID:     uuidPtr(p.SplitPartID),
		ShiftID:         p.ShiftID.String(),
		PaymentMethod:   p.PaymentMethod,
		Amount:          numericToString(p.Amount),
		AmountTendered:  numericToString(p.AmountTendered),
		ChangeAmount:    numericToString(p.ChangeAmount),
		ReferenceNumber: textPtr(p.ReferenceNumber),
		ProcessedBy:     p.ProcessedBy.String(),
		ProcessedAt:     p.ProcessedAt,
	}
}

// --- Error classification ---

// isBillValidationError reports whether err is a client mistake in the
// request payload.
func isBillValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrInvalidMenuItemID) ||
		errors.Is(err, service.ErrMenuItemNotFound) ||
		errors.Is(err, service.ErrMenuItemInactive) ||
		errors.Is(err, service.ErrInvalidDiscount) ||
		errors.Is(err, service.ErrInvalidBillMode) ||
		errors.Is(err, service.ErrTableRequired)
}

// isBillConflictError reports whether err means the bill is in a state that
// refuses the operation.
func isBillConflictError(err error) bool {
	return errors.Is(err, service.ErrTableOccupied) ||
		errors.Is(err, service.ErrBillSettled) ||
		errors.Is(err, service.ErrBillCancelled) ||
		errors.Is(err, service.ErrBillPaid) ||
		errors.Is(err, service.ErrSplitSessionActive)
}

func isValidBillStatus(s string) bool {
	switch s {
	case enum.BillStatusOpen, enum.BillStatusSubmitted, enum.BillStatusSettled, enum.BillStatusCancelled:
		return true
	}
	return false
}

// --- Shared helpers ---

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	offset = 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func queryText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	ts := t.Time
	return &ts
}

func uuidPtr(u pgtype.UUID) *string {
	if !u.Valid {
		return nil
	}
	s := uuid.UUID(u.Bytes).String()
	return &s
}

// numericToString renders a money column with two decimal places. Unset or
// unreadable values render as "0.00".
func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	v, err := n.Value()
	if err != nil {
		return "0.00"
	}
	s, ok := v.(string)
	if !ok {
		return "0.00"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
