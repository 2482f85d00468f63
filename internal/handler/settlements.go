package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dapurlaras/pos-api/internal/enum"
	"github.com/dapurlaras/pos-api/internal/middleware"
	"github.com/dapurlaras/pos-api/internal/service"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// SettlementServicer defines the settlement operation the handler needs.
type SettlementServicer interface {
	Settle(ctx context.Context, req service.SettleRequest) (*service.SettleResult, error)
}

type SettlementHandler struct {
	svc    SettlementServicer
	events EventPublisher
}

func NewSettlementHandler(svc SettlementServicer, events EventPublisher) *SettlementHandler {
	return &SettlementHandler{svc: svc, events: events}
}

func (h *SettlementHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Settle)
}

type settleCartInput struct {
	CustomerName string          `json:"customer_name"`
	TableNumber  string          `json:"table_number"`
	Discount     string          `json:"discount"`
	Items        []billItemInput `json:"items"`
}

type settleRequest struct {
	Mode            string           `json:"mode"`
	PaymentMethod   string           `json:"payment_method"`
	AmountTendered  string           `json:"amount_tendered"`
	ReferenceNumber string           `json:"reference_number"`
	BillID          string           `json:"bill_id"`
	PartID          string           `json:"part_id"`
	Cart            *settleCartInput `json:"cart"`
}

type settleResponse struct {
	Payment  paymentResponse    `json:"payment"`
	Bill     billResponse       `json:"bill"`
	Part     *splitPartResponse `json:"part,omitempty"`
	Replayed bool               `json:"replayed"`
}

// Settle handles POST /settlements. Retried requests must carry the same
// Idempotency-Key header so a network hiccup cannot charge a table twice.
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sreq := service.SettleRequest{
		Mode:            req.Mode,
		CashierID:       claims.UserID,
		PaymentMethod:   req.PaymentMethod,
		AmountTendered:  req.AmountTendered,
		ReferenceNumber: req.ReferenceNumber,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	}
	if req.BillID != "" {
		id, err := uuid.Parse(req.BillID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bill_id"})
			return
		}
		sreq.BillID = id
	}
	if req.PartID != "" {
		id, err := uuid.Parse(req.PartID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid part_id"})
			return
		}
		sreq.PartID = id
	}
	if req.Cart != nil {
		sreq.Cart = &service.CartRequest{
			CustomerName: req.Cart.CustomerName,
			TableNumber:  req.Cart.TableNumber,
			Discount:     req.Cart.Discount,
			Items:        toServiceItems(req.Cart.Items),
		}
	}

	result, err := h.svc.Settle(r.Context(), sreq)
	if err != nil {
		h.respondSettleError(w, err)
		return
	}

	resp := settleResponse{
		Payment:  toPaymentResponse(result.Payment),
		Bill:     toBillResponse(result.Bill, nil),
		Replayed: result.Replayed,
	}
	if result.Part != nil {
		part := toSplitPartResponse(*result.Part)
		resp.Part = &part
	}

	// A replay already announced itself the first time around.
	if !result.Replayed {
		if result.Bill.Status == enum.BillStatusSettled {
			h.events.Publish(ws.EventBillSettled, resp.Bill)
		} else {
			h.events.Publish(ws.EventSplitUpdated, map[string]string{"bill_id": result.Bill.ID.String()})
		}
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *SettlementHandler) respondSettleError(w http.ResponseWriter, err error) {
	var shortErr *service.InsufficientPaymentError
	switch {
	case errors.As(err, &shortErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     shortErr.Error(),
			"due":       shortErr.Due.StringFixed(2),
			"tendered":  shortErr.Tendered.StringFixed(2),
			"shortfall": shortErr.Shortfall().StringFixed(2),
		})
	case errors.Is(err, service.ErrBillNotFound),
		errors.Is(err, service.ErrPartNotFound),
		errors.Is(err, service.ErrSplitSessionNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidSettleMode),
		errors.Is(err, service.ErrCartRequired),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidTendered),
		isBillValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrNoOpenShift),
		errors.Is(err, service.ErrPartPaid),
		errors.Is(err, service.ErrEmptyPart),
		errors.Is(err, service.ErrUnallocatedRemainder),
		isBillConflictError(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: settling payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
