package handler_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dapurlaras/pos-api/internal/auth"
	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
	"github.com/dapurlaras/pos-api/internal/handler"
	"github.com/dapurlaras/pos-api/internal/middleware"
	"github.com/dapurlaras/pos-api/internal/service"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// --- Mock ApprovalService ---

type mockApprovalService struct {
	requestFn func(ctx context.Context, req service.RequestCancellationRequest) (database.ApprovalRequest, error)
	resolveFn func(ctx context.Context, req service.ApprovalDecisionRequest) (*service.ResolveResult, error)
}

func (m *mockApprovalService) RequestCancellation(ctx context.Context, req service.RequestCancellationRequest) (database.ApprovalRequest, error) {
	return m.requestFn(ctx, req)
}

func (m *mockApprovalService) Resolve(ctx context.Context, req service.ApprovalDecisionRequest) (*service.ResolveResult, error) {
	return m.resolveFn(ctx, req)
}

// --- Mock ApprovalReadStore ---

type mockApprovalStore struct {
	listPendingFn     func(ctx context.Context) ([]database.ApprovalRequest, error)
	listDeletionLogFn func(ctx context.Context, arg database.ListDeletionLogParams) ([]database.DeletionLogEntry, error)
}

func (m *mockApprovalStore) ListPendingApprovalRequests(ctx context.Context) ([]database.ApprovalRequest, error) {
	return m.listPendingFn(ctx)
}

func (m *mockApprovalStore) ListDeletionLog(ctx context.Context, arg database.ListDeletionLogParams) ([]database.DeletionLogEntry, error) {
	return m.listDeletionLogFn(ctx, arg)
}

// setupApprovalRouter mirrors the real route layout: resolve sits on its own
// route and the deletion log is gated to back-office roles.
func setupApprovalRouter(svc *mockApprovalService, store *mockApprovalStore, events *recordingPublisher) *chi.Mux {
	h := handler.NewApprovalHandler(svc, store, events)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/approvals", func(r chi.Router) {
		h.RegisterRoutes(r)
		r.Post("/{id}/resolve", h.Resolve)
	})
	r.With(middleware.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager)).Get("/deletion-log", h.DeletionLog)
	return r
}

func sampleApproval(status string) database.ApprovalRequest {
	return database.ApprovalRequest{
		ID:            uuid.New(),
		BillID:        uuid.New(),
		BillItemID:    uuid.New(),
		ItemName:      "Sate Ayam",
		ItemQuantity:  1,
		ItemUnitPrice: makeNumeric("20000.00"),
		Reason:        "tamu ganti pesanan",
		Status:        status,
		RequestedBy:   uuid.New(),
		RequestedAt:   time.Now(),
	}
}

// =====================
// Request
// =====================

func TestRequestApproval_HappyPath(t *testing.T) {
	var captured service.RequestCancellationRequest
	svc := &mockApprovalService{
		requestFn: func(_ context.Context, req service.RequestCancellationRequest) (database.ApprovalRequest, error) {
			captured = req
			approval := sampleApproval(enum.ApprovalStatusPending)
			approval.BillID = req.BillID
			approval.BillItemID = req.BillItemID
			approval.Reason = req.Reason
			return approval, nil
		},
	}
	events := &recordingPublisher{}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, events)
	claims := cashierClaims()
	billID, itemID := uuid.New(), uuid.New()

	rr := doAuthRequest(t, router, "POST", "/approvals", map[string]interface{}{
		"bill_id":      billID.String(),
		"bill_item_id": itemID.String(),
		"reason":       "tamu ganti pesanan",
	}, claims)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if captured.BillID != billID || captured.BillItemID != itemID {
		t.Errorf("captured ids: got %+v", captured)
	}
	if captured.RequestedBy != claims.UserID {
		t.Errorf("requested_by: got %s, want %s", captured.RequestedBy, claims.UserID)
	}

	resp := decodeJSON(t, rr)
	if resp["status"] != enum.ApprovalStatusPending {
		t.Errorf("status: got %v", resp["status"])
	}
	if resp["item_unit_price"] != "20000.00" {
		t.Errorf("item_unit_price: got %v", resp["item_unit_price"])
	}
	if got := events.types(); len(got) != 1 || got[0] != ws.EventApprovalRequested {
		t.Fatalf("events: got %v, want [%s]", got, ws.EventApprovalRequested)
	}
}

func TestRequestApproval_InvalidIDs(t *testing.T) {
	router := setupApprovalRouter(&mockApprovalService{}, &mockApprovalStore{}, &recordingPublisher{})

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"bad bill id", map[string]interface{}{"bill_id": "nope", "bill_item_id": uuid.New().String(), "reason": "x"}},
		{"bad item id", map[string]interface{}{"bill_id": uuid.New().String(), "bill_item_id": "nope", "reason": "x"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doAuthRequest(t, router, "POST", "/approvals", tc.body, cashierClaims())
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestRequestApproval_ItemNotOnBill(t *testing.T) {
	svc := &mockApprovalService{
		requestFn: func(_ context.Context, _ service.RequestCancellationRequest) (database.ApprovalRequest, error) {
			return database.ApprovalRequest{}, service.ErrItemNotOnBill
		},
	}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/approvals", map[string]interface{}{
		"bill_id":      uuid.New().String(),
		"bill_item_id": uuid.New().String(),
		"reason":       "x",
	}, cashierClaims())

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRequestApproval_DuplicatePending(t *testing.T) {
	svc := &mockApprovalService{
		requestFn: func(_ context.Context, _ service.RequestCancellationRequest) (database.ApprovalRequest, error) {
			return database.ApprovalRequest{}, service.ErrApprovalPending
		},
	}
	events := &recordingPublisher{}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, events)

	rr := doAuthRequest(t, router, "POST", "/approvals", map[string]interface{}{
		"bill_id":      uuid.New().String(),
		"bill_item_id": uuid.New().String(),
		"reason":       "x",
	}, cashierClaims())

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
	if len(events.events) != 0 {
		t.Errorf("no events expected on failure, got %v", events.types())
	}
}

// =====================
// ListPending
// =====================

func TestListApprovals_HappyPath(t *testing.T) {
	store := &mockApprovalStore{
		listPendingFn: func(_ context.Context) ([]database.ApprovalRequest, error) {
			return []database.ApprovalRequest{sampleApproval(enum.ApprovalStatusPending)}, nil
		},
	}
	router := setupApprovalRouter(&mockApprovalService{}, store, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/approvals", nil, cashierClaims())

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	requests := resp["requests"].([]interface{})
	if len(requests) != 1 {
		t.Fatalf("requests: got %d, want 1", len(requests))
	}
}

func TestListApprovals_RejectsNonPendingFilter(t *testing.T) {
	router := setupApprovalRouter(&mockApprovalService{}, &mockApprovalStore{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/approvals?status=APPROVED", nil, cashierClaims())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// =====================
// Resolve
// =====================

func TestResolveApproval_Approved(t *testing.T) {
	requestID := uuid.New()
	billID := uuid.New()
	var captured service.ApprovalDecisionRequest
	svc := &mockApprovalService{
		resolveFn: func(_ context.Context, req service.ApprovalDecisionRequest) (*service.ResolveResult, error) {
			captured = req
			approval := sampleApproval(enum.ApprovalStatusApproved)
			approval.ID = req.RequestID
			bill := sampleBill(billID)
			return &service.ResolveResult{
				Request: approval,
				Bill:    &bill,
				Items:   []database.BillItem{sampleBillItem(billID)},
			}, nil
		},
	}
	events := &recordingPublisher{}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, events)

	rr := doAuthRequest(t, router, "POST", "/approvals/"+requestID.String()+"/resolve", map[string]interface{}{
		"decision":       "APPROVED",
		"approver_email": "manager@dapurlaras.id",
		"approver_pin":   "123456",
	}, cashierClaims())

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if captured.RequestID != requestID || captured.Decision != "APPROVED" {
		t.Errorf("captured: got %+v", captured)
	}
	if captured.ApproverEmail != "manager@dapurlaras.id" || captured.ApproverPIN != "123456" {
		t.Errorf("approver credentials: got %+v", captured)
	}

	resp := decodeJSON(t, rr)
	request := resp["request"].(map[string]interface{})
	if request["status"] != enum.ApprovalStatusApproved {
		t.Errorf("request status: got %v", request["status"])
	}
	bill := resp["bill"].(map[string]interface{})
	if bill["bill_number"] != "DL-0042" {
		t.Errorf("bill_number: got %v", bill["bill_number"])
	}

	// An approved removal changes the bill, so the terminals hear about both.
	if got := events.types(); len(got) != 2 || got[0] != ws.EventBillUpdated || got[1] != ws.EventApprovalResolved {
		t.Fatalf("events: got %v, want [%s %s]", got, ws.EventBillUpdated, ws.EventApprovalResolved)
	}
}

func TestResolveApproval_Rejected(t *testing.T) {
	svc := &mockApprovalService{
		resolveFn: func(_ context.Context, req service.ApprovalDecisionRequest) (*service.ResolveResult, error) {
			approval := sampleApproval(enum.ApprovalStatusRejected)
			approval.ID = req.RequestID
			return &service.ResolveResult{Request: approval}, nil
		},
	}
	events := &recordingPublisher{}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, events)

	rr := doAuthRequest(t, router, "POST", "/approvals/"+uuid.New().String()+"/resolve", map[string]interface{}{
		"decision":       "REJECTED",
		"approver_email": "manager@dapurlaras.id",
		"approver_pin":   "123456",
	}, cashierClaims())

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	if _, ok := resp["bill"]; ok {
		t.Errorf("rejected resolution should not carry a bill, got %v", resp["bill"])
	}
	if got := events.types(); len(got) != 1 || got[0] != ws.EventApprovalResolved {
		t.Fatalf("events: got %v, want [%s]", got, ws.EventApprovalResolved)
	}
}

func TestResolveApproval_BadCredentials(t *testing.T) {
	svc := &mockApprovalService{
		resolveFn: func(_ context.Context, _ service.ApprovalDecisionRequest) (*service.ResolveResult, error) {
			return nil, service.ErrNotAuthorized
		},
	}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/approvals/"+uuid.New().String()+"/resolve", map[string]interface{}{
		"decision":       "APPROVED",
		"approver_email": "kasir@dapurlaras.id",
		"approver_pin":   "000000",
	}, cashierClaims())

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestResolveApproval_AlreadyResolved(t *testing.T) {
	svc := &mockApprovalService{
		resolveFn: func(_ context.Context, _ service.ApprovalDecisionRequest) (*service.ResolveResult, error) {
			return nil, service.ErrApprovalResolved
		},
	}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/approvals/"+uuid.New().String()+"/resolve", map[string]interface{}{
		"decision":       "APPROVED",
		"approver_email": "manager@dapurlaras.id",
		"approver_pin":   "123456",
	}, cashierClaims())

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestResolveApproval_InvalidDecision(t *testing.T) {
	svc := &mockApprovalService{
		resolveFn: func(_ context.Context, _ service.ApprovalDecisionRequest) (*service.ResolveResult, error) {
			return nil, service.ErrInvalidDecision
		},
	}
	router := setupApprovalRouter(svc, &mockApprovalStore{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/approvals/"+uuid.New().String()+"/resolve", map[string]interface{}{
		"decision":       "MAYBE",
		"approver_email": "manager@dapurlaras.id",
		"approver_pin":   "123456",
	}, cashierClaims())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// =====================
// DeletionLog
// =====================

func TestDeletionLog_HappyPath(t *testing.T) {
	var captured database.ListDeletionLogParams
	store := &mockApprovalStore{
		listDeletionLogFn: func(_ context.Context, arg database.ListDeletionLogParams) ([]database.DeletionLogEntry, error) {
			captured = arg
			return []database.DeletionLogEntry{{
				ID:            uuid.New(),
				BillID:        uuid.New(),
				BillNumber:    "DL-0042",
				ItemName:      "Sate Ayam",
				ItemQuantity:  1,
				ItemUnitPrice: makeNumeric("20000.00"),
				Reason:        "tamu ganti pesanan",
				RequestedBy:   uuid.New(),
				ApprovedBy:    uuid.New(),
				RequestedAt:   time.Now(),
				DeletedAt:     time.Now(),
			}}, nil
		},
	}
	router := setupApprovalRouter(&mockApprovalService{}, store, &recordingPublisher{})
	manager := &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleManager}

	rr := doAuthRequest(t, router, "GET", "/deletion-log?limit=5", nil, manager)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if captured.Limit != 5 || captured.Offset != 0 {
		t.Errorf("pagination: got limit %d offset %d", captured.Limit, captured.Offset)
	}
	resp := decodeJSON(t, rr)
	entries := resp["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	entry := entries[0].(map[string]interface{})
	if entry["bill_number"] != "DL-0042" {
		t.Errorf("bill_number: got %v", entry["bill_number"])
	}
}

func TestDeletionLog_ForbiddenForCashier(t *testing.T) {
	router := setupApprovalRouter(&mockApprovalService{}, &mockApprovalStore{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/deletion-log", nil, cashierClaims())

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}
