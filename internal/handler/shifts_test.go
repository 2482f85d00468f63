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

// --- Mock ShiftService ---

type mockShiftService struct {
	openShiftFn    func(ctx context.Context, cashierID uuid.UUID, initialCash string) (database.Shift, error)
	activeShiftFn  func(ctx context.Context, cashierID uuid.UUID) (*service.ShiftDetail, error)
	getDetailFn    func(ctx context.Context, id uuid.UUID) (*service.ShiftDetail, error)
	listShiftsFn   func(ctx context.Context, status string, limit, offset int32) ([]database.Shift, error)
	postMovementFn func(ctx context.Context, req service.PostMovementRequest) (database.CashMovement, error)
	closeShiftFn   func(ctx context.Context, req service.CloseShiftRequest) (*service.CloseShiftResult, error)
}

func (m *mockShiftService) OpenShift(ctx context.Context, cashierID uuid.UUID, initialCash string) (database.Shift, error) {
	return m.openShiftFn(ctx, cashierID, initialCash)
}

func (m *mockShiftService) ActiveShift(ctx context.Context, cashierID uuid.UUID) (*service.ShiftDetail, error) {
	return m.activeShiftFn(ctx, cashierID)
}

func (m *mockShiftService) GetShiftDetail(ctx context.Context, id uuid.UUID) (*service.ShiftDetail, error) {
	return m.getDetailFn(ctx, id)
}

func (m *mockShiftService) ListShifts(ctx context.Context, status string, limit, offset int32) ([]database.Shift, error) {
	return m.listShiftsFn(ctx, status, limit, offset)
}

func (m *mockShiftService) PostCashMovement(ctx context.Context, req service.PostMovementRequest) (database.CashMovement, error) {
	return m.postMovementFn(ctx, req)
}

func (m *mockShiftService) CloseShift(ctx context.Context, req service.CloseShiftRequest) (*service.CloseShiftResult, error) {
	return m.closeShiftFn(ctx, req)
}

func setupShiftRouter(svc *mockShiftService, events *recordingPublisher) *chi.Mux {
	h := handler.NewShiftHandler(svc, events)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/shifts", h.RegisterRoutes)
	return r
}

func sampleShift(cashierID uuid.UUID) database.Shift {
	return database.Shift{
		ID:             uuid.New(),
		CashierID:      cashierID,
		Status:         enum.ShiftStatusOpen,
		InitialCash:    makeNumeric("500000.00"),
		TotalOrders:    0,
		TotalRevenue:   makeNumeric("0.00"),
		CashRevenue:    makeNumeric("0.00"),
		NoncashRevenue: makeNumeric("0.00"),
		OpenedAt:       time.Now(),
	}
}

func sampleMovement(shiftID, cashierID uuid.UUID) database.CashMovement {
	return database.CashMovement{
		ID:          uuid.New(),
		ShiftID:     shiftID,
		CashierID:   cashierID,
		Direction:   enum.MovementDirectionOut,
		Amount:      makeNumeric("30000.00"),
		Description: "beli galon",
		Category:    enum.MovementCategoryExpense,
		CreatedAt:   time.Now(),
	}
}

// =====================
// Open / Active / Get
// =====================

func TestOpenShift_HappyPath(t *testing.T) {
	claims := cashierClaims()
	var capturedCash string
	svc := &mockShiftService{
		openShiftFn: func(_ context.Context, cashierID uuid.UUID, initialCash string) (database.Shift, error) {
			if cashierID != claims.UserID {
				t.Errorf("cashier: got %s, want %s", cashierID, claims.UserID)
			}
			capturedCash = initialCash
			return sampleShift(cashierID), nil
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts", map[string]interface{}{
		"initial_cash": "500000",
	}, claims)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if capturedCash != "500000" {
		t.Errorf("initial_cash: got %q", capturedCash)
	}
	resp := decodeJSON(t, rr)
	if resp["status"] != enum.ShiftStatusOpen {
		t.Errorf("status: got %v", resp["status"])
	}
	if resp["initial_cash"] != "500000.00" {
		t.Errorf("initial_cash: got %v", resp["initial_cash"])
	}
}

func TestOpenShift_AlreadyOpen(t *testing.T) {
	svc := &mockShiftService{
		openShiftFn: func(_ context.Context, _ uuid.UUID, _ string) (database.Shift, error) {
			return database.Shift{}, service.ErrShiftExists
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts", map[string]interface{}{
		"initial_cash": "500000",
	}, cashierClaims())

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestOpenShift_BadInitialCash(t *testing.T) {
	svc := &mockShiftService{
		openShiftFn: func(_ context.Context, _ uuid.UUID, _ string) (database.Shift, error) {
			return database.Shift{}, service.ErrInvalidInitialCash
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts", map[string]interface{}{
		"initial_cash": "-5",
	}, cashierClaims())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestActiveShift_HappyPath(t *testing.T) {
	claims := cashierClaims()
	shift := sampleShift(claims.UserID)
	svc := &mockShiftService{
		activeShiftFn: func(_ context.Context, cashierID uuid.UUID) (*service.ShiftDetail, error) {
			if cashierID != claims.UserID {
				return nil, service.ErrShiftNotFound
			}
			return &service.ShiftDetail{
				Shift:     shift,
				Movements: []database.CashMovement{sampleMovement(shift.ID, cashierID)},
			}, nil
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/shifts/active", nil, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	if resp["id"] != shift.ID.String() {
		t.Errorf("id: got %v", resp["id"])
	}
	movements := resp["movements"].([]interface{})
	if len(movements) != 1 {
		t.Fatalf("movements: got %d, want 1", len(movements))
	}
	movement := movements[0].(map[string]interface{})
	if movement["direction"] != enum.MovementDirectionOut || movement["amount"] != "30000.00" {
		t.Errorf("movement: got %v", movement)
	}
}

func TestActiveShift_NoneOpen(t *testing.T) {
	svc := &mockShiftService{
		activeShiftFn: func(_ context.Context, _ uuid.UUID) (*service.ShiftDetail, error) {
			return nil, service.ErrShiftNotFound
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/shifts/active", nil, cashierClaims())

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetShift_InvalidID(t *testing.T) {
	router := setupShiftRouter(&mockShiftService{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/shifts/not-a-uuid", nil, cashierClaims())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// =====================
// List
// =====================

func TestListShifts_PassesFilters(t *testing.T) {
	var capturedStatus string
	var capturedLimit, capturedOffset int32
	svc := &mockShiftService{
		listShiftsFn: func(_ context.Context, status string, limit, offset int32) ([]database.Shift, error) {
			capturedStatus = status
			capturedLimit, capturedOffset = limit, offset
			return []database.Shift{sampleShift(uuid.New())}, nil
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})
	manager := &auth.Claims{UserID: uuid.New(), Role: enum.UserRoleManager}

	rr := doAuthRequest(t, router, "GET", "/shifts?status=CLOSED&limit=10&offset=5", nil, manager)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if capturedStatus != enum.ShiftStatusClosed || capturedLimit != 10 || capturedOffset != 5 {
		t.Errorf("filters: got status %q limit %d offset %d", capturedStatus, capturedLimit, capturedOffset)
	}
	resp := decodeJSON(t, rr)
	shifts := resp["shifts"].([]interface{})
	if len(shifts) != 1 {
		t.Fatalf("shifts: got %d, want 1", len(shifts))
	}
}

func TestListShifts_ForbiddenForCashier(t *testing.T) {
	router := setupShiftRouter(&mockShiftService{}, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/shifts", nil, cashierClaims())

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

// =====================
// Movements
// =====================

func TestPostMovement_HappyPath(t *testing.T) {
	claims := cashierClaims()
	shiftID := uuid.New()
	var captured service.PostMovementRequest
	svc := &mockShiftService{
		postMovementFn: func(_ context.Context, req service.PostMovementRequest) (database.CashMovement, error) {
			captured = req
			m := sampleMovement(req.ShiftID, req.CashierID)
			m.Direction = req.Direction
			m.Description = req.Description
			m.Category = req.Category
			return m, nil
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts/"+shiftID.String()+"/movements", map[string]interface{}{
		"direction":   "OUT",
		"amount":      "30000",
		"description": "beli galon",
		"category":    "EXPENSE",
	}, claims)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if captured.ShiftID != shiftID || captured.CashierID != claims.UserID {
		t.Errorf("captured ids: got %+v", captured)
	}
	if captured.Direction != enum.MovementDirectionOut || captured.Amount != "30000" || captured.Category != enum.MovementCategoryExpense {
		t.Errorf("captured movement: got %+v", captured)
	}
	resp := decodeJSON(t, rr)
	if resp["description"] != "beli galon" {
		t.Errorf("description: got %v", resp["description"])
	}
}

func TestPostMovement_ClosedShift(t *testing.T) {
	svc := &mockShiftService{
		postMovementFn: func(_ context.Context, _ service.PostMovementRequest) (database.CashMovement, error) {
			return database.CashMovement{}, service.ErrShiftClosed
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts/"+uuid.New().String()+"/movements", map[string]interface{}{
		"direction":   "IN",
		"amount":      "10000",
		"description": "tambahan modal",
	}, cashierClaims())

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestPostMovement_NotOwnShift(t *testing.T) {
	svc := &mockShiftService{
		postMovementFn: func(_ context.Context, _ service.PostMovementRequest) (database.CashMovement, error) {
			return database.CashMovement{}, service.ErrShiftNotOwned
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts/"+uuid.New().String()+"/movements", map[string]interface{}{
		"direction":   "OUT",
		"amount":      "10000",
		"description": "beli es batu",
	}, cashierClaims())

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestListMovements_HappyPath(t *testing.T) {
	shiftID := uuid.New()
	cashierID := uuid.New()
	svc := &mockShiftService{
		getDetailFn: func(_ context.Context, id uuid.UUID) (*service.ShiftDetail, error) {
			shift := sampleShift(cashierID)
			shift.ID = id
			return &service.ShiftDetail{
				Shift: shift,
				Movements: []database.CashMovement{
					sampleMovement(id, cashierID),
					sampleMovement(id, cashierID),
				},
			}, nil
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "GET", "/shifts/"+shiftID.String()+"/movements", nil, cashierClaims())

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	movements := resp["movements"].([]interface{})
	if len(movements) != 2 {
		t.Fatalf("movements: got %d, want 2", len(movements))
	}
}

// =====================
// Close
// =====================

func TestCloseShift_RecordsDifference(t *testing.T) {
	claims := cashierClaims()
	shiftID := uuid.New()
	var captured service.CloseShiftRequest
	svc := &mockShiftService{
		closeShiftFn: func(_ context.Context, req service.CloseShiftRequest) (*service.CloseShiftResult, error) {
			captured = req
			shift := sampleShift(claims.UserID)
			shift.ID = req.ShiftID
			shift.Status = enum.ShiftStatusClosed
			shift.FinalCash = makeNumeric("574000.00")
			shift.SystemCash = makeNumeric("575000.00")
			shift.CashDifference = makeNumeric("-1000.00")
			return &service.CloseShiftResult{Shift: shift}, nil
		},
	}
	events := &recordingPublisher{}
	router := setupShiftRouter(svc, events)

	rr := doAuthRequest(t, router, "POST", "/shifts/"+shiftID.String()+"/close", map[string]interface{}{
		"counted_cash": "574000",
	}, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if captured.ShiftID != shiftID || captured.CountedCash != "574000" {
		t.Errorf("captured: got %+v", captured)
	}

	resp := decodeJSON(t, rr)
	if resp["status"] != enum.ShiftStatusClosed {
		t.Errorf("status: got %v", resp["status"])
	}
	if resp["cash_difference"] != "-1000.00" {
		t.Errorf("cash_difference: got %v", resp["cash_difference"])
	}
	if _, ok := resp["warnings"]; ok {
		t.Errorf("a plain shortage closes without warnings, got %v", resp["warnings"])
	}
	if got := events.types(); len(got) != 1 || got[0] != ws.EventShiftClosed {
		t.Fatalf("events: got %v, want [%s]", got, ws.EventShiftClosed)
	}
}

func TestCloseShift_OverdrawnDrawerWarning(t *testing.T) {
	claims := cashierClaims()
	svc := &mockShiftService{
		closeShiftFn: func(_ context.Context, req service.CloseShiftRequest) (*service.CloseShiftResult, error) {
			shift := sampleShift(claims.UserID)
			shift.ID = req.ShiftID
			shift.Status = enum.ShiftStatusClosed
			shift.FinalCash = makeNumeric("0.00")
			shift.SystemCash = makeNumeric("-26000.00")
			shift.CashDifference = makeNumeric("26000.00")
			return &service.CloseShiftResult{
				Shift:    shift,
				Warnings: []string{"cash-out movements overdraw the drawer: expected cash is -26000.00"},
			}, nil
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts/"+uuid.New().String()+"/close", map[string]interface{}{
		"counted_cash": "0",
	}, claims)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	warnings := resp["warnings"].([]interface{})
	if len(warnings) != 1 {
		t.Fatalf("warnings: got %v", warnings)
	}
}

func TestCloseShift_BadCountedCash(t *testing.T) {
	svc := &mockShiftService{
		closeShiftFn: func(_ context.Context, _ service.CloseShiftRequest) (*service.CloseShiftResult, error) {
			return nil, service.ErrInvalidCountedCash
		},
	}
	events := &recordingPublisher{}
	router := setupShiftRouter(svc, events)

	rr := doAuthRequest(t, router, "POST", "/shifts/"+uuid.New().String()+"/close", map[string]interface{}{
		"counted_cash": "not-a-number",
	}, cashierClaims())

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if len(events.events) != 0 {
		t.Errorf("no events expected on failure, got %v", events.types())
	}
}

func TestCloseShift_AlreadyClosed(t *testing.T) {
	svc := &mockShiftService{
		closeShiftFn: func(_ context.Context, _ service.CloseShiftRequest) (*service.CloseShiftResult, error) {
			return nil, service.ErrShiftClosed
		},
	}
	router := setupShiftRouter(svc, &recordingPublisher{})

	rr := doAuthRequest(t, router, "POST", "/shifts/"+uuid.New().String()+"/close", map[string]interface{}{
		"counted_cash": "500000",
	}, cashierClaims())

	if rr.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}
