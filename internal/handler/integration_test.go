//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/dapurlaras/pos-api/internal/config"
	"github.com/dapurlaras/pos-api/internal/router"
	"github.com/dapurlaras/pos-api/internal/ws"
)

// TestIntegrationFlow walks a full service day against a real Postgres:
// bootstrap staff, open the drawer, run a dine-in bill through an approved
// item removal and a cash settlement (with an idempotent replay), split a
// second bill across two payers, ring up a takeaway cart, post drawer
// movements, and close the shift over a small cash shortage.
func TestIntegrationFlow(t *testing.T) {
	ctx := context.Background()

	pgContainer, connStr := setupPostgresContainer(t, ctx)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}()

	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	cfg := &config.Config{
		Port:        "8081",
		DatabaseURL: connStr,
		JWTSecret:   "integration-test-secret",
	}
	hub := ws.NewHub()
	go hub.Run()

	server := httptest.NewServer(router.New(cfg, pool, hub))
	defer server.Close()

	// The first admin is seeded directly; everyone else goes through the API.
	createAdminUser(t, ctx, pool)
	adminToken := login(t, server, "admin@test.com", "password123")

	httpPostJSON(t, server, "/users", map[string]interface{}{
		"email":     "manager@test.com",
		"password":  "password123",
		"full_name": "Ibu Sari",
		"role":      "MANAGER",
		"pin":       "123456",
	}, adminToken)
	httpPostJSON(t, server, "/users", map[string]interface{}{
		"email":     "kasir@test.com",
		"password":  "password123",
		"full_name": "Mas Joko",
		"role":      "CASHIER",
	}, adminToken)
	cashierToken := login(t, server, "kasir@test.com", "password123")

	nasiID := createMenuItem(t, server, adminToken, "Nasi Goreng Kampung", "Makanan", "20000")
	sateID := createMenuItem(t, server, adminToken, "Sate Ayam", "Makanan", "20000")
	esTehID := createMenuItem(t, server, adminToken, "Es Teh Manis", "Minuman", "5000")

	shift := httpPostJSON(t, server, "/shifts", map[string]interface{}{
		"initial_cash": "500000",
	}, cashierToken)
	shiftID := shift["id"].(string)
	if got := shift["initial_cash"].(string); got != "500000.00" {
		t.Fatalf("initial_cash: got %s, want 500000.00", got)
	}

	// =====================
	// Bill A: dine-in at T1, one line removed via approval, settled whole in cash.
	// =====================

	billA := httpPostJSON(t, server, "/bills", map[string]interface{}{
		"table_number": "T1",
		"items": []map[string]interface{}{
			{"menu_item_id": nasiID, "quantity": 2},
			{"menu_item_id": esTehID, "quantity": 1},
		},
	}, cashierToken)
	billAID := billA["id"].(string)
	if got := billA["bill_number"].(string); got != "DL-0001" {
		t.Fatalf("bill_number: got %s, want DL-0001", got)
	}
	if got := billA["total"].(string); got != "45000.00" {
		t.Fatalf("bill A total: got %s, want 45000.00", got)
	}
	esTehLineID := findItemByName(t, billA, "Es Teh Manis")

	httpPostJSON(t, server, "/bills/"+billAID+"/submit", nil, cashierToken)

	approval := httpPostJSON(t, server, "/approvals", map[string]interface{}{
		"bill_id":      billAID,
		"bill_item_id": esTehLineID,
		"reason":       "tamu batal pesan",
	}, cashierToken)
	if got := approval["status"].(string); got != "PENDING" {
		t.Fatalf("approval status: got %s, want PENDING", got)
	}

	resolved := httpPostJSON(t, server, "/approvals/"+approval["id"].(string)+"/resolve", map[string]interface{}{
		"decision":       "APPROVED",
		"approver_email": "manager@test.com",
		"approver_pin":   "123456",
	}, cashierToken)
	request := resolved["request"].(map[string]interface{})
	if got := request["status"].(string); got != "APPROVED" {
		t.Fatalf("resolved status: got %s, want APPROVED", got)
	}
	resolvedBill := resolved["bill"].(map[string]interface{})
	if got := resolvedBill["total"].(string); got != "40000.00" {
		t.Fatalf("bill A total after removal: got %s, want 40000.00", got)
	}
	if got := len(resolvedBill["items"].([]interface{})); got != 1 {
		t.Fatalf("bill A items after removal: got %d, want 1", got)
	}

	deletionLog := httpGetJSON(t, server, "/deletion-log", adminToken)
	entries := deletionLog["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("deletion log entries: got %d, want 1", len(entries))
	}
	logEntry := entries[0].(map[string]interface{})
	if got := logEntry["item_name"].(string); got != "Es Teh Manis" {
		t.Fatalf("deletion log item: got %s, want Es Teh Manis", got)
	}
	if got := logEntry["bill_number"].(string); got != "DL-0001" {
		t.Fatalf("deletion log bill: got %s, want DL-0001", got)
	}

	settleABody := map[string]interface{}{
		"mode":            "WHOLE_BILL",
		"bill_id":         billAID,
		"payment_method":  "CASH",
		"amount_tendered": "50000",
	}
	settleA := httpPostJSONWithKey(t, server, "/settlements", settleABody, cashierToken, "day1-bill-a")
	paymentA := settleA["payment"].(map[string]interface{})
	if got := paymentA["change_amount"].(string); got != "10000.00" {
		t.Fatalf("change: got %s, want 10000.00", got)
	}
	settledA := settleA["bill"].(map[string]interface{})
	if got := settledA["status"].(string); got != "SETTLED" {
		t.Fatalf("bill A status: got %s, want SETTLED", got)
	}
	if got := settledA["payment_method"].(string); got != "CASH" {
		t.Fatalf("bill A payment_method: got %s, want CASH", got)
	}
	if replayed := settleA["replayed"].(bool); replayed {
		t.Fatal("first settlement flagged as replayed")
	}

	// Same terminal retries the same settlement; it must come back replayed
	// with the original payment, not charge twice.
	replayA := httpPostJSONWithKey(t, server, "/settlements", settleABody, cashierToken, "day1-bill-a")
	if replayed := replayA["replayed"].(bool); !replayed {
		t.Fatal("retried settlement not flagged as replayed")
	}
	if got := replayA["payment"].(map[string]interface{})["id"].(string); got != paymentA["id"].(string) {
		t.Fatalf("replay returned a different payment: got %s, want %s", got, paymentA["id"].(string))
	}

	// =====================
	// Bill B: two friends at T2 split the bill, one pays cash, one QRIS.
	// =====================

	billB := httpPostJSON(t, server, "/bills", map[string]interface{}{
		"table_number": "T2",
		"items": []map[string]interface{}{
			{"menu_item_id": nasiID, "quantity": 1},
			{"menu_item_id": sateID, "quantity": 1},
		},
	}, cashierToken)
	billBID := billB["id"].(string)
	nasiLineID := findItemByName(t, billB, "Nasi Goreng Kampung")
	sateLineID := findItemByName(t, billB, "Sate Ayam")

	httpPostJSON(t, server, "/bills/"+billBID+"/submit", nil, cashierToken)

	split := httpPostJSON(t, server, "/bills/"+billBID+"/split", map[string]interface{}{
		"part_count":     2,
		"assignee_names": []string{"Andi", "Budi"},
	}, cashierToken)
	parts := split["parts"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("split parts: got %d, want 2", len(parts))
	}
	part1ID := parts[0].(map[string]interface{})["id"].(string)
	part2ID := parts[1].(map[string]interface{})["id"].(string)

	httpPutJSON(t, server, "/bills/"+billBID+"/split/parts/"+part1ID+"/allocations", map[string]interface{}{
		"bill_item_id": nasiLineID,
		"quantity":     1,
	}, cashierToken)
	httpPutJSON(t, server, "/bills/"+billBID+"/split/parts/"+part2ID+"/allocations", map[string]interface{}{
		"bill_item_id": sateLineID,
		"quantity":     1,
	}, cashierToken)

	settleP1 := httpPostJSON(t, server, "/settlements", map[string]interface{}{
		"mode":            "SPLIT_PART",
		"bill_id":         billBID,
		"part_id":         part1ID,
		"payment_method":  "CASH",
		"amount_tendered": "20000",
	}, cashierToken)
	if paid := settleP1["part"].(map[string]interface{})["paid"].(bool); !paid {
		t.Fatal("part 1 not marked paid")
	}
	if got := settleP1["bill"].(map[string]interface{})["status"].(string); got != "SUBMITTED" {
		t.Fatalf("bill B status after first part: got %s, want SUBMITTED", got)
	}

	settleP2 := httpPostJSON(t, server, "/settlements", map[string]interface{}{
		"mode":             "SPLIT_PART",
		"bill_id":          billBID,
		"part_id":          part2ID,
		"payment_method":   "QRIS",
		"reference_number": "QRIS-REF-889",
	}, cashierToken)
	if got := settleP2["bill"].(map[string]interface{})["status"].(string); got != "SETTLED" {
		t.Fatalf("bill B status after last part: got %s, want SETTLED", got)
	}

	billBAfter := httpGetJSON(t, server, "/bills/"+billBID, cashierToken)
	if got := len(billBAfter["payments"].([]interface{})); got != 2 {
		t.Fatalf("bill B payments: got %d, want 2", got)
	}
	if got := billBAfter["payment_status"].(string); got != "PAID" {
		t.Fatalf("bill B payment_status: got %s, want PAID", got)
	}
	splitAfter := httpGetJSON(t, server, "/bills/"+billBID+"/split", cashierToken)
	if got := splitAfter["session"].(map[string]interface{})["status"].(string); got != "SETTLED" {
		t.Fatalf("split session status: got %s, want SETTLED", got)
	}

	// =====================
	// Walk-in cart: rung up and settled in one call, no open tab.
	// =====================

	cartSettle := httpPostJSON(t, server, "/settlements", map[string]interface{}{
		"mode":            "CART",
		"payment_method":  "CASH",
		"amount_tendered": "15000",
		"cart": map[string]interface{}{
			"customer_name": "Mbak Tuti",
			"items": []map[string]interface{}{
				{"menu_item_id": esTehID, "quantity": 3},
			},
		},
	}, cashierToken)
	cartBill := cartSettle["bill"].(map[string]interface{})
	if got := cartBill["total"].(string); got != "15000.00" {
		t.Fatalf("cart total: got %s, want 15000.00", got)
	}
	if got := cartBill["status"].(string); got != "SETTLED" {
		t.Fatalf("cart bill status: got %s, want SETTLED", got)
	}

	// =====================
	// Drawer movements and close-out.
	// =====================

	httpPostJSON(t, server, "/shifts/"+shiftID+"/movements", map[string]interface{}{
		"direction":   "OUT",
		"amount":      "30000",
		"description": "beli gas elpiji",
		"category":    "EXPENSE",
	}, cashierToken)
	httpPostJSON(t, server, "/shifts/"+shiftID+"/movements", map[string]interface{}{
		"direction":   "IN",
		"amount":      "5000",
		"description": "tambahan uang receh",
		"category":    "DEPOSIT",
	}, cashierToken)

	active := httpGetJSON(t, server, "/shifts/active", cashierToken)
	if got := active["total_orders"].(float64); got != 4 {
		t.Fatalf("total_orders: got %v, want 4", got)
	}
	if got := active["total_revenue"].(string); got != "95000.00" {
		t.Fatalf("total_revenue: got %s, want 95000.00", got)
	}
	if got := active["cash_revenue"].(string); got != "75000.00" {
		t.Fatalf("cash_revenue: got %s, want 75000.00", got)
	}
	if got := active["noncash_revenue"].(string); got != "20000.00" {
		t.Fatalf("noncash_revenue: got %s, want 20000.00", got)
	}
	if got := len(active["movements"].([]interface{})); got != 2 {
		t.Fatalf("movements: got %d, want 2", got)
	}

	// Drawer should hold 500000 + 75000 cash sales - 30000 out + 5000 in.
	closed := httpPostJSON(t, server, "/shifts/"+shiftID+"/close", map[string]interface{}{
		"counted_cash": "549000",
	}, cashierToken)
	if got := closed["status"].(string); got != "CLOSED" {
		t.Fatalf("shift status: got %s, want CLOSED", got)
	}
	if got := closed["system_cash"].(string); got != "550000.00" {
		t.Fatalf("system_cash: got %s, want 550000.00", got)
	}
	if got := closed["final_cash"].(string); got != "549000.00" {
		t.Fatalf("final_cash: got %s, want 549000.00", got)
	}
	if got := closed["cash_difference"].(string); got != "-1000.00" {
		t.Fatalf("cash_difference: got %s, want -1000.00", got)
	}
	if _, ok := closed["warnings"]; ok {
		t.Fatal("plain shortage should close without warnings")
	}

	managerToken := login(t, server, "manager@test.com", "password123")
	shiftList := httpGetJSON(t, server, "/shifts?status=CLOSED", managerToken)
	closedShifts := shiftList["shifts"].([]interface{})
	if len(closedShifts) != 1 {
		t.Fatalf("closed shifts: got %d, want 1", len(closedShifts))
	}
	if got := closedShifts[0].(map[string]interface{})["cash_difference"].(string); got != "-1000.00" {
		t.Fatalf("listed cash_difference: got %s, want -1000.00", got)
	}

	t.Logf("Integration flow passed: container=%s shift=%s bills=[%s %s] difference=%s",
		pgContainer.GetContainerID(), shiftID, billAID, billBID, closed["cash_difference"])
}

// =====================
// Container and schema setup
// =====================

func setupPostgresContainer(t *testing.T, ctx context.Context) (*tcpostgres.PostgresContainer, string) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("pos_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return pgContainer, connStr
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		t.Fatalf("migrate driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("migrate instance: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func createAdminUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO users (email, hashed_password, full_name, role) VALUES ($1, $2, $3, 'ADMIN')`,
		"admin@test.com", string(hashed), "Test Admin")
	if err != nil {
		t.Fatalf("create admin user: %v", err)
	}
}

// =====================
// HTTP helpers
// =====================

func login(t *testing.T, server *httptest.Server, email, password string) string {
	t.Helper()

	resp := httpPostJSON(t, server, "/auth/login", map[string]interface{}{
		"email":    email,
		"password": password,
	}, "")
	token, ok := resp["access_token"].(string)
	if !ok || token == "" {
		t.Fatalf("login %s: no access_token in %v", email, resp)
	}
	return token
}

func createMenuItem(t *testing.T, server *httptest.Server, token, name, category, price string) string {
	t.Helper()

	resp := httpPostJSON(t, server, "/menu", map[string]interface{}{
		"name":     name,
		"category": category,
		"price":    price,
	}, token)
	return resp["id"].(string)
}

func findItemByName(t *testing.T, bill map[string]interface{}, name string) string {
	t.Helper()

	for _, raw := range bill["items"].([]interface{}) {
		item := raw.(map[string]interface{})
		if item["name"] == name {
			return item["id"].(string)
		}
	}
	t.Fatalf("bill has no item named %q", name)
	return ""
}

func httpPostJSON(t *testing.T, server *httptest.Server, path string, body map[string]interface{}, token string) map[string]interface{} {
	t.Helper()
	return httpDoJSON(t, server, http.MethodPost, path, body, token, "")
}

func httpPostJSONWithKey(t *testing.T, server *httptest.Server, path string, body map[string]interface{}, token, idempotencyKey string) map[string]interface{} {
	t.Helper()
	return httpDoJSON(t, server, http.MethodPost, path, body, token, idempotencyKey)
}

func httpPutJSON(t *testing.T, server *httptest.Server, path string, body map[string]interface{}, token string) map[string]interface{} {
	t.Helper()
	return httpDoJSON(t, server, http.MethodPut, path, body, token, "")
}

func httpDoJSON(t *testing.T, server *httptest.Server, method, path string, body map[string]interface{}, token, idempotencyKey string) map[string]interface{} {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal %s %s: %v", method, path, err)
	}
	req, err := http.NewRequest(method, server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("%s %s: status %d, body: %v", method, path, resp.StatusCode, result)
	}
	return result
}

func httpGetJSON(t *testing.T, server *httptest.Server, path, token string) map[string]interface{} {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	if err != nil {
		t.Fatalf("build GET %s: %v", path, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode GET %s: %v", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d, body: %v", path, resp.StatusCode, result)
	}
	return result
}
