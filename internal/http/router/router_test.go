package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flash-sale-reservation-service/internal/clock"
	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/health"
	"flash-sale-reservation-service/internal/http/handler"
	"flash-sale-reservation-service/internal/payment"
	"flash-sale-reservation-service/internal/repository"
	"flash-sale-reservation-service/internal/security"
	"flash-sale-reservation-service/internal/service"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testWebhookSecret = "whsec_router_test"

type stubGateway struct{}

func (stubGateway) Initialize(_ context.Context, req payment.InitializeRequest) (*payment.InitializeResponse, error) {
	return &payment.InitializeResponse{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "code",
		Reference:        req.Reference,
	}, nil
}

func (stubGateway) Verify(_ context.Context, reference string) (*payment.VerifyResponse, error) {
	return &payment.VerifyResponse{Reference: reference, Status: payment.StatusPending}, nil
}

type testStack struct {
	router http.Handler
	users  repository.UserRepository
	sales  *service.SaleService
	clk    *clock.Fixed
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.SaleWindow{}, &domain.LineItem{}, &domain.Reservation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	clk := &clock.Fixed{Current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	users := repository.NewUserRepository(db)
	sales := repository.NewSaleRepository(db)
	reservations := repository.NewReservationRepository(db)

	jwtManager := security.NewJWTManager("flash-sale-reservation-service", "flash-sale-api", "access-secret", "refresh-secret")
	sessions := service.NewRedisSessionStore(redisClient, "session")
	authSvc := service.NewAuthService(users, sessions, jwtManager, clock.System(), service.AuthConfig{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		RotationGrace: 30 * time.Second,
		ContextPepper: "pepper",
	})

	notifier := service.NewNoopNotifier()
	saleSvc := service.NewSaleService(sales, reservations, clk)
	reservationSvc := service.NewReservationService(
		sales, reservations,
		service.NewRedisParticipationCache(redisClient, "participated"),
		stubGateway{}, notifier, clk, 10*time.Minute, "",
	)
	settlementSvc := service.NewSettlementService(reservations, sales, stubGateway{}, notifier, clk, testWebhookSecret)

	r := NewRouter(Dependencies{
		AuthHandler:         handler.NewAuthHandler(authSvc, nil),
		SaleHandler:         handler.NewSaleHandler(saleSvc),
		ReservationHandler:  handler.NewReservationHandler(reservationSvc, settlementSvc),
		WebhookHandler:      handler.NewWebhookHandler(settlementSvc),
		Authenticator:       authSvc,
		CORSOrigins:         []string{"http://localhost"},
		APIRateLimitRPM:     10000,
		AuthRateLimitRPM:    10000,
		ReserveRateLimitRPM: 10000,
	})
	return &testStack{router: r, users: users, sales: saleSvc, clk: clk}
}

func perform(r http.Handler, method, target string, headers map[string]string, cookies []*http.Cookie, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env.Data
}

func (s *testStack) seedUser(t *testing.T, email, password string, admin bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &domain.User{
		Email:        email,
		Username:     strings.Split(email, "@")[0],
		PasswordHash: string(hash),
		IsAdmin:      admin,
		Verified:     true,
	}
	if err := s.users.Create(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (s *testStack) login(t *testing.T, email, password string) string {
	t.Helper()
	rr := perform(s.router, http.MethodPost, "/api/v1/auth/login", nil, nil,
		fmt.Sprintf(`{"email":%q,"password":%q}`, email, password))
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, rr.Code, rr.Body.String())
	}
	token, _ := decodeData(t, rr)["access_token"].(string)
	if token == "" {
		t.Fatal("login response missing access token")
	}
	return token
}

func (s *testStack) seedActiveSale(t *testing.T, adminToken string, stock int) uint {
	t.Helper()
	body := fmt.Sprintf(`{
		"title": "test drop",
		"start_time": %q,
		"end_time": %q,
		"line_items": [{"item_id": "sku-1", "sale_price": 5000, "stock_limit": %d}]
	}`, s.clk.Current.Add(-time.Hour).Format(time.RFC3339), s.clk.Current.Add(time.Hour).Format(time.RFC3339), stock)

	rr := perform(s.router, http.MethodPost, "/api/v1/admin/sales",
		map[string]string{"Authorization": "Bearer " + adminToken}, nil, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create sale: status %d body %s", rr.Code, rr.Body.String())
	}
	id := uint(decodeData(t, rr)["id"].(float64))

	rr = perform(s.router, http.MethodPost, fmt.Sprintf("/api/v1/admin/sales/%d/activate", id),
		map[string]string{"Authorization": "Bearer " + adminToken}, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("activate sale: status %d body %s", rr.Code, rr.Body.String())
	}
	return id
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestStack(t)

	rr := perform(s.router, http.MethodGet, "/health/live", nil, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("live status = %d", rr.Code)
	}
	rr = perform(s.router, http.MethodGet, "/health/ready", nil, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status = %d body %s", rr.Code, rr.Body.String())
	}
}

type failingChecker struct{}

func (failingChecker) Check(context.Context) health.CheckResult {
	return health.CheckResult{Name: "database", Error: "down"}
}

func TestHealthReadyReports503WhenDependencyDown(t *testing.T) {
	r := NewRouter(Dependencies{
		Readiness:       health.NewProbeRunner(time.Second, 0, failingChecker{}),
		APIRateLimitRPM: 10000,
	})

	rr := perform(r, http.MethodGet, "/health/ready", nil, nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "DEPENDENCY_UNREADY") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestRegisterLoginReserveFlow(t *testing.T) {
	s := newTestStack(t)
	s.seedUser(t, "admin@example.com", "admin-pass", true)
	adminToken := s.login(t, "admin@example.com", "admin-pass")
	saleID := s.seedActiveSale(t, adminToken, 3)

	rr := perform(s.router, http.MethodPost, "/api/v1/auth/register", nil, nil,
		`{"email":"buyer@example.com","username":"buyer","password":"hunter22"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rr.Code, rr.Body.String())
	}
	token := s.login(t, "buyer@example.com", "hunter22")

	rr = perform(s.router, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/reserve", saleID),
		map[string]string{"Authorization": "Bearer " + token}, nil, `{"item_id":"sku-1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("reserve: status %d body %s", rr.Code, rr.Body.String())
	}
	data := decodeData(t, rr)
	if data["payment_url"] == "" {
		t.Fatal("reserve response missing payment url")
	}

	// Second attempt by the same user is rejected and does not burn stock.
	rr = perform(s.router, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/reserve", saleID),
		map[string]string{"Authorization": "Bearer " + token}, nil, `{"item_id":"sku-1"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate reserve: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = perform(s.router, http.MethodGet, fmt.Sprintf("/api/v1/sales/%d", saleID), nil, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get sale: status %d", rr.Code)
	}
	items := decodeData(t, rr)["line_items"].([]any)
	if remaining := items[0].(map[string]any)["stock_remaining"].(float64); remaining != 2 {
		t.Fatalf("stock_remaining = %v, want 2", remaining)
	}
}

func TestReserveRequiresAuthentication(t *testing.T) {
	s := newTestStack(t)
	rr := perform(s.router, http.MethodPost, "/api/v1/sales/1/reserve", nil, nil, `{"item_id":"sku-1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestAdminRoutesRejectNonAdmin(t *testing.T) {
	s := newTestStack(t)
	s.seedUser(t, "buyer@example.com", "hunter22", false)
	token := s.login(t, "buyer@example.com", "hunter22")

	rr := perform(s.router, http.MethodPost, "/api/v1/admin/sales",
		map[string]string{"Authorization": "Bearer " + token}, nil, `{"title":"x"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestLogoutRequiresCSRFWithCookies(t *testing.T) {
	s := newTestStack(t)
	s.seedUser(t, "buyer@example.com", "hunter22", false)
	token := s.login(t, "buyer@example.com", "hunter22")

	// Cookie-based session without the CSRF pair is rejected.
	rr := perform(s.router, http.MethodPost, "/api/v1/auth/logout", nil,
		[]*http.Cookie{{Name: "access_token", Value: token}}, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}

	// With the double-submit pair it goes through.
	rr = perform(s.router, http.MethodPost, "/api/v1/auth/logout",
		map[string]string{"X-CSRF-Token": "csrf-1"},
		[]*http.Cookie{
			{Name: "access_token", Value: token},
			{Name: "csrf_token", Value: "csrf-1"},
		}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body %s, want 200", rr.Code, rr.Body.String())
	}
}

func TestBearerClientRefreshWithBodyToken(t *testing.T) {
	s := newTestStack(t)
	s.seedUser(t, "buyer@example.com", "hunter22", false)

	rr := perform(s.router, http.MethodPost, "/api/v1/auth/login", nil, nil,
		`{"email":"buyer@example.com","password":"hunter22"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rr.Code, rr.Body.String())
	}
	refresh, _ := decodeData(t, rr)["refresh_token"].(string)
	if refresh == "" {
		t.Fatal("login response missing refresh token")
	}

	// No cookies at all: the token rides in the body.
	rr = perform(s.router, http.MethodPost, "/api/v1/auth/refresh", nil, nil,
		fmt.Sprintf(`{"refresh_token":%q}`, refresh))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rr.Code, rr.Body.String())
	}
	data := decodeData(t, rr)
	if access, _ := data["access_token"].(string); access == "" {
		t.Fatal("refresh response missing access token")
	}
	if rotated, _ := data["refresh_token"].(string); rotated == "" || rotated == refresh {
		t.Fatal("refresh token was not rotated")
	}
}

func TestWebhookSettlesReservation(t *testing.T) {
	s := newTestStack(t)
	s.seedUser(t, "admin@example.com", "admin-pass", true)
	adminToken := s.login(t, "admin@example.com", "admin-pass")
	saleID := s.seedActiveSale(t, adminToken, 3)

	s.seedUser(t, "buyer@example.com", "hunter22", false)
	token := s.login(t, "buyer@example.com", "hunter22")

	rr := perform(s.router, http.MethodPost, fmt.Sprintf("/api/v1/sales/%d/reserve", saleID),
		map[string]string{"Authorization": "Bearer " + token}, nil, `{"item_id":"sku-1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("reserve: status %d body %s", rr.Code, rr.Body.String())
	}
	reservation := decodeData(t, rr)["reservation"].(map[string]any)
	reference := reservation["payment_reference"].(string)

	payload := fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":5000}}`, reference)
	signature := security.SignWebhookPayload([]byte(payload), testWebhookSecret)
	rr = perform(s.router, http.MethodPost, "/api/v1/payments/webhook",
		map[string]string{"X-Webhook-Signature": signature}, nil, payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = perform(s.router, http.MethodGet, "/api/v1/reservations/"+reference,
		map[string]string{"Authorization": "Bearer " + token}, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get reservation: status %d body %s", rr.Code, rr.Body.String())
	}
	if status := decodeData(t, rr)["status"].(string); status != "completed" {
		t.Fatalf("status = %q, want completed", status)
	}

	// Tampered signature is rejected.
	rr = perform(s.router, http.MethodPost, "/api/v1/payments/webhook",
		map[string]string{"X-Webhook-Signature": "deadbeef"}, nil, payload)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("tampered webhook: status %d, want 401", rr.Code)
	}
}

func TestUnknownWebhookReferenceAcknowledged(t *testing.T) {
	s := newTestStack(t)
	payload := `{"event":"charge.success","data":{"reference":"no-such-ref"}}`
	signature := security.SignWebhookPayload([]byte(payload), testWebhookSecret)

	rr := perform(s.router, http.MethodPost, "/api/v1/payments/webhook",
		map[string]string{"X-Webhook-Signature": signature}, nil, payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ignored") {
		t.Fatalf("body = %s, want ignored status", rr.Body.String())
	}
}
