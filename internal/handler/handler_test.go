package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/kartoved-system/internal/middleware"
	"github.com/mmeshcher/kartoved-system/internal/model"
	"github.com/mmeshcher/kartoved-system/internal/repository"
	"github.com/mmeshcher/kartoved-system/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	createCardResp *model.BankCard
	createCardErr  error

	cardsResp []model.BankCard
	cardsErr  error

	deleteCardErr error

	addRateResp *model.CashbackRate
	addRateErr  error

	detectResp *service.DetectionOutcome
	detectErr  error

	statsResp *model.WidgetStats
	statsErr  error

	useResp *model.WidgetStats
	useErr  error
}

func (s *stubService) Ping(ctx context.Context) error { return nil }

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) CreateCard(ctx context.Context, userID int64, bankName, lastFourDigits string, cardHolderName *string) (*model.BankCard, error) {
	return s.createCardResp, s.createCardErr
}

func (s *stubService) GetCards(ctx context.Context, userID int64) ([]model.BankCard, error) {
	return s.cardsResp, s.cardsErr
}

func (s *stubService) DeleteCard(ctx context.Context, userID int64, cardID string) error {
	return s.deleteCardErr
}

func (s *stubService) AddCashbackRate(ctx context.Context, userID int64, cardID string, params service.RateParams) (*model.CashbackRate, error) {
	return s.addRateResp, s.addRateErr
}

func (s *stubService) DetectMerchant(ctx context.Context, userID int64, params service.DetectionParams) (*service.DetectionOutcome, error) {
	return s.detectResp, s.detectErr
}

func (s *stubService) GetWidgetStats(ctx context.Context, userID int64) (*model.WidgetStats, error) {
	return s.statsResp, s.statsErr
}

func (s *stubService) RecordWidgetUse(ctx context.Context, userID int64, savings float64) (*model.WidgetStats, error) {
	return s.useResp, s.useErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func authorizedRequest(t *testing.T, h *Handler, method, target string, body []byte) *http.Request {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, 1)
	req.AddCookie(rec.Result().Cookies()[0])

	return req
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatal("expected session cookie on successful register")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{Login: "user", Password: "pass"})

	req := httptest.NewRequest(http.MethodPost, "/api/user/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_Unauthorized(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "wrong",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateCard_Created(t *testing.T) {
	svc := &stubService{
		createCardResp: &model.BankCard{
			ID:             "card-1",
			BankName:       "Alfa",
			LastFourDigits: "1234",
			IsActive:       true,
			CreatedAt:      time.Now(),
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(cardRequest{BankName: "Alfa", LastFourDigits: "1234"})
	req := authorizedRequest(t, h, http.MethodPost, "/api/cards", body)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.CreateCard)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp cardResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LastFourDigits != "1234" {
		t.Fatalf("last_four_digits = %q, want 1234", resp.LastFourDigits)
	}
}

func TestCreateCard_InvalidData(t *testing.T) {
	svc := &stubService{
		createCardErr: service.ErrInvalidCardData,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(cardRequest{BankName: "Alfa", LastFourDigits: "4111111111111111"})
	req := authorizedRequest(t, h, http.MethodPost, "/api/cards", body)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.CreateCard)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestGetCards_NoContent(t *testing.T) {
	svc := &stubService{
		cardsResp: []model.BankCard{},
	}
	h := newTestHandler(t, svc)

	req := authorizedRequest(t, h, http.MethodGet, "/api/cards", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.GetCards)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestDeleteCard_NotFound(t *testing.T) {
	svc := &stubService{
		deleteCardErr: repository.ErrCardNotFound,
	}
	h := newTestHandler(t, svc)

	req := authorizedRequest(t, h, http.MethodDelete, "/api/cards/missing", nil)
	rec := httptest.NewRecorder()

	router := h.SetupRouter()
	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestAddCashbackRate_Unprocessable(t *testing.T) {
	svc := &stubService{
		addRateErr: service.ErrInvalidRateData,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(rateRequest{
		MCCCode:         "54",
		CategoryName:    "Супермаркеты",
		CashbackPercent: 5,
		ValidFrom:       time.Now().Format(time.RFC3339),
		ValidUntil:      time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	req := authorizedRequest(t, h, http.MethodPost, "/api/cards/card-1/cashback", body)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestDetectMerchant_NotDetected(t *testing.T) {
	svc := &stubService{
		detectResp: &service.DetectionOutcome{},
	}
	h := newTestHandler(t, svc)

	req := authorizedRequest(t, h, http.MethodPost, "/api/merchant/detect", []byte(`{}`))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.DetectMerchant)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp detectResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Detected {
		t.Fatal("expected detected=false")
	}
	if resp.Merchant != nil || resp.BestCard != nil {
		t.Fatal("merchant and best_card must be omitted when nothing is detected")
	}
}

func TestDetectMerchant_Found(t *testing.T) {
	distance := 0.7
	svc := &stubService{
		detectResp: &service.DetectionOutcome{
			Detected: true,
			Result: &model.DetectionResult{
				Method:         model.MethodWifiBSSID,
				Confidence:     0.98,
				DistanceMeters: &distance,
			},
			Merchant: &model.Merchant{ID: "m1", Name: "Пятёрочка", MCCCode: "5411"},
			BestCard: &model.BankCard{BankName: "Alfa", LastFourDigits: "1234"},
			BestRate: &model.CashbackRate{CashbackPercent: 5, CategoryName: "Супермаркеты"},
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(detectRequest{})
	req := authorizedRequest(t, h, http.MethodPost, "/api/merchant/detect", body)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.DetectMerchant)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp detectResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Detected {
		t.Fatal("expected detected=true")
	}
	if resp.Merchant == nil || resp.Merchant.DetectionMethod != "wifi_bssid" {
		t.Fatalf("unexpected merchant: %+v", resp.Merchant)
	}
	if resp.Merchant.DistanceMeters == nil || *resp.Merchant.DistanceMeters != 0.7 {
		t.Fatalf("unexpected distance: %+v", resp.Merchant.DistanceMeters)
	}
	if resp.BestCard == nil || resp.BestCard.CashbackPercent != 5 {
		t.Fatalf("unexpected best card: %+v", resp.BestCard)
	}
}

func TestDetectMerchant_RegistryUnavailable(t *testing.T) {
	svc := &stubService{
		detectErr: service.ErrResolverUnavailable,
	}
	h := newTestHandler(t, svc)

	req := authorizedRequest(t, h, http.MethodPost, "/api/merchant/detect", []byte(`{"nfc_terminal_id":"TERM-1"}`))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.DetectMerchant)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadGateway)
	}
}

func TestDetectMerchant_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/merchant/detect", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestGetWidgetStats_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		statsResp: &model.WidgetStats{
			TotalUses:        3,
			EstimatedSavings: 120.5,
			LastUsedAt:       now,
		},
	}
	h := newTestHandler(t, svc)

	req := authorizedRequest(t, h, http.MethodGet, "/api/widget/stats", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.GetWidgetStats)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp widgetStatsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalUses != 3 || resp.EstimatedSavings != 120.5 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
}

func TestHealth_OK(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", resp["status"])
	}
}

func TestRecordWidgetUse_NegativeSavings(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := authorizedRequest(t, h, http.MethodPost, "/api/widget/use", []byte(`{"savings":-1}`))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.RecordWidgetUse)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}
