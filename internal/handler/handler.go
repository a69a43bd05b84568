// Package handler содержит HTTP-обработчики API сервиса картовед.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/kartoved-system/internal/middleware"
	"github.com/mmeshcher/kartoved-system/internal/model"
	"github.com/mmeshcher/kartoved-system/internal/repository"
	"github.com/mmeshcher/kartoved-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	CreateCard(ctx context.Context, userID int64, bankName, lastFourDigits string, cardHolderName *string) (*model.BankCard, error)
	GetCards(ctx context.Context, userID int64) ([]model.BankCard, error)
	DeleteCard(ctx context.Context, userID int64, cardID string) error
	AddCashbackRate(ctx context.Context, userID int64, cardID string, params service.RateParams) (*model.CashbackRate, error)
	DetectMerchant(ctx context.Context, userID int64, params service.DetectionParams) (*service.DetectionOutcome, error)
	GetWidgetStats(ctx context.Context, userID int64) (*model.WidgetStats, error)
	RecordWidgetUse(ctx context.Context, userID int64, savings float64) (*model.WidgetStats, error)
}

// Handler реализует HTTP-обработчики API сервиса картовед.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type cardRequest struct {
	BankName       string  `json:"bank_name"`
	LastFourDigits string  `json:"last_four_digits"`
	CardHolderName *string `json:"card_holder_name,omitempty"`
}

type rateResponse struct {
	ID              string  `json:"id"`
	MCCCode         string  `json:"mcc_code"`
	CategoryName    string  `json:"category_name"`
	CashbackPercent float64 `json:"cashback_percent"`
	ValidFrom       string  `json:"valid_from"`
	ValidUntil      string  `json:"valid_until"`
	IsActive        bool    `json:"is_active"`
}

type cardResponse struct {
	ID             string         `json:"id"`
	BankName       string         `json:"bank_name"`
	LastFourDigits string         `json:"last_four_digits"`
	CardHolderName *string        `json:"card_holder_name,omitempty"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      string         `json:"created_at"`
	CashbackRates  []rateResponse `json:"cashback_rates"`
}

func toCardResponse(c *model.BankCard) cardResponse {
	rates := make([]rateResponse, 0, len(c.Rates))
	for _, rate := range c.Rates {
		rates = append(rates, rateResponse{
			ID:              rate.ID,
			MCCCode:         rate.MCCCode,
			CategoryName:    rate.CategoryName,
			CashbackPercent: rate.CashbackPercent,
			ValidFrom:       rate.ValidFrom.Format(time.RFC3339),
			ValidUntil:      rate.ValidUntil.Format(time.RFC3339),
			IsActive:        rate.IsActive,
		})
	}

	return cardResponse{
		ID:             c.ID,
		BankName:       c.BankName,
		LastFourDigits: c.LastFourDigits,
		CardHolderName: c.CardHolderName,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		CashbackRates:  rates,
	}
}

// CreateCard регистрирует новую карту текущего пользователя.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	card, err := h.service.CreateCard(r.Context(), userID, req.BankName, req.LastFourDigits, req.CardHolderName)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCardData) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("create card error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toCardResponse(card)); err != nil {
		h.logger.Error("encode card response", zap.Error(err))
	}
}

// GetCards возвращает карты текущего пользователя со ставками кэшбэка.
func (h *Handler) GetCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cards, err := h.service.GetCards(r.Context(), userID)
	if err != nil {
		h.logger.Error("get cards error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(cards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]cardResponse, 0, len(cards))
	for i := range cards {
		resp = append(resp, toCardResponse(&cards[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// DeleteCard мягко удаляет карту текущего пользователя.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cardID := chi.URLParam(r, "cardID")

	if err := h.service.DeleteCard(r.Context(), userID, cardID); err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete card error", zap.Error(err), zap.Int64("userID", userID), zap.String("cardID", cardID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type rateRequest struct {
	MCCCode         string  `json:"mcc_code"`
	CategoryName    string  `json:"category_name"`
	CashbackPercent float64 `json:"cashback_percent"`
	ValidFrom       string  `json:"valid_from"`
	ValidUntil      string  `json:"valid_until"`
}

// AddCashbackRate добавляет ставку кэшбэка карте текущего пользователя.
func (h *Handler) AddCashbackRate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cardID := chi.URLParam(r, "cardID")

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	validFrom, err := time.Parse(time.RFC3339, req.ValidFrom)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	validUntil, err := time.Parse(time.RFC3339, req.ValidUntil)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rate, err := h.service.AddCashbackRate(r.Context(), userID, cardID, service.RateParams{
		MCCCode:         req.MCCCode,
		CategoryName:    req.CategoryName,
		CashbackPercent: req.CashbackPercent,
		ValidFrom:       validFrom,
		ValidUntil:      validUntil,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRateData):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrCardNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("add cashback rate error", zap.Error(err), zap.Int64("userID", userID), zap.String("cardID", cardID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rateResponse{
		ID:              rate.ID,
		MCCCode:         rate.MCCCode,
		CategoryName:    rate.CategoryName,
		CashbackPercent: rate.CashbackPercent,
		ValidFrom:       rate.ValidFrom.Format(time.RFC3339),
		ValidUntil:      rate.ValidUntil.Format(time.RFC3339),
		IsActive:        rate.IsActive,
	}); err != nil {
		h.logger.Error("encode rate response", zap.Error(err))
	}
}

type detectRequest struct {
	WifiSSID       *string  `json:"wifi_ssid,omitempty"`
	WifiBSSID      *string  `json:"wifi_bssid,omitempty"`
	WifiRSSI       *int     `json:"wifi_rssi,omitempty"`
	BluetoothUUID  *string  `json:"bluetooth_uuid,omitempty"`
	BluetoothMajor *uint16  `json:"bluetooth_major,omitempty"`
	BluetoothMinor *uint16  `json:"bluetooth_minor,omitempty"`
	NFCTerminalID  *string  `json:"nfc_terminal_id,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	GPSAccuracy    *float64 `json:"gps_accuracy,omitempty"`
}

type merchantResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	MCCCode         string   `json:"mcc_code"`
	Confidence      float64  `json:"confidence"`
	DetectionMethod string   `json:"detection_method"`
	DistanceMeters  *float64 `json:"distance_meters,omitempty"`
}

type bestCardResponse struct {
	BankName        string  `json:"bank_name"`
	LastFourDigits  string  `json:"last_four_digits"`
	CashbackPercent float64 `json:"cashback_percent"`
	CategoryName    string  `json:"category_name"`
}

type detectResponse struct {
	Detected bool              `json:"detected"`
	Merchant *merchantResponse `json:"merchant,omitempty"`
	BestCard *bestCardResponse `json:"best_card,omitempty"`
}

// DetectMerchant принимает сигналы устройства, определяет торговую точку и
// возвращает карту с максимальным кэшбэком для её категории. Отсутствие
// сигнала или ненайденная точка — успешный ответ с detected=false.
func (h *Handler) DetectMerchant(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	outcome, err := h.service.DetectMerchant(r.Context(), userID, service.DetectionParams{
		WifiSSID:       req.WifiSSID,
		WifiBSSID:      req.WifiBSSID,
		WifiRSSI:       req.WifiRSSI,
		BluetoothUUID:  req.BluetoothUUID,
		BluetoothMajor: req.BluetoothMajor,
		BluetoothMinor: req.BluetoothMinor,
		NFCTerminalID:  req.NFCTerminalID,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		GPSAccuracy:    req.GPSAccuracy,
	})
	if err != nil {
		if errors.Is(err, service.ErrResolverUnavailable) {
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		h.logger.Error("detect merchant error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := detectResponse{Detected: outcome.Detected}
	if outcome.Detected {
		resp.Merchant = &merchantResponse{
			ID:              outcome.Merchant.ID,
			Name:            outcome.Merchant.Name,
			MCCCode:         outcome.Merchant.MCCCode,
			Confidence:      outcome.Result.Confidence,
			DetectionMethod: string(outcome.Result.Method),
			DistanceMeters:  outcome.Result.DistanceMeters,
		}
		if outcome.BestCard != nil && outcome.BestRate != nil {
			resp.BestCard = &bestCardResponse{
				BankName:        outcome.BestCard.BankName,
				LastFourDigits:  outcome.BestCard.LastFourDigits,
				CashbackPercent: outcome.BestRate.CashbackPercent,
				CategoryName:    outcome.BestRate.CategoryName,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type widgetStatsResponse struct {
	TotalUses        int64   `json:"total_uses"`
	EstimatedSavings float64 `json:"estimated_savings"`
	LastUsedAt       string  `json:"last_used_at,omitempty"`
}

func toWidgetStatsResponse(stats *model.WidgetStats) widgetStatsResponse {
	resp := widgetStatsResponse{
		TotalUses:        stats.TotalUses,
		EstimatedSavings: stats.EstimatedSavings,
	}
	if !stats.LastUsedAt.IsZero() {
		resp.LastUsedAt = stats.LastUsedAt.Format(time.RFC3339)
	}
	return resp
}

// GetWidgetStats возвращает статистику использования виджета текущего пользователя.
func (h *Handler) GetWidgetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	stats, err := h.service.GetWidgetStats(r.Context(), userID)
	if err != nil {
		h.logger.Error("get widget stats error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toWidgetStatsResponse(stats)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type widgetUseRequest struct {
	Savings float64 `json:"savings"`
}

// RecordWidgetUse фиксирует использование виджета текущим пользователем.
func (h *Handler) RecordWidgetUse(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req widgetUseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Savings < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	stats, err := h.service.RecordWidgetUse(r.Context(), userID, req.Savings)
	if err != nil {
		h.logger.Error("record widget use error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toWidgetStatsResponse(stats)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// Health проверяет доступность сервиса и его хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("health check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		h.logger.Error("write health response", zap.Error(err))
	}
}
