// Package service реализует бизнес-логику сервиса картовед.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/kartoved-system/internal/cashback"
	"github.com/mmeshcher/kartoved-system/internal/detector"
	"github.com/mmeshcher/kartoved-system/internal/model"
	"github.com/mmeshcher/kartoved-system/internal/repository"
	"github.com/mmeshcher/kartoved-system/internal/validation"
)

// ErrInvalidCardData возвращается при нарушении формата данных карты;
// запись в хранилище при этом не выполняется.
var (
	ErrInvalidCardData = errors.New("invalid card data")
	// ErrInvalidRateData возвращается при некорректной ставке кэшбэка.
	ErrInvalidRateData = errors.New("invalid cashback rate data")
	// ErrResolverUnavailable возвращается при сбое реестра торговых точек.
	// Это повторяемая ошибка, а не ответ «точка не найдена».
	ErrResolverUnavailable = errors.New("merchant registry unavailable")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateCard(ctx context.Context, userID int64, bankName, lastFourDigits string, cardHolderName *string) (*model.BankCard, error)
	GetCardsByUser(ctx context.Context, userID int64) ([]model.BankCard, error)
	DeleteCard(ctx context.Context, userID int64, cardID string) error
	CreateCashbackRate(ctx context.Context, userID int64, cardID string, rate model.CashbackRate) (*model.CashbackRate, error)
	AddSignalHistory(ctx context.Context, userID int64, res *model.DetectionResult, merchant *model.Merchant) error
	GetWidgetStats(ctx context.Context, userID int64) (*model.WidgetStats, error)
	RecordWidgetUse(ctx context.Context, userID int64, savings float64) (*model.WidgetStats, error)
}

// MerchantResolver описывает контракт внешнего реестра торговых точек.
// Resolve обязан быть идемпотентным; (nil, nil) означает «реестр ответил,
// точка не найдена», ошибка — сбой самого реестра.
type MerchantResolver interface {
	Resolve(ctx context.Context, res *model.DetectionResult) (*model.Merchant, error)
}

// Service содержит бизнес-логику сервиса картовед.
type Service struct {
	repo          Repository
	resolver      MerchantResolver
	logger        *zap.Logger
	detectTimeout time.Duration
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом
// реестра торговых точек.
func NewService(repo Repository, resolver MerchantResolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		logger:   logger,
	}
}

// SetDetectTimeout ограничивает время полного цикла определения торговой
// точки. Нулевое значение отключает ограничение.
func (s *Service) SetDetectTimeout(d time.Duration) {
	s.detectTimeout = d
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if !hmac.Equal(hashed, u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateCard проверяет инварианты карты и сохраняет её. Принимаются только
// последние четыре цифры номера; любое другое значение отклоняется до
// обращения к хранилищу.
func (s *Service) CreateCard(ctx context.Context, userID int64, bankName, lastFourDigits string, cardHolderName *string) (*model.BankCard, error) {
	if bankName == "" {
		return nil, fmt.Errorf("%w: bank name is empty", ErrInvalidCardData)
	}
	if !validation.IsValidLastFourDigits(lastFourDigits) {
		return nil, fmt.Errorf("%w: last four digits must be exactly 4 decimal digits", ErrInvalidCardData)
	}
	return s.repo.CreateCard(ctx, userID, bankName, lastFourDigits, cardHolderName)
}

// GetCards возвращает карты пользователя вместе со ставками кэшбэка.
func (s *Service) GetCards(ctx context.Context, userID int64) ([]model.BankCard, error) {
	return s.repo.GetCardsByUser(ctx, userID)
}

// DeleteCard мягко удаляет карту пользователя.
func (s *Service) DeleteCard(ctx context.Context, userID int64, cardID string) error {
	return s.repo.DeleteCard(ctx, userID, cardID)
}

// RateParams — данные новой ставки кэшбэка.
type RateParams struct {
	MCCCode         string
	CategoryName    string
	CashbackPercent float64
	ValidFrom       time.Time
	ValidUntil      time.Time
}

// AddCashbackRate проверяет инварианты ставки и сохраняет её для карты
// пользователя.
func (s *Service) AddCashbackRate(ctx context.Context, userID int64, cardID string, params RateParams) (*model.CashbackRate, error) {
	if !validation.IsValidMCCCode(params.MCCCode) {
		return nil, fmt.Errorf("%w: malformed MCC code", ErrInvalidRateData)
	}
	if params.CategoryName == "" {
		return nil, fmt.Errorf("%w: category name is empty", ErrInvalidRateData)
	}
	if params.CashbackPercent < 0 {
		return nil, fmt.Errorf("%w: cashback percent is negative", ErrInvalidRateData)
	}
	if !params.ValidFrom.Before(params.ValidUntil) {
		return nil, fmt.Errorf("%w: validity window is empty", ErrInvalidRateData)
	}

	return s.repo.CreateCashbackRate(ctx, userID, cardID, model.CashbackRate{
		MCCCode:         params.MCCCode,
		CategoryName:    params.CategoryName,
		CashbackPercent: params.CashbackPercent,
		ValidFrom:       params.ValidFrom,
		ValidUntil:      params.ValidUntil,
	})
}

// DetectionParams — плоский набор опциональных полей сигналов, пришедший от
// устройства.
type DetectionParams struct {
	WifiSSID       *string
	WifiBSSID      *string
	WifiRSSI       *int
	BluetoothUUID  *string
	BluetoothMajor *uint16
	BluetoothMinor *uint16
	NFCTerminalID  *string
	Latitude       *float64
	Longitude      *float64
	GPSAccuracy    *float64
}

// readings переводит плоский набор полей в замкнутые варианты показаний,
// чтобы арбитраж не мог опереться на поле чужого способа определения.
func (p DetectionParams) readings(now time.Time) []model.SignalReading {
	var rs []model.SignalReading

	if p.NFCTerminalID != nil && *p.NFCTerminalID != "" {
		rs = append(rs, model.NFCReading{TerminalID: *p.NFCTerminalID, DetectedAt: now})
	}

	if p.WifiBSSID != nil || p.WifiSSID != nil {
		w := model.WifiReading{RSSI: p.WifiRSSI, DetectedAt: now}
		if p.WifiSSID != nil {
			w.SSID = *p.WifiSSID
		}
		if p.WifiBSSID != nil {
			w.BSSID = *p.WifiBSSID
		}
		if w.SSID != "" || w.BSSID != "" {
			rs = append(rs, w)
		}
	}

	if p.BluetoothUUID != nil && *p.BluetoothUUID != "" {
		b := model.BluetoothReading{UUID: *p.BluetoothUUID, DetectedAt: now}
		if p.BluetoothMajor != nil {
			b.Major = *p.BluetoothMajor
		}
		if p.BluetoothMinor != nil {
			b.Minor = *p.BluetoothMinor
		}
		rs = append(rs, b)
	}

	if p.Latitude != nil && p.Longitude != nil {
		g := model.GPSReading{Latitude: *p.Latitude, Longitude: *p.Longitude, DetectedAt: now}
		if p.GPSAccuracy != nil {
			g.Accuracy = *p.GPSAccuracy
		}
		rs = append(rs, g)
	}

	return rs
}

// DetectionOutcome — итог полного цикла определения.
type DetectionOutcome struct {
	Detected bool
	Result   *model.DetectionResult
	Merchant *model.Merchant
	BestCard *model.BankCard
	BestRate *model.CashbackRate
}

// DetectMerchant выполняет полный цикл: арбитраж сигналов, поиск торговой
// точки в реестре и выбор карты с максимальным кэшбэком для её категории.
// Отсутствие сигнала и ненайденная точка — обычные исходы с Detected=false;
// сбой реестра возвращается ошибкой ErrResolverUnavailable.
func (s *Service) DetectMerchant(ctx context.Context, userID int64, params DetectionParams) (*DetectionOutcome, error) {
	if s.detectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.detectTimeout)
		defer cancel()
	}

	now := time.Now()

	res, err := detector.Arbitrate(params.readings(now), now)
	if err != nil {
		if errors.Is(err, detector.ErrNotDetected) {
			return &DetectionOutcome{}, nil
		}
		return nil, err
	}

	merchant, err := s.resolver.Resolve(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolverUnavailable, err)
	}

	// История пишется и для ненайденных точек; её недоступность не должна
	// ломать само определение.
	if histErr := s.repo.AddSignalHistory(ctx, userID, res, merchant); histErr != nil {
		s.logger.Error("add signal history", zap.Error(histErr))
	}

	if merchant == nil {
		return &DetectionOutcome{Result: res}, nil
	}

	cards, err := s.repo.GetCardsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	bestCard, bestRate := cashback.SelectBestCard(merchant.MCCCode, cards, now)

	return &DetectionOutcome{
		Detected: true,
		Result:   res,
		Merchant: merchant,
		BestCard: bestCard,
		BestRate: bestRate,
	}, nil
}

// GetWidgetStats возвращает статистику использования виджета.
func (s *Service) GetWidgetStats(ctx context.Context, userID int64) (*model.WidgetStats, error) {
	return s.repo.GetWidgetStats(ctx, userID)
}

// RecordWidgetUse фиксирует использование виджета и накапливает оценку
// сэкономленного.
func (s *Service) RecordWidgetUse(ctx context.Context, userID int64, savings float64) (*model.WidgetStats, error) {
	if savings < 0 {
		return nil, errors.New("savings must not be negative")
	}
	return s.repo.RecordWidgetUse(ctx, userID, savings)
}
