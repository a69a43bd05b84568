// Package model содержит доменные сущности сервиса картовед.
package model

import "time"

// User представляет зарегистрированного пользователя сервиса.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// BankCard описывает банковскую карту пользователя. LastFourDigits хранит
// ровно четыре последние цифры номера — полный номер карты в системе не
// появляется никогда.
type BankCard struct {
	ID             string
	BankName       string
	LastFourDigits string
	CardHolderName *string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Rates          []CashbackRate
}

// CashbackRate описывает ставку кэшбэка карты для категории MCC.
// Ставка применима в момент T, если она активна и ValidFrom <= T < ValidUntil.
type CashbackRate struct {
	ID              string
	BankCardID      string
	MCCCode         string
	CategoryName    string
	CashbackPercent float64
	ValidFrom       time.Time
	ValidUntil      time.Time
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Merchant описывает торговую точку, найденную внешним реестром по сигналу.
type Merchant struct {
	ID             string
	Name           string
	MCCCode        string
	Latitude       *float64
	Longitude      *float64
	DistanceMeters *float64
}

// WidgetStats содержит статистику использования виджета пользователем.
type WidgetStats struct {
	TotalUses        int64
	EstimatedSavings float64
	LastUsedAt       time.Time
}
