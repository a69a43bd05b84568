package detector

import (
	"context"
	"time"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

// Имитации датчиков. Настоящие радиомодули доступны только на устройстве;
// агент и тесты подставляют сюда заранее известные показания с искусственной
// задержкой.

// SimulatedNFC имитирует чтение NFC-терминала. Пустой TerminalID означает
// отсутствие сигнала.
type SimulatedNFC struct {
	TerminalID string
	Delay      time.Duration
}

// Acquire возвращает настроенное показание после задержки Delay.
func (s SimulatedNFC) Acquire(ctx context.Context) (model.SignalReading, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return nil, err
	}
	if s.TerminalID == "" {
		return nil, nil
	}
	return model.NFCReading{TerminalID: s.TerminalID, DetectedAt: time.Now()}, nil
}

// SimulatedWifi имитирует сканирование WiFi-сети.
type SimulatedWifi struct {
	SSID  string
	BSSID string
	RSSI  *int
	Delay time.Duration
}

// Acquire возвращает настроенное показание после задержки Delay.
func (s SimulatedWifi) Acquire(ctx context.Context) (model.SignalReading, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return nil, err
	}
	if s.SSID == "" && s.BSSID == "" {
		return nil, nil
	}
	return model.WifiReading{
		SSID:       s.SSID,
		BSSID:      s.BSSID,
		RSSI:       s.RSSI,
		DetectedAt: time.Now(),
	}, nil
}

// SimulatedBluetooth имитирует сканирование BLE-маяка.
type SimulatedBluetooth struct {
	UUID  string
	Major uint16
	Minor uint16
	Delay time.Duration
}

// Acquire возвращает настроенное показание после задержки Delay.
func (s SimulatedBluetooth) Acquire(ctx context.Context) (model.SignalReading, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return nil, err
	}
	if s.UUID == "" {
		return nil, nil
	}
	return model.BluetoothReading{
		UUID:       s.UUID,
		Major:      s.Major,
		Minor:      s.Minor,
		DetectedAt: time.Now(),
	}, nil
}

// SimulatedGPS имитирует получение координат. Present управляет наличием
// фиксации: координаты (0, 0) — допустимое показание.
type SimulatedGPS struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Present   bool
	Delay     time.Duration
}

// Acquire возвращает настроенное показание после задержки Delay.
func (s SimulatedGPS) Acquire(ctx context.Context) (model.SignalReading, error) {
	if err := sleep(ctx, s.Delay); err != nil {
		return nil, err
	}
	if !s.Present {
		return nil, nil
	}
	return model.GPSReading{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Accuracy:   s.Accuracy,
		DetectedAt: time.Now(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
