package model

import "time"

// DetectionMethod обозначает способ, которым определена торговая точка.
type DetectionMethod string

const (
	MethodNFC       DetectionMethod = "nfc"
	MethodWifiBSSID DetectionMethod = "wifi_bssid"
	MethodBluetooth DetectionMethod = "bluetooth"
	MethodWifiSSID  DetectionMethod = "wifi_ssid"
	MethodGPS       DetectionMethod = "gps"
)

// SignalReading — показание одного датчика. Множество вариантов закрыто:
// NFCReading, WifiReading, BluetoothReading и GPSReading. Показания
// неизменяемы после создания; выбор между ними выполняет арбитр каскада.
type SignalReading interface {
	ReadingTime() time.Time
	isReading()
}

// NFCReading — идентификатор NFC-терминала.
type NFCReading struct {
	TerminalID string
	DetectedAt time.Time
}

// ReadingTime возвращает момент получения показания.
func (r NFCReading) ReadingTime() time.Time { return r.DetectedAt }

func (NFCReading) isReading() {}

// WifiReading — результат сканирования WiFi-сети. BSSID и SSID могут
// присутствовать независимо друг от друга, RSSI опционален.
type WifiReading struct {
	SSID       string
	BSSID      string
	RSSI       *int
	DetectedAt time.Time
}

// ReadingTime возвращает момент получения показания.
func (r WifiReading) ReadingTime() time.Time { return r.DetectedAt }

func (WifiReading) isReading() {}

// BluetoothReading — показание BLE-маяка формата iBeacon.
type BluetoothReading struct {
	UUID       string
	Major      uint16
	Minor      uint16
	DetectedAt time.Time
}

// ReadingTime возвращает момент получения показания.
func (r BluetoothReading) ReadingTime() time.Time { return r.DetectedAt }

func (BluetoothReading) isReading() {}

// GPSReading — координаты GPS. Accuracy — горизонтальная точность в метрах.
type GPSReading struct {
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	DetectedAt time.Time
}

// ReadingTime возвращает момент получения показания.
func (r GPSReading) ReadingTime() time.Time { return r.DetectedAt }

func (GPSReading) isReading() {}

// DetectionResult — итог каскадного определения: выбранный способ, его
// уверенность и поля выигравшего сигнала. Создаётся заново на каждый вызов
// и после возврата не изменяется.
type DetectionResult struct {
	Method         DetectionMethod
	Confidence     float64
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
	DistanceMeters *float64
	DetectedAt     time.Time
}
