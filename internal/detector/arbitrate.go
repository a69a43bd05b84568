// Package detector реализует каскадное определение торговой точки по
// сигналам NFC, WiFi, Bluetooth и GPS.
package detector

import (
	"errors"
	"time"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

// ErrNotDetected возвращается, когда ни один датчик не дал сигнала.
var ErrNotDetected = errors.New("no signal detected")

// Уверенность каждого уровня каскада.
const (
	confidenceNFC       = 0.99
	confidenceWifiBSSID = 0.98
	confidenceBluetooth = 0.95
	confidenceWifiSSID  = 0.90
	confidenceGPSGood   = 0.80
	confidenceGPSCoarse = 0.70

	// gpsAccuracyGoodMeters — граница точности GPS: строго меньше — 0.80,
	// ровно 50 и хуже — 0.70. Неизвестная точность (ноль или отрицательная)
	// приравнивается к грубой.
	gpsAccuracyGoodMeters = 50.0
)

// Arbitrate выбирает один сигнал из набора показаний по фиксированному
// приоритету: NFC > WiFi BSSID > Bluetooth > WiFi SSID > GPS. Это строгий
// каскад, а не взвешенное голосование: первый подошедший уровень выигрывает.
// Порядок элементов readings на выбор не влияет. Возвращает ErrNotDetected,
// если не подошло ни одно показание.
func Arbitrate(readings []model.SignalReading, now time.Time) (*model.DetectionResult, error) {
	var (
		nfc  *model.NFCReading
		wifi *model.WifiReading
		bt   *model.BluetoothReading
		gps  *model.GPSReading
	)

	for _, r := range readings {
		switch v := r.(type) {
		case model.NFCReading:
			if nfc == nil && v.TerminalID != "" {
				nfc = &v
			}
		case model.WifiReading:
			if wifi == nil && (v.BSSID != "" || v.SSID != "") {
				wifi = &v
			}
		case model.BluetoothReading:
			if bt == nil && v.UUID != "" {
				bt = &v
			}
		case model.GPSReading:
			if gps == nil {
				gps = &v
			}
		}
	}

	if nfc != nil {
		terminalID := nfc.TerminalID
		return &model.DetectionResult{
			Method:        model.MethodNFC,
			Confidence:    confidenceNFC,
			NFCTerminalID: &terminalID,
			DetectedAt:    now,
		}, nil
	}

	if wifi != nil && wifi.BSSID != "" {
		bssid := wifi.BSSID
		res := &model.DetectionResult{
			Method:     model.MethodWifiBSSID,
			Confidence: confidenceWifiBSSID,
			WifiBSSID:  &bssid,
			WifiRSSI:   wifi.RSSI,
			DetectedAt: now,
		}
		if wifi.SSID != "" {
			ssid := wifi.SSID
			res.WifiSSID = &ssid
		}
		attachDistance(res)
		return res, nil
	}

	if bt != nil {
		uuid, major, minor := bt.UUID, bt.Major, bt.Minor
		return &model.DetectionResult{
			Method:         model.MethodBluetooth,
			Confidence:     confidenceBluetooth,
			BluetoothUUID:  &uuid,
			BluetoothMajor: &major,
			BluetoothMinor: &minor,
			DetectedAt:     now,
		}, nil
	}

	if wifi != nil {
		ssid := wifi.SSID
		res := &model.DetectionResult{
			Method:     model.MethodWifiSSID,
			Confidence: confidenceWifiSSID,
			WifiSSID:   &ssid,
			WifiRSSI:   wifi.RSSI,
			DetectedAt: now,
		}
		attachDistance(res)
		return res, nil
	}

	if gps != nil {
		confidence := confidenceGPSCoarse
		if gps.Accuracy > 0 && gps.Accuracy < gpsAccuracyGoodMeters {
			confidence = confidenceGPSGood
		}
		lat, lon, acc := gps.Latitude, gps.Longitude, gps.Accuracy
		return &model.DetectionResult{
			Method:      model.MethodGPS,
			Confidence:  confidence,
			Latitude:    &lat,
			Longitude:   &lon,
			GPSAccuracy: &acc,
			DetectedAt:  now,
		}, nil
	}

	return nil, ErrNotDetected
}

func attachDistance(res *model.DetectionResult) {
	if res.WifiRSSI == nil {
		return
	}
	if d, ok := EstimateDistance(float64(*res.WifiRSSI), DefaultReferenceRSSI, DefaultPathLossExponent); ok {
		res.DistanceMeters = &d
	}
}
