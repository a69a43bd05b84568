package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

func intPtr(v int) *int {
	return &v
}

// buildReadings собирает показания по набору присутствующих сигналов.
func buildReadings(now time.Time, nfc, bssid, ssid, bluetooth, gps bool) []model.SignalReading {
	var readings []model.SignalReading
	if nfc {
		readings = append(readings, model.NFCReading{TerminalID: "TERM-1", DetectedAt: now})
	}
	if bssid || ssid {
		w := model.WifiReading{RSSI: intPtr(-45), DetectedAt: now}
		if bssid {
			w.BSSID = "AA:BB:CC:DD:EE:FF"
		}
		if ssid {
			w.SSID = "MagnoliaWiFi"
		}
		readings = append(readings, w)
	}
	if bluetooth {
		readings = append(readings, model.BluetoothReading{UUID: "f7826da6-4fa2-4e98-8024-bc5b71e0893e", Major: 1, Minor: 2, DetectedAt: now})
	}
	if gps {
		readings = append(readings, model.GPSReading{Latitude: 55.75, Longitude: 37.61, Accuracy: 10, DetectedAt: now})
	}
	return readings
}

// expectedMethod вычисляет победителя каскада для набора присутствующих
// сигналов: NFC > WiFi BSSID > Bluetooth > WiFi SSID > GPS.
func expectedMethod(nfc, bssid, ssid, bluetooth, gps bool) (model.DetectionMethod, bool) {
	switch {
	case nfc:
		return model.MethodNFC, true
	case bssid:
		return model.MethodWifiBSSID, true
	case bluetooth:
		return model.MethodBluetooth, true
	case ssid:
		return model.MethodWifiSSID, true
	case gps:
		return model.MethodGPS, true
	default:
		return "", false
	}
}

func TestArbitrate_AllPresenceCombinations(t *testing.T) {
	now := time.Now()

	for mask := 0; mask < 1<<5; mask++ {
		nfc := mask&1 != 0
		bssid := mask&2 != 0
		ssid := mask&4 != 0
		bluetooth := mask&8 != 0
		gps := mask&16 != 0

		res, err := Arbitrate(buildReadings(now, nfc, bssid, ssid, bluetooth, gps), now)

		want, present := expectedMethod(nfc, bssid, ssid, bluetooth, gps)
		if !present {
			if !errors.Is(err, ErrNotDetected) {
				t.Fatalf("mask %05b: err = %v, want ErrNotDetected", mask, err)
			}
			continue
		}

		if err != nil {
			t.Fatalf("mask %05b: unexpected error: %v", mask, err)
		}
		if res.Method != want {
			t.Fatalf("mask %05b: method = %s, want %s", mask, res.Method, want)
		}
	}
}

func TestArbitrate_Confidence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		readings []model.SignalReading
		method   model.DetectionMethod
		want     float64
	}{
		{
			name:     "nfc",
			readings: buildReadings(now, true, true, true, true, true),
			method:   model.MethodNFC,
			want:     0.99,
		},
		{
			name:     "wifi bssid",
			readings: buildReadings(now, false, true, true, true, true),
			method:   model.MethodWifiBSSID,
			want:     0.98,
		},
		{
			name:     "bluetooth",
			readings: buildReadings(now, false, false, true, true, true),
			method:   model.MethodBluetooth,
			want:     0.95,
		},
		{
			name:     "wifi ssid",
			readings: buildReadings(now, false, false, true, false, true),
			method:   model.MethodWifiSSID,
			want:     0.90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Arbitrate(tt.readings, now)
			if err != nil {
				t.Fatalf("Arbitrate error: %v", err)
			}
			if res.Method != tt.method {
				t.Fatalf("method = %s, want %s", res.Method, tt.method)
			}
			if res.Confidence != tt.want {
				t.Fatalf("confidence = %v, want %v", res.Confidence, tt.want)
			}
		})
	}
}

func TestArbitrate_GPSAccuracyBoundary(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		accuracy float64
		want     float64
	}{
		{name: "precise fix", accuracy: 10, want: 0.80},
		{name: "just under boundary", accuracy: 49.9, want: 0.80},
		{name: "exactly at boundary", accuracy: 50, want: 0.70},
		{name: "coarse fix", accuracy: 120, want: 0.70},
		{name: "unknown accuracy treated as coarse", accuracy: 0, want: 0.70},
		{name: "negative accuracy treated as coarse", accuracy: -1, want: 0.70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Arbitrate([]model.SignalReading{
				model.GPSReading{Latitude: 55.75, Longitude: 37.61, Accuracy: tt.accuracy, DetectedAt: now},
			}, now)
			if err != nil {
				t.Fatalf("Arbitrate error: %v", err)
			}
			if res.Method != model.MethodGPS {
				t.Fatalf("method = %s, want %s", res.Method, model.MethodGPS)
			}
			if res.Confidence != tt.want {
				t.Fatalf("confidence at accuracy %v = %v, want %v", tt.accuracy, res.Confidence, tt.want)
			}
		})
	}
}

func TestArbitrate_WifiBSSIDBeatsValidGPSFallback(t *testing.T) {
	now := time.Now()

	res, err := Arbitrate([]model.SignalReading{
		model.WifiReading{BSSID: "AA:BB:CC:DD:EE:FF", RSSI: intPtr(-45), DetectedAt: now},
		model.GPSReading{Latitude: 55.75, Longitude: 37.61, Accuracy: 10, DetectedAt: now},
	}, now)
	if err != nil {
		t.Fatalf("Arbitrate error: %v", err)
	}

	if res.Method != model.MethodWifiBSSID {
		t.Fatalf("method = %s, want %s", res.Method, model.MethodWifiBSSID)
	}
	if res.Confidence != 0.98 {
		t.Fatalf("confidence = %v, want 0.98", res.Confidence)
	}
	if res.WifiBSSID == nil || *res.WifiBSSID != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("bssid = %v, want AA:BB:CC:DD:EE:FF", res.WifiBSSID)
	}
	if res.Latitude != nil || res.GPSAccuracy != nil {
		t.Fatalf("GPS fields must stay empty on a wifi detection: %+v", res)
	}
	if res.DistanceMeters == nil || *res.DistanceMeters != 0.7 {
		t.Fatalf("distance = %v, want 0.7", res.DistanceMeters)
	}
}

func TestArbitrate_OrderIndependent(t *testing.T) {
	now := time.Now()
	forward := buildReadings(now, true, true, false, true, true)

	reversed := make([]model.SignalReading, len(forward))
	for i, r := range forward {
		reversed[len(forward)-1-i] = r
	}

	a, err := Arbitrate(forward, now)
	if err != nil {
		t.Fatalf("Arbitrate error: %v", err)
	}
	b, err := Arbitrate(reversed, now)
	if err != nil {
		t.Fatalf("Arbitrate error: %v", err)
	}

	if a.Method != b.Method || a.Confidence != b.Confidence {
		t.Fatalf("winner depends on reading order: %s/%v vs %s/%v", a.Method, a.Confidence, b.Method, b.Confidence)
	}
}

func TestArbitrate_NoDistanceWithoutRSSI(t *testing.T) {
	now := time.Now()

	res, err := Arbitrate([]model.SignalReading{
		model.WifiReading{BSSID: "AA:BB:CC:DD:EE:FF", DetectedAt: now},
	}, now)
	if err != nil {
		t.Fatalf("Arbitrate error: %v", err)
	}
	if res.DistanceMeters != nil {
		t.Fatalf("distance = %v, want nil without RSSI", res.DistanceMeters)
	}
}
