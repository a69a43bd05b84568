// Package main запускает агент-имитатор устройства: собирает настроенные
// сигналы через каскадный детектор и отправляет их серверу картовед.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/kartoved-system/internal/detector"
	"github.com/mmeshcher/kartoved-system/internal/model"
)

type agentConfig struct {
	serverAddr string
	login      string
	password   string

	nfcTerminal string
	wifiSSID    string
	wifiBSSID   string
	wifiRSSI    int
	btUUID      string
	btMajor     uint
	btMinor     uint
	gps         bool
	latitude    float64
	longitude   float64
	accuracy    float64

	budget time.Duration
}

func parseFlags() agentConfig {
	var cfg agentConfig

	flag.StringVar(&cfg.serverAddr, "server", "http://localhost:8080", "kartoved server address")
	flag.StringVar(&cfg.login, "login", "", "user login")
	flag.StringVar(&cfg.password, "password", "", "user password")

	flag.StringVar(&cfg.nfcTerminal, "nfc", "", "NFC terminal identifier")
	flag.StringVar(&cfg.wifiSSID, "wifi-ssid", "", "WiFi network SSID")
	flag.StringVar(&cfg.wifiBSSID, "wifi-bssid", "", "WiFi access point BSSID")
	flag.IntVar(&cfg.wifiRSSI, "wifi-rssi", 0, "WiFi RSSI in dBm (0 means not measured)")
	flag.StringVar(&cfg.btUUID, "bt-uuid", "", "iBeacon UUID")
	flag.UintVar(&cfg.btMajor, "bt-major", 0, "iBeacon major")
	flag.UintVar(&cfg.btMinor, "bt-minor", 0, "iBeacon minor")
	flag.BoolVar(&cfg.gps, "gps", false, "simulate a GPS fix")
	flag.Float64Var(&cfg.latitude, "lat", 0, "GPS latitude")
	flag.Float64Var(&cfg.longitude, "lon", 0, "GPS longitude")
	flag.Float64Var(&cfg.accuracy, "accuracy", 30, "GPS horizontal accuracy in meters")

	flag.DurationVar(&cfg.budget, "budget", detector.DefaultBudget, "detection time budget")

	flag.Parse()

	return cfg
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

// buildRequest переводит итог локального определения в запрос серверу.
func buildRequest(res *model.DetectionResult) detectRequest {
	return detectRequest{
		WifiSSID:       res.WifiSSID,
		WifiBSSID:      res.WifiBSSID,
		WifiRSSI:       res.WifiRSSI,
		BluetoothUUID:  res.BluetoothUUID,
		BluetoothMajor: res.BluetoothMajor,
		BluetoothMinor: res.BluetoothMinor,
		NFCTerminalID:  res.NFCTerminalID,
		Latitude:       res.Latitude,
		Longitude:      res.Longitude,
		GPSAccuracy:    res.GPSAccuracy,
	}
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg := parseFlags()

	var rssi *int
	if cfg.wifiRSSI != 0 {
		rssi = &cfg.wifiRSSI
	}

	d := detector.NewDetector(
		detector.SimulatedNFC{TerminalID: cfg.nfcTerminal},
		detector.SimulatedWifi{SSID: cfg.wifiSSID, BSSID: cfg.wifiBSSID, RSSI: rssi},
		detector.SimulatedBluetooth{UUID: cfg.btUUID, Major: uint16(cfg.btMajor), Minor: uint16(cfg.btMinor)},
		detector.SimulatedGPS{Latitude: cfg.latitude, Longitude: cfg.longitude, Accuracy: cfg.accuracy, Present: cfg.gps},
		cfg.budget,
		detector.DefaultAcquirerCeiling,
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := d.Detect(ctx)
	if err != nil {
		sugar.Fatalw("no signal detected", "error", err)
	}

	sugar.Infow("local detection complete",
		"method", res.Method,
		"confidence", res.Confidence,
	)
	if res.DistanceMeters != nil {
		sugar.Infow("estimated distance to access point", "meters", *res.DistanceMeters)
	}

	if cfg.login == "" {
		sugar.Info("no login configured, skipping server call")
		return
	}

	client, err := newAPIClient(cfg.serverAddr)
	if err != nil {
		sugar.Fatalw("create api client", "error", err)
	}

	if err := client.authenticate(ctx, cfg.login, cfg.password); err != nil {
		sugar.Fatalw("authenticate", "error", err)
	}

	answer, err := client.detect(ctx, buildRequest(res))
	if err != nil {
		sugar.Fatalw("detect request failed", "error", err)
	}

	sugar.Infow("server response", "body", answer)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) (*apiClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &apiClient{
		baseURL: base,
		http:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}, nil
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.http.Do(req)
}

// authenticate входит существующим пользователем, при неизвестном логине
// регистрирует нового.
func (c *apiClient) authenticate(ctx context.Context, login, password string) error {
	creds := map[string]string{"login": login, "password": password}

	resp, err := c.postJSON(ctx, "/api/user/login", creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	resp, err = c.postJSON(ctx, "/api/user/register", creds)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *apiClient) detect(ctx context.Context, req detectRequest) (string, error) {
	resp, err := c.postJSON(ctx, "/api/merchant/detect", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}
