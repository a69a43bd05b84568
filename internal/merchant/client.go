// Package merchant предоставляет клиент внешнего реестра торговых точек.
package merchant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/kartoved-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с реестром торговых точек.
// Сбой реестра — ошибка, подлежащая повтору, поэтому транспорт ретраит
// временные ответы сам.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type resolveRequest struct {
	DetectionMethod string   `json:"detection_method"`
	NFCTerminalID   *string  `json:"nfc_terminal_id,omitempty"`
	WifiBSSID       *string  `json:"wifi_bssid,omitempty"`
	WifiSSID        *string  `json:"wifi_ssid,omitempty"`
	BluetoothUUID   *string  `json:"bluetooth_uuid,omitempty"`
	BluetoothMajor  *uint16  `json:"bluetooth_major,omitempty"`
	BluetoothMinor  *uint16  `json:"bluetooth_minor,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	RadiusMeters    *float64 `json:"radius_meters,omitempty"`
}

type resolveResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	MCCCode   string   `json:"mcc_code"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// NewClient создаёт HTTP-клиент реестра торговых точек по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 250 * time.Millisecond
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// Resolve ищет торговую точку по выигравшему сигналу. Возвращает (nil, nil),
// если реестр ответил, но точки по такому ключу нет: отсутствие точки — не
// ошибка. Ненулевая ошибка означает сбой самого реестра.
func (c *Client) Resolve(ctx context.Context, res *model.DetectionResult) (*model.Merchant, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("merchant registry client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload := buildResolveRequest(res)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := base + "/api/v1/merchants/resolve"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &model.Merchant{
		ID:             result.ID,
		Name:           result.Name,
		MCCCode:        result.MCCCode,
		Latitude:       result.Latitude,
		Longitude:      result.Longitude,
		DistanceMeters: res.DistanceMeters,
	}, nil
}

// buildResolveRequest формирует ключ поиска по типу выигравшего сигнала:
// идентификатор терминала, BSSID, тройка маяка, SSID или координаты с
// радиусом, равным точности GPS.
func buildResolveRequest(res *model.DetectionResult) resolveRequest {
	req := resolveRequest{DetectionMethod: string(res.Method)}

	switch res.Method {
	case model.MethodNFC:
		req.NFCTerminalID = res.NFCTerminalID
	case model.MethodWifiBSSID:
		req.WifiBSSID = res.WifiBSSID
		req.WifiSSID = res.WifiSSID
	case model.MethodBluetooth:
		req.BluetoothUUID = res.BluetoothUUID
		req.BluetoothMajor = res.BluetoothMajor
		req.BluetoothMinor = res.BluetoothMinor
	case model.MethodWifiSSID:
		req.WifiSSID = res.WifiSSID
	case model.MethodGPS:
		req.Latitude = res.Latitude
		req.Longitude = res.Longitude
		req.RadiusMeters = res.GPSAccuracy
	}

	return req
}
