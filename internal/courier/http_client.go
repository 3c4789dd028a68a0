package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rougecommerce/backend/internal/cache"
)

const tokenCacheKey = "courier:access_token"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
}

// HTTPClient implements Client against the courier's merchant REST API.
// Access tokens are cached (redis in production, noop in dev) and renewed
// on demand.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	tokens cache.TokenCache
}

func NewHTTPClient(cfg Config, tokens cache.TokenCache) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if tokens == nil {
		tokens = cache.NoopTokenCache{}
	}
	return &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *HTTPClient) accessToken(ctx context.Context) (string, error) {
	if token, ok, err := c.tokens.GetToken(ctx, tokenCacheKey); err == nil && ok {
		return token, nil
	}

	payload := map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"username":      c.cfg.Username,
		"password":      c.cfg.Password,
		"grant_type":    "password",
	}
	var resp tokenResponse
	if err := c.post(ctx, "/aladdin/api/v1/issue-token", "", payload, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", permanentf(0, "issue-token returned no access token")
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}
	_ = c.tokens.SetToken(ctx, tokenCacheKey, resp.AccessToken, ttl)
	return resp.AccessToken, nil
}

type envelope struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (c *HTTPClient) post(ctx context.Context, path string, token string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, token string, query url.Values, out any) error {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection faults are worth another attempt.
		return transientf(0, "request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transientf(resp.StatusCode, "read response: %v", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return transientf(resp.StatusCode, "courier unavailable: %s", snippet(raw))
	}
	if resp.StatusCode >= 400 {
		return permanentf(resp.StatusCode, "request rejected: %s", snippet(raw))
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return permanentf(resp.StatusCode, "malformed response: %v", err)
	}
	data := env.Data
	if len(data) == 0 {
		data = raw
	}
	if err := json.Unmarshal(data, out); err != nil {
		return permanentf(resp.StatusCode, "malformed payload: %v", err)
	}
	return nil
}

func snippet(raw []byte) string {
	const maxLen = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

type createOrderData struct {
	ConsignmentID   any   `json:"consignment_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderStatus     string `json:"order_status"`
	DeliveryFee     int64  `json:"delivery_fee"`
}

func (c *HTTPClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"store_id":            req.StoreID,
		"merchant_order_id":   req.MerchantOrderID,
		"recipient_name":      req.RecipientName,
		"recipient_phone":     req.RecipientPhone,
		"recipient_address":   req.RecipientAddress,
		"recipient_city":      req.RecipientCityID,
		"recipient_zone":      req.RecipientZoneID,
		"recipient_area":      req.RecipientAreaID,
		"delivery_type":       req.DeliveryType,
		"item_type":           req.ItemType,
		"special_instruction": req.SpecialInstruction,
		"item_quantity":       req.ItemQuantity,
		"item_weight":         req.ItemWeight,
		"amount_to_collect":   req.AmountToCollect,
		"item_description":    req.ItemDescription,
	}
	var data createOrderData
	if err := c.post(ctx, "/aladdin/api/v1/orders", token, payload, &data); err != nil {
		return nil, err
	}
	consignment := stringify(data.ConsignmentID)
	if consignment == "" {
		return nil, permanentf(0, "order accepted without consignment id")
	}
	return &CreateOrderResponse{
		ConsignmentID:  consignment,
		TrackingNumber: data.MerchantOrderID,
		OrderStatus:    data.OrderStatus,
		DeliveryFee:    data.DeliveryFee,
	}, nil
}

func (c *HTTPClient) OrderDetails(ctx context.Context, consignmentID string) (*OrderDetails, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var details OrderDetails
	if err := c.get(ctx, "/aladdin/api/v1/orders/"+url.PathEscape(consignmentID)+"/info", token, nil, &details); err != nil {
		return nil, err
	}
	if details.ConsignmentID == "" {
		details.ConsignmentID = consignmentID
	}
	return &details, nil
}

func (c *HTTPClient) Cities(ctx context.Context) ([]City, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []City `json:"data"`
	}
	if err := c.get(ctx, "/aladdin/api/v1/city-list", token, nil, &data); err != nil {
		return nil, err
	}
	return data.Data, nil
}

func (c *HTTPClient) Zones(ctx context.Context, cityID int) ([]Zone, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []Zone `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/aladdin/api/v1/cities/%d/zone-list", cityID), token, nil, &data); err != nil {
		return nil, err
	}
	return data.Data, nil
}

func (c *HTTPClient) Areas(ctx context.Context, zoneID int) ([]Area, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	var data struct {
		Data []Area `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("/aladdin/api/v1/zones/%d/area-list", zoneID), token, nil, &data); err != nil {
		return nil, err
	}
	return data.Data, nil
}

func (c *HTTPClient) PriceQuote(ctx context.Context, req PriceQuoteRequest) (*PriceQuote, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"store_id":       req.StoreID,
		"recipient_city": req.RecipientCityID,
		"recipient_zone": req.RecipientZoneID,
		"delivery_type":  req.DeliveryType,
		"item_type":      req.ItemType,
		"item_weight":    req.ItemWeight,
	}
	var quote PriceQuote
	if err := c.post(ctx, "/aladdin/api/v1/merchant/price-plan", token, payload, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// stringify tolerates the courier sending consignment ids as either a
// string or a number.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
