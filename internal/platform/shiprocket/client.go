// Package shiprocket implements the logistics provider client: session
// token authentication, page-numbered pagination and client-side date
// filtering where the API lacks server-side ranges.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merchantpulse/sync-worker/internal/platform"
)

const (
	DefaultBaseURL = "https://apiv2.shiprocket.in/v1/external"
	// DefaultPageSize is the page size for orders and shipments.
	DefaultPageSize = 50
	// DefaultPageDelay spaces successive page requests.
	DefaultPageDelay = 200 * time.Millisecond
)

// Shipment statuses as reported by the courier API.
const (
	StatusDelivered = "DELIVERED"
	StatusInTransit = "IN_TRANSIT"
	StatusReturned  = "RETURNED"
)

type Client struct {
	email      string
	password   string
	baseURL    string
	httpClient *http.Client
	pageSize   int
	pageDelay  time.Duration

	mu    sync.Mutex
	token string
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithToken seeds a previously issued session token so the first data call
// can skip the login round-trip.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(email, password string, opts ...Option) *Client {
	c := &Client{
		email:      email,
		password:   password,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: platform.DefaultTimeout},
		pageSize:   DefaultPageSize,
		pageDelay:  DefaultPageDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Order struct {
	ID             int64  `json:"id"`
	ChannelOrderID string `json:"channel_order_id"`
	CustomerName   string `json:"customer_name"`
	Status         string `json:"status"`
	Total          string `json:"total"`
	CreatedAt      string `json:"created_at"`
}

type Shipment struct {
	ID              int64  `json:"id"`
	AWB             string `json:"awb"`
	Status          string `json:"status"`
	CourierName     string `json:"courier_name"`
	ShippingCharges string `json:"shipping_charges"`
	CreatedAt       string `json:"created_at"`
}

// Authenticate establishes a session token. It is called lazily before the
// first data call and again, once, when a call is rejected for want of a
// valid token.
func (c *Client) Authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("failed to encode login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return &platform.TransientError{Platform: "shiprocket", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &platform.TransientError{Platform: "shiprocket", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &platform.ConnectionError{Platform: "shiprocket", Reason: platform.ErrorBody(resp)}
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return &platform.TransientError{Platform: "shiprocket", Err: err}
	}
	if out.Token == "" {
		return &platform.ConnectionError{Platform: "shiprocket", Reason: "login returned no token"}
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

// TestConnection authenticates if needed and probes the pickup settings
// endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	resp, err := c.get(ctx, "/settings/company/pickup", nil)
	if err != nil {
		return err
	}
	platform.DrainBody(resp)
	return nil
}

// Orders streams all orders page by page. fn returning an error aborts the
// stream. Terminates on the first page shorter than the page size.
func (c *Client) Orders(ctx context.Context, fn func(Order) error) error {
	return c.paginate(ctx, "/orders", func(data json.RawMessage) (int, error) {
		var orders []Order
		if err := json.Unmarshal(data, &orders); err != nil {
			return 0, &platform.TransientError{Platform: "shiprocket", Err: err}
		}
		for _, o := range orders {
			if err := fn(o); err != nil {
				return 0, err
			}
		}
		return len(orders), nil
	})
}

// Shipments streams all shipments page by page.
func (c *Client) Shipments(ctx context.Context, fn func(Shipment) error) error {
	return c.paginate(ctx, "/shipments", func(data json.RawMessage) (int, error) {
		var shipments []Shipment
		if err := json.Unmarshal(data, &shipments); err != nil {
			return 0, &platform.TransientError{Platform: "shiprocket", Err: err}
		}
		for _, s := range shipments {
			if err := fn(s); err != nil {
				return 0, err
			}
		}
		return len(shipments), nil
	})
}

// paginate drives the page-numbered fetch loop shared by Orders and
// Shipments.
func (c *Client) paginate(ctx context.Context, path string, consume func(json.RawMessage) (int, error)) error {
	page := 1
	for {
		params := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(c.pageSize)},
		}
		resp, err := c.get(ctx, path, params)
		if err != nil {
			return err
		}

		var out struct {
			Data json.RawMessage `json:"data"`
		}
		err = platform.DecodeJSON(resp, &out)
		resp.Body.Close()
		if err != nil {
			return &platform.TransientError{Platform: "shiprocket", Err: err}
		}
		if len(out.Data) == 0 {
			return nil
		}

		n, err := consume(out.Data)
		if err != nil {
			return err
		}
		if n < c.pageSize {
			return nil
		}
		page++
		if err := platform.Wait(ctx, c.pageDelay); err != nil {
			return err
		}
	}
}

// CourierStats is the per-courier slice of the shipping analytics.
type CourierStats struct {
	Total     int     `json:"total"`
	Delivered int     `json:"delivered"`
	Returned  int     `json:"returned"`
	Cost      float64 `json:"cost"`
}

// CourierPerformance renders a courier's rates to two decimal places.
type CourierPerformance struct {
	DeliveryRate string `json:"deliveryRate"`
	ReturnRate   string `json:"returnRate"`
	AverageCost  string `json:"averageCost"`
}

type Analytics struct {
	TotalShipments      int                            `json:"totalShipments"`
	DeliveredShipments  int                            `json:"deliveredShipments"`
	InTransitShipments  int                            `json:"inTransitShipments"`
	ReturnedShipments   int                            `json:"returnedShipments"`
	TotalShippingCost   float64                        `json:"totalShippingCost"`
	CourierBreakdown    map[string]*CourierStats       `json:"courierPartnerBreakdown"`
	DeliveryPerformance map[string]*CourierPerformance `json:"deliveryPerformance"`
}

// ShippingAnalytics paginates shipments and aggregates those created in
// [since, until]. The API has no server-side date range, so filtering is
// client-side.
func (c *Client) ShippingAnalytics(ctx context.Context, since, until time.Time) (*Analytics, error) {
	a := &Analytics{
		CourierBreakdown:    make(map[string]*CourierStats),
		DeliveryPerformance: make(map[string]*CourierPerformance),
	}

	err := c.Shipments(ctx, func(s Shipment) error {
		created, err := parseShipmentTime(s.CreatedAt)
		if err != nil {
			return nil // skip undated rows
		}
		if created.Before(since) || created.After(until) {
			return nil
		}

		a.TotalShipments++
		cost := parseCharge(s.ShippingCharges)
		a.TotalShippingCost += cost

		switch s.Status {
		case StatusDelivered:
			a.DeliveredShipments++
		case StatusInTransit:
			a.InTransitShipments++
		case StatusReturned:
			a.ReturnedShipments++
		}

		courier := s.CourierName
		if courier == "" {
			courier = "Unknown"
		}
		stats, ok := a.CourierBreakdown[courier]
		if !ok {
			stats = &CourierStats{}
			a.CourierBreakdown[courier] = stats
		}
		stats.Total++
		stats.Cost += cost
		switch s.Status {
		case StatusDelivered:
			stats.Delivered++
		case StatusReturned:
			stats.Returned++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for courier, stats := range a.CourierBreakdown {
		total := decimal.NewFromInt(int64(stats.Total))
		hundred := decimal.NewFromInt(100)
		a.DeliveryPerformance[courier] = &CourierPerformance{
			DeliveryRate: decimal.NewFromInt(int64(stats.Delivered)).Mul(hundred).Div(total).StringFixed(2),
			ReturnRate:   decimal.NewFromInt(int64(stats.Returned)).Mul(hundred).Div(total).StringFixed(2),
			AverageCost:  decimal.NewFromFloat(stats.Cost).Div(total).StringFixed(2),
		}
	}
	return a, nil
}

// get performs an authenticated GET. On a token rejection it
// re-authenticates once and retries that single call.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	if c.sessionToken() == "" {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.doGet(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		platform.DrainBody(resp)
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		resp, err = c.doGet(ctx, path, params)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			reason := platform.ErrorBody(resp)
			platform.DrainBody(resp)
			return nil, &platform.ConnectionError{Platform: "shiprocket", Reason: reason}
		}
	}
	if resp.StatusCode >= 400 {
		reason := platform.ErrorBody(resp)
		platform.DrainBody(resp)
		return nil, &platform.TransientError{Platform: "shiprocket", Err: fmt.Errorf("%s", reason)}
	}
	return resp, nil
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &platform.TransientError{Platform: "shiprocket", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.sessionToken())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &platform.TransientError{Platform: "shiprocket", Err: err}
	}
	return resp, nil
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func parseShipmentTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse shipment date: %s", s)
}

func parseCharge(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
