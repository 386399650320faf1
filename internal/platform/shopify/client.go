// Package shopify implements the commerce provider client: Shopify admin
// REST API with cursor (since_id) pagination.
package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/merchantpulse/sync-worker/internal/platform"
)

const (
	// DefaultPageSize is Shopify's maximum page size for list endpoints.
	DefaultPageSize = 250
	// DefaultPageDelay keeps the client inside Shopify's 2 req/s budget.
	DefaultPageDelay = 500 * time.Millisecond
)

type Client struct {
	storeURL    string
	accessToken string
	baseURL     string
	httpClient  *http.Client
	pageSize    int
	pageDelay   time.Duration
}

type Option func(*Client)

// WithBaseURL overrides the admin API base URL (tests, proxies).
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

// NewClient creates a client for one store. apiVersion selects the admin
// API version path segment (e.g. "2023-10").
func NewClient(storeURL, accessToken, apiVersion string, opts ...Option) *Client {
	c := &Client{
		storeURL:    storeURL,
		accessToken: accessToken,
		baseURL:     fmt.Sprintf("https://%s/admin/api/%s", storeURL, apiVersion),
		httpClient:  &http.Client{Timeout: platform.DefaultTimeout},
		pageSize:    DefaultPageSize,
		pageDelay:   DefaultPageDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Shop struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Email    string `json:"email"`
	Currency string `json:"currency"`
}

type Variant struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Price             string  `json:"price"`
	CompareAtPrice    string  `json:"compare_at_price"`
	SKU               string  `json:"sku"`
	InventoryQuantity int     `json:"inventory_quantity"`
	Weight            float64 `json:"weight"`
	WeightUnit        string  `json:"weight_unit"`
}

type Image struct {
	ID  int64  `json:"id"`
	Src string `json:"src"`
	Alt string `json:"alt"`
}

type Product struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	BodyHTML    string    `json:"body_html"`
	Vendor      string    `json:"vendor"`
	ProductType string    `json:"product_type"`
	Handle      string    `json:"handle"`
	Status      string    `json:"status"`
	Tags        string    `json:"tags"`
	Variants    []Variant `json:"variants"`
	Images      []Image   `json:"images"`
}

type LineItem struct {
	ProductID int64  `json:"product_id"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type Customer struct {
	ID int64 `json:"id"`
}

type Order struct {
	ID              int64      `json:"id"`
	OrderNumber     int64      `json:"order_number"`
	TotalPrice      string     `json:"total_price"`
	Currency        string     `json:"currency"`
	FinancialStatus string     `json:"financial_status"`
	CreatedAt       time.Time  `json:"created_at"`
	Customer        *Customer  `json:"customer"`
	LineItems       []LineItem `json:"line_items"`
}

// TestConnection verifies the store URL and access token.
func (c *Client) TestConnection(ctx context.Context) (*Shop, error) {
	resp, err := c.get(ctx, "/shop.json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Shop Shop `json:"shop"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return nil, &platform.TransientError{Platform: "shopify", Err: err}
	}
	return &out.Shop, nil
}

// Products streams the store's products page by page, starting after
// sinceID (0 for the beginning). fn is called once per product; returning
// an error aborts the stream. The sequence terminates on the first page
// shorter than the page size.
func (c *Client) Products(ctx context.Context, sinceID int64, fn func(Product) error) error {
	for {
		page, err := c.productPage(ctx, sinceID)
		if err != nil {
			return err
		}
		for _, p := range page {
			if err := fn(p); err != nil {
				return err
			}
		}
		if len(page) < c.pageSize {
			return nil
		}
		sinceID = page[len(page)-1].ID
		if err := platform.Wait(ctx, c.pageDelay); err != nil {
			return err
		}
	}
}

// Orders streams the store's orders (any status) the same way Products
// does.
func (c *Client) Orders(ctx context.Context, sinceID int64, fn func(Order) error) error {
	for {
		page, err := c.orderPage(ctx, sinceID)
		if err != nil {
			return err
		}
		for _, o := range page {
			if err := fn(o); err != nil {
				return err
			}
		}
		if len(page) < c.pageSize {
			return nil
		}
		sinceID = page[len(page)-1].ID
		if err := platform.Wait(ctx, c.pageDelay); err != nil {
			return err
		}
	}
}

// Analytics summarizes orders created inside the date range.
type Analytics struct {
	TotalOrders       int                      `json:"totalOrders"`
	TotalRevenue      float64                  `json:"totalRevenue"`
	AverageOrderValue float64                  `json:"averageOrderValue"`
	CustomerCount     int                      `json:"customerCount"`
	TopProducts       map[string]*ProductSales `json:"topProducts"`
}

type ProductSales struct {
	Title    string  `json:"title"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

// Analytics fetches orders in [since, until] and computes sales totals.
func (c *Client) Analytics(ctx context.Context, since, until time.Time) (*Analytics, error) {
	params := url.Values{
		"created_at_min": {since.Format(time.RFC3339)},
		"created_at_max": {until.Format(time.RFC3339)},
		"status":         {"any"},
	}
	resp, err := c.get(ctx, "/orders.json", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return nil, &platform.TransientError{Platform: "shopify", Err: err}
	}

	a := &Analytics{
		TotalOrders: len(out.Orders),
		TopProducts: make(map[string]*ProductSales),
	}
	customers := make(map[int64]struct{})
	for _, o := range out.Orders {
		a.TotalRevenue += parsePrice(o.TotalPrice)
		if o.Customer != nil {
			customers[o.Customer.ID] = struct{}{}
		}
		for _, item := range o.LineItems {
			key := strconv.FormatInt(item.ProductID, 10)
			sales, ok := a.TopProducts[key]
			if !ok {
				sales = &ProductSales{Title: item.Title}
				a.TopProducts[key] = sales
			}
			sales.Quantity += item.Quantity
			sales.Revenue += parsePrice(item.Price) * float64(item.Quantity)
		}
	}
	a.CustomerCount = len(customers)
	if a.TotalOrders > 0 {
		a.AverageOrderValue = a.TotalRevenue / float64(a.TotalOrders)
	}
	return a, nil
}

func (c *Client) productPage(ctx context.Context, sinceID int64) ([]Product, error) {
	params := url.Values{"limit": {strconv.Itoa(c.pageSize)}}
	if sinceID > 0 {
		params.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	resp, err := c.get(ctx, "/products.json", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Products []Product `json:"products"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return nil, &platform.TransientError{Platform: "shopify", Err: err}
	}
	return out.Products, nil
}

func (c *Client) orderPage(ctx context.Context, sinceID int64) ([]Order, error) {
	params := url.Values{
		"limit":  {strconv.Itoa(c.pageSize)},
		"status": {"any"},
	}
	if sinceID > 0 {
		params.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	resp, err := c.get(ctx, "/orders.json", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Orders []Order `json:"orders"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return nil, &platform.TransientError{Platform: "shopify", Err: err}
	}
	return out.Orders, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &platform.TransientError{Platform: "shopify", Err: err}
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &platform.TransientError{Platform: "shopify", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		reason := platform.ErrorBody(resp)
		platform.DrainBody(resp)
		return nil, &platform.ConnectionError{Platform: "shopify", Reason: reason}
	case resp.StatusCode >= 400:
		reason := platform.ErrorBody(resp)
		platform.DrainBody(resp)
		return nil, &platform.TransientError{Platform: "shopify", Err: fmt.Errorf("%s", reason)}
	}
	return resp, nil
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
