// Package meta implements the advertising provider client: Meta Graph API
// campaign insights over a date range.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/merchantpulse/sync-worker/internal/platform"
)

const DefaultBaseURL = "https://graph.facebook.com/v18.0"

// DefaultInsightFields matches the campaign-level metrics the sync pulls.
var DefaultInsightFields = []string{
	"campaign_id", "campaign_name", "impressions", "reach",
	"clicks", "spend", "cpm", "cpc", "ctr",
}

type Client struct {
	adAccountID string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Graph API client carrying the access token on every
// request through a static oauth2 token source.
func NewClient(accessToken, adAccountID string, opts ...Option) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = platform.DefaultTimeout

	c := &Client{
		adAccountID: adAccountID,
		baseURL:     DefaultBaseURL,
		httpClient:  httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AdInsight struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Impressions  string `json:"impressions"`
	Reach        string `json:"reach"`
	Clicks       string `json:"clicks"`
	Spend        string `json:"spend"`
	CPM          string `json:"cpm"`
	CPC          string `json:"cpc"`
	CTR          string `json:"ctr"`
	DateStart    string `json:"date_start"`
	DateStop     string `json:"date_stop"`
}

type Campaign struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Objective   string `json:"objective"`
	CreatedTime string `json:"created_time"`
	UpdatedTime string `json:"updated_time"`
}

// TestConnection verifies the access token against /me.
func (c *Client) TestConnection(ctx context.Context) (*User, error) {
	resp, err := c.get(ctx, "/me", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var user User
	if err := platform.DecodeJSON(resp, &user); err != nil {
		return nil, &platform.TransientError{Platform: "meta", Err: err}
	}
	return &user, nil
}

// AdInsights fetches campaign-level insights in a single call over the
// given date range. There is no cursor loop: the Graph API aggregates the
// range server-side.
func (c *Client) AdInsights(ctx context.Context, since, until time.Time, fields []string) ([]AdInsight, error) {
	if len(fields) == 0 {
		fields = DefaultInsightFields
	}
	timeRange, err := json.Marshal(map[string]string{
		"since": since.Format("2006-01-02"),
		"until": until.Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode time range: %w", err)
	}

	params := url.Values{
		"fields":     {strings.Join(fields, ",")},
		"level":      {"campaign"},
		"time_range": {string(timeRange)},
	}
	resp, err := c.get(ctx, "/"+c.adAccountID+"/insights", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []AdInsight `json:"data"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return nil, &platform.TransientError{Platform: "meta", Err: err}
	}
	return out.Data, nil
}

// Campaigns lists the ad account's campaigns.
func (c *Client) Campaigns(ctx context.Context) ([]Campaign, error) {
	params := url.Values{
		"fields": {"id,name,status,objective,created_time,updated_time"},
	}
	resp, err := c.get(ctx, "/"+c.adAccountID+"/campaigns", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Data []Campaign `json:"data"`
	}
	if err := platform.DecodeJSON(resp, &out); err != nil {
		return nil, &platform.TransientError{Platform: "meta", Err: err}
	}
	return out.Data, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &platform.TransientError{Platform: "meta", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &platform.TransientError{Platform: "meta", Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusBadRequest && hasOAuthError(resp):
		reason := platform.ErrorBody(resp)
		platform.DrainBody(resp)
		return nil, &platform.ConnectionError{Platform: "meta", Reason: reason}
	case resp.StatusCode >= 400:
		reason := platform.ErrorBody(resp)
		platform.DrainBody(resp)
		return nil, &platform.TransientError{Platform: "meta", Err: fmt.Errorf("%s", reason)}
	}
	return resp, nil
}

// hasOAuthError sniffs the Graph API's WWW-Authenticate header; token
// problems come back as 400 with an OAuth challenge rather than 401.
func hasOAuthError(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("WWW-Authenticate"), "invalid_token") ||
		strings.Contains(resp.Header.Get("WWW-Authenticate"), "OAuth")
}
