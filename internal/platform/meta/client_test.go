package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/merchantpulse/sync-worker/internal/platform"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", "act_123", WithBaseURL(srv.URL))
}

func TestClient_TestConnection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(User{ID: "10001", Name: "Ad Manager"})
	})

	user, err := client.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if user.ID != "10001" {
		t.Errorf("expected user id, got %q", user.ID)
	}
}

func TestClient_AdInsightsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/act_123/insights" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("level") != "campaign" {
			t.Errorf("expected campaign level, got %q", q.Get("level"))
		}

		var tr map[string]string
		if err := json.Unmarshal([]byte(q.Get("time_range")), &tr); err != nil {
			t.Errorf("time_range is not JSON: %v", err)
		}
		if tr["since"] == "" || tr["until"] == "" {
			t.Errorf("incomplete time_range: %v", tr)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []AdInsight{
				{CampaignID: "c1", CampaignName: "Summer", Impressions: "1000", Spend: "25.50", DateStart: "2026-08-01", DateStop: "2026-08-31"},
			},
		})
	})

	until := time.Now()
	insights, err := client.AdInsights(context.Background(), until.Add(-30*24*time.Hour), until, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("expected 1 insight, got %d", len(insights))
	}
	if insights[0].CampaignID != "c1" || insights[0].Spend != "25.50" {
		t.Errorf("unexpected insight: %+v", insights[0])
	}
}

func TestClient_ExpiredTokenIsConnectionError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `OAuth "Facebook Platform" "invalid_token" "Error validating access token"`)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Error validating access token","code":190}}`))
	})

	_, err := client.TestConnection(context.Background())
	if !platform.IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestClient_APIErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Campaigns(context.Background())
	var te *platform.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
