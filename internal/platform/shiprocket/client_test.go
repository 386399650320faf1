package shiprocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/merchantpulse/sync-worker/internal/platform"
)

func TestClient_Authenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ops@example.com" || body["password"] != "secret" {
			t.Errorf("unexpected login payload: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "sr-token"})
	}))
	defer srv.Close()

	client := NewClient("ops@example.com", "secret", WithBaseURL(srv.URL))
	if err := client.Authenticate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.sessionToken() != "sr-token" {
		t.Errorf("expected token stored, got %q", client.sessionToken())
	}
}

func TestClient_AuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Wrong Password"}`))
	}))
	defer srv.Close()

	client := NewClient("ops@example.com", "wrong", WithBaseURL(srv.URL))
	err := client.Authenticate(context.Background())
	if !platform.IsConnectionError(err) {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestClient_ReauthenticatesOnceOnExpiredToken(t *testing.T) {
	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			logins++
			json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
		case "/orders":
			if r.Header.Get("Authorization") != "Bearer fresh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []Order{{ID: 1, Status: "NEW"}},
			})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient("ops@example.com", "secret",
		WithBaseURL(srv.URL), WithToken("stale-token"), WithPageDelay(0))

	var ids []int64
	err := client.Orders(context.Background(), func(o Order) error {
		ids = append(ids, o.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if logins != 1 {
		t.Errorf("expected exactly one re-login, got %d", logins)
	}
	if len(ids) != 1 {
		t.Errorf("expected the rejected call to be retried, got %v", ids)
	}
}

func TestClient_SecondRejectionIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{"token": "still-bad"})
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient("ops@example.com", "secret", WithBaseURL(srv.URL), WithPageDelay(0))
	err := client.Orders(context.Background(), func(Order) error { return nil })
	if !platform.IsConnectionError(err) {
		t.Fatalf("expected connection error after failed re-auth, got %v", err)
	}
}

func TestClient_ShipmentsPaginates(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
			return
		}
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if got := r.URL.Query().Get("per_page"); got != "2" {
			t.Errorf("expected per_page=2, got %q", got)
		}

		n, _ := strconv.Atoi(page)
		var shipments []Shipment
		if n == 1 {
			shipments = []Shipment{{ID: 1}, {ID: 2}}
		} else {
			shipments = []Shipment{{ID: 3}}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": shipments})
	}))
	defer srv.Close()

	client := NewClient("ops@example.com", "secret",
		WithBaseURL(srv.URL), WithPageSize(2), WithPageDelay(0))

	var ids []int64
	err := client.Shipments(context.Background(), func(s Shipment) error {
		ids = append(ids, s.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 shipments, got %v", ids)
	}
	if len(pages) != 2 || pages[0] != "1" || pages[1] != "2" {
		t.Errorf("expected pages 1,2, got %v", pages)
	}
}

func TestClient_ShippingAnalytics(t *testing.T) {
	inWindow := time.Now().Add(-24 * time.Hour).Format("2006-01-02 15:04:05")
	outOfWindow := time.Now().Add(-90 * 24 * time.Hour).Format("2006-01-02 15:04:05")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
			return
		}
		fmt.Fprintf(w, `{"data":[
			{"id":1,"status":"DELIVERED","courier_name":"Delhivery","shipping_charges":"120","created_at":%q},
			{"id":2,"status":"DELIVERED","courier_name":"Delhivery","shipping_charges":"100","created_at":%q},
			{"id":3,"status":"RETURNED","courier_name":"Delhivery","shipping_charges":"80","created_at":%q},
			{"id":4,"status":"IN_TRANSIT","courier_name":"BlueDart","shipping_charges":"200","created_at":%q},
			{"id":5,"status":"DELIVERED","courier_name":"BlueDart","shipping_charges":"50","created_at":%q}
		]}`, inWindow, inWindow, inWindow, inWindow, outOfWindow)
	}))
	defer srv.Close()

	client := NewClient("ops@example.com", "secret", WithBaseURL(srv.URL), WithPageDelay(0))

	until := time.Now()
	a, err := client.ShippingAnalytics(context.Background(), until.Add(-30*24*time.Hour), until)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if a.TotalShipments != 4 {
		t.Errorf("expected 4 shipments in window, got %d", a.TotalShipments)
	}
	if a.DeliveredShipments != 2 || a.ReturnedShipments != 1 || a.InTransitShipments != 1 {
		t.Errorf("unexpected status counts: %+v", a)
	}
	if a.TotalShippingCost != 500 {
		t.Errorf("expected total cost 500, got %v", a.TotalShippingCost)
	}

	perf := a.DeliveryPerformance["Delhivery"]
	if perf == nil {
		t.Fatal("expected Delhivery performance entry")
	}
	if perf.DeliveryRate != "66.67" {
		t.Errorf("expected delivery rate 66.67, got %s", perf.DeliveryRate)
	}
	if perf.ReturnRate != "33.33" {
		t.Errorf("expected return rate 33.33, got %s", perf.ReturnRate)
	}
	if perf.AverageCost != "100.00" {
		t.Errorf("expected average cost 100.00, got %s", perf.AverageCost)
	}
}

func TestParseShipmentTimeFormats(t *testing.T) {
	for _, input := range []string{
		"2026-08-15T10:30:00Z",
		"2026-08-15 10:30:00",
		"2026-08-15",
	} {
		if _, err := parseShipmentTime(input); err != nil {
			t.Errorf("expected %q to parse, got %v", input, err)
		}
	}
	if _, err := parseShipmentTime("not a date"); err == nil {
		t.Error("expected parse failure for garbage input")
	}
}
