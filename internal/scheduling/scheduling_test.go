package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("SCHEDULING_API_URL", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when no base URL configured")
	}
}

func TestNewClient_BaseURLFromEnvironment(t *testing.T) {
	t.Setenv("SCHEDULING_API_URL", "https://provider.example.com/slots")
	client, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.baseURL != "https://provider.example.com/slots" {
		t.Errorf("expected env base URL, got %s", client.baseURL)
	}
}

func TestGetSlots_SendsWindowAsJSON(t *testing.T) {
	var received slotsRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Write([]byte("[]"))
	})

	if _, err := client.GetSlots(context.Background(), "2025-03-10", "2025-03-17"); err != nil {
		t.Fatalf("GetSlots failed: %v", err)
	}
	if received.StartDate != "2025-03-10" || received.EndDate != "2025-03-17" {
		t.Errorf("unexpected window sent: %+v", received)
	}
}

func TestGetSlots_ResponseShapes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"bare list", `[{"status":"available","start_time":"2025-03-11T15:00:00Z","scheduling_url":"https://x/1"}]`, 1, false},
		{"wrapped list", `{"slots":[{"status":"available"},{"status":"booked"}]}`, 2, false},
		{"empty list", `[]`, 0, false},
		{"null body", `null`, 0, false},
		{"empty object", `{}`, 0, false},
		{"object without slots", `{"message":"ok"}`, 0, false},
		{"scalar", `42`, 0, true},
		{"plain text", `unavailable`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})
			slots, err := client.GetSlots(context.Background(), "2025-03-10", "2025-03-17")
			if tc.wantErr {
				if !errors.Is(err, models.ErrProvider) {
					t.Fatalf("expected ErrProvider, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetSlots failed: %v", err)
			}
			if len(slots) != tc.want {
				t.Errorf("expected %d slots, got %d", tc.want, len(slots))
			}
		})
	}
}

func TestGetSlots_NonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := client.GetSlots(context.Background(), "2025-03-10", "2025-03-17")
	if !errors.Is(err, models.ErrProvider) {
		t.Errorf("expected ErrProvider for non-2xx status, got %v", err)
	}
}

func TestGetSlots_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(WithBaseURL(url))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.GetSlots(context.Background(), "2025-03-10", "2025-03-17"); !errors.Is(err, models.ErrProvider) {
		t.Errorf("expected ErrProvider for connection failure, got %v", err)
	}
}

func TestGetSlots_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.GetSlots(ctx, "2025-03-10", "2025-03-17"); !errors.Is(err, models.ErrProvider) {
		t.Errorf("expected ErrProvider wrapping cancellation, got %v", err)
	}
}
