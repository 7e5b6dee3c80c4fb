// Package scheduling provides the client for the external scheduling-availability provider.
//
// The provider exposes a single POST operation taking ISO calendar dates
// {start_date, end_date} and returning bookable slot records. Responses come in
// two shapes in the wild, a bare list or an object wrapping a "slots" list;
// both are normalized here so callers only ever see a slice.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// DefaultRequestTimeout bounds one provider round trip.
const DefaultRequestTimeout = 10 * time.Second

// Opts holds configuration options for the scheduling client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the scheduling client.
type Option func(*Opts)

// WithBaseURL sets the provider endpoint, overriding the environment.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient injects an HTTP client, typically for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// Client calls the scheduling-availability provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient initializes a scheduling client. Options take precedence over the
// SCHEDULING_API_URL environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("SCHEDULING_API_URL")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("SCHEDULING_API_URL not set")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Client{baseURL: cfg.BaseURL, httpClient: cfg.HTTPClient}, nil
}

// slotsRequest is the provider's request payload. Dates are ISO calendar dates
// (YYYY-MM-DD), inclusive on both ends.
type slotsRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// GetSlots requests slots for the [startDate, endDate] window. All failures
// wrap models.ErrProvider so callers can collapse them into one fallback path.
func (c *Client) GetSlots(ctx context.Context, startDate, endDate string) ([]models.AvailabilitySlot, error) {
	payload, err := json.Marshal(slotsRequest{StartDate: startDate, EndDate: endDate})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", models.ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", models.ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", models.ErrProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Scheduling.GetSlots: provider returned non-2xx", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: provider returned status %d", models.ErrProvider, resp.StatusCode)
	}

	slots, err := normalizeSlots(body)
	if err != nil {
		return nil, err
	}
	slog.Debug("Scheduling.GetSlots: slots fetched", "count", len(slots), "start", startDate, "end", endDate)
	return slots, nil
}

// normalizeSlots accepts a top-level list or an object with a "slots" list.
// Any other shape is a provider error.
func normalizeSlots(body []byte) ([]models.AvailabilitySlot, error) {
	var direct []models.AvailabilitySlot
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Slots []models.AvailabilitySlot `json:"slots"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil {
		return wrapped.Slots, nil
	}

	return nil, fmt.Errorf("%w: unrecognized response shape", models.ErrProvider)
}
