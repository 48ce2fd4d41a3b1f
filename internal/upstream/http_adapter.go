package upstream

// Generic HTTP sample provider client. Each monitor type maps to one
// endpoint on the provider; the response carries the current observed
// value for the monitor's subject. The scheduler treats these as opaque
// adapters and owns retries and circuit breaking above this layer.

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"watcher-hub/internal/infra/retry"
	"watcher-hub/internal/watcher"
)

const maxResponseSize = 1 << 20

// Client talks to the sample provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a provider client against baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

// sampleResponse is the provider's wire format for a single observation.
type sampleResponse struct {
	Valid    bool    `json:"valid"`
	Value    float64 `json:"value"`
	Detected bool    `json:"detected"`
	Detail   string  `json:"detail"`
}

// Adapters returns one adapter per known monitor type, all backed by the
// same /sample endpoint.
func (c *Client) Adapters() watcher.AdapterSet {
	set := make(watcher.AdapterSet)
	for _, t := range watcher.MonitorTypes {
		monitorType := t
		set[monitorType] = func(ctx context.Context, m watcher.Monitor) (watcher.Sample, error) {
			return c.fetchSample(ctx, monitorType, m)
		}
	}
	return set
}

func (c *Client) fetchSample(ctx context.Context, t watcher.MonitorType, m watcher.Monitor) (watcher.Sample, error) {
	params := url.Values{}
	params.Set("type", string(t))
	params.Set("id", m.ID)
	if m.EventName != "" {
		params.Set("event", m.EventName)
	}
	if m.GroupTag != "" {
		params.Set("group", m.GroupTag)
	}
	endpoint := fmt.Sprintf("%s/sample?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return watcher.Sample{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are worth retrying at the scheduler level.
		return watcher.Sample{}, &retry.TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return watcher.Sample{}, &retry.TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return watcher.Sample{}, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var sr sampleResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return watcher.Sample{}, fmt.Errorf("failed to decode sample: %w", err)
	}

	if !sr.Valid {
		return watcher.InvalidSample(), nil
	}
	return watcher.Sample{
		Valid:    true,
		Value:    decimal.NewFromFloat(sr.Value),
		Detected: sr.Detected,
		Detail:   sr.Detail,
	}, nil
}
