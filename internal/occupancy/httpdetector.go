package occupancy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
)

// HTTPDetector posts each frame to an inference endpoint that answers
// {"person_count": n}.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  httputil.HTTPClient
}

// NewHTTPDetector returns a detector using http.DefaultClient.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{URL: url, Timeout: timeout, Client: http.DefaultClient}
}

type detectResponse struct {
	PersonCount *int   `json:"person_count"`
	Error       string `json:"error,omitempty"`
}

// DetectPersonCount implements Detector.
func (d *HTTPDetector) DetectPersonCount(ctx context.Context, f Frame) (int, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(f.Data))
	if err != nil {
		return 0, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(f.Data))
	req.Header.Set("X-Frame-Seq", fmt.Sprint(f.Seq))

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("detect request: %w", err)
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return 0, fmt.Errorf("detector: %w", err)
	}

	var out detectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode detector response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("detector: %s", out.Error)
	}
	if out.PersonCount == nil {
		return 0, fmt.Errorf("detector response missing person_count")
	}
	if *out.PersonCount < 0 {
		return 0, fmt.Errorf("detector returned negative count %d", *out.PersonCount)
	}
	return *out.PersonCount, nil
}
