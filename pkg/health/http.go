package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes an HTTP endpoint
type HTTPChecker struct {
	URL     string
	Headers map[string]string

	// Accepted status range, inclusive
	StatusMin int
	StatusMax int

	Client *http.Client
}

// NewHTTPChecker creates a checker accepting any 2xx or 3xx response
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		Headers:   make(map[string]string),
		StatusMin: 200,
		StatusMax: 399,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBearerToken authenticates probes
func (h *HTTPChecker) WithBearerToken(token string) *HTTPChecker {
	if token != "" {
		h.Headers["Authorization"] = "Bearer " + token
	}
	return h
}

// WithStatusRange sets the accepted status range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.StatusMin = min
	h.StatusMax = max
	return h
}

// Check issues a GET to the endpoint
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, format string, args ...any) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return result(false, "failed to create request: %v", err)
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return result(false, "request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < h.StatusMin || resp.StatusCode > h.StatusMax {
		return result(false, "HTTP %d %s (expected %d-%d)", resp.StatusCode, http.StatusText(resp.StatusCode), h.StatusMin, h.StatusMax)
	}
	return result(true, "HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
