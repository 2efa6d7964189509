package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/types"
)

// Config configures the provider client
type Config struct {
	BaseURL     string
	AccessToken string
	PageSize    int

	// FailureThreshold is the number of consecutive failed requests after
	// which the provider is declared unreachable
	FailureThreshold int

	// RetryInterval is the pause before retrying a failed page
	RetryInterval time.Duration

	// Timeout bounds a single page request
	Timeout time.Duration
}

// Graph is everything the provider reports for one user
type Graph struct {
	Connections []types.ProviderConnection
	KeyPairs    []types.ProviderKeyPair
}

type connectionsPage struct {
	Data       []types.ProviderConnection `json:"data"`
	Pagination *struct {
		PageNumber int `json:"pageNumber"`
		PageSize   int `json:"pageSize"`
		PageCount  int `json:"pageCount"`
	} `json:"pagination"`
}

type connectionsResponse struct {
	DsnpID        string                  `json:"dsnpId"`
	Connections   *connectionsPage        `json:"connections"`
	GraphKeyPairs []types.ProviderKeyPair `json:"graphKeyPairs"`
}

// Fetcher pages through a provider's connection list for a user
type Fetcher struct {
	cfg       Config
	client    *http.Client
	publisher events.Publisher
	logger    zerolog.Logger

	// sleep waits between retries; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a fetcher
func NewFetcher(cfg Config, publisher events.Publisher) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Fetcher{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		publisher: publisher,
		logger:    log.WithComponent("provider"),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch returns the union of every page of the user's connections and key
// pairs. Request failures are retried on the same page until
// FailureThreshold consecutive failures, at which point a
// provider.unreachable event is published and an *UnreachableError
// returned.
func (f *Fetcher) Fetch(ctx context.Context, userID, providerID string) (*Graph, error) {
	logger := f.logger.With().Str("user_id", userID).Str("provider_id", providerID).Logger()

	result := &Graph{}
	seenConnections := make(map[types.ProviderConnection]bool)
	seenKeys := make(map[types.ProviderKeyPair]bool)

	pageNumber := 1
	failures := 0
	for {
		logger.Debug().Int("page", pageNumber).Msg("fetching connections page")

		resp, err := f.fetchPage(ctx, userID, pageNumber)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var unreachable *UnreachableError
			if !errors.As(err, &unreachable) {
				return nil, err
			}

			failures++
			unreachable.Failures = failures
			metrics.ProviderRequestsTotal.WithLabelValues(string(unreachable.Cause)).Inc()

			if failures >= f.cfg.FailureThreshold {
				logger.Error().Err(err).Int("failures", failures).Msg("provider unreachable")
				f.publisher.Publish(&events.Event{
					Type:    events.EventProviderUnreachable,
					Message: err.Error(),
					Metadata: map[string]string{
						"user_id":     userID,
						"provider_id": providerID,
						"cause":       string(unreachable.Cause),
					},
				})
				return nil, err
			}

			logger.Warn().Err(err).Int("failures", failures).Dur("retry_in", f.cfg.RetryInterval).Msg("provider request failed, retrying")
			if err := f.sleep(ctx, f.cfg.RetryInterval); err != nil {
				return nil, err
			}
			continue
		}

		failures = 0
		metrics.ProviderRequestsTotal.WithLabelValues("ok").Inc()

		if resp.Connections == nil {
			return nil, &ShapeError{UserID: userID, Reason: "no connections found"}
		}
		if resp.DsnpID != userID {
			return nil, &ShapeError{UserID: userID, Reason: fmt.Sprintf("dsnpId mismatch (got %q)", resp.DsnpID)}
		}

		for _, c := range resp.Connections.Data {
			if !seenConnections[c] {
				seenConnections[c] = true
				result.Connections = append(result.Connections, c)
			}
		}
		for _, k := range resp.GraphKeyPairs {
			if !seenKeys[k] {
				seenKeys[k] = true
				result.KeyPairs = append(result.KeyPairs, k)
			}
		}

		pagination := resp.Connections.Pagination
		if pagination == nil || pagination.PageCount <= pageNumber {
			break
		}
		pageNumber++
	}

	logger.Debug().
		Int("pages", pageNumber).
		Int("connections", len(result.Connections)).
		Int("key_pairs", len(result.KeyPairs)).
		Msg("fetched provider graph")
	return result, nil
}

func (f *Fetcher) pageURL(userID string, pageNumber int) string {
	query := url.Values{}
	query.Set("pageNumber", strconv.Itoa(pageNumber))
	query.Set("pageSize", strconv.Itoa(f.cfg.PageSize))
	return strings.TrimSuffix(f.cfg.BaseURL, "/") + "/connections/" + url.PathEscape(userID) + "?" + query.Encode()
}

func (f *Fetcher) fetchPage(ctx context.Context, userID string, pageNumber int) (*connectionsResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProviderRequestDuration)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.pageURL(userID, pageNumber), nil)
	if err != nil {
		return nil, &UnreachableError{Cause: CauseOther, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if f.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.AccessToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &UnreachableError{Cause: CauseNoResponse, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &UnreachableError{
			Cause:      CauseBadStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	var body connectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues("malformed").Inc()
		return nil, &ShapeError{UserID: userID, Reason: "malformed body: " + err.Error()}
	}
	return &body, nil
}
