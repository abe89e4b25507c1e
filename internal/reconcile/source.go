package reconcile

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/electrolyser-core/internal/infrastructure/config"
)

// Source defaults.
const (
	defaultPageSize     = 90
	defaultTimeout      = 10 * time.Second
	defaultMaxFailures  = 5
	defaultOpenTimeout  = 60 * time.Second
	maxResponseSize     = 10 << 20 // 10 MB
	envelopeSuccessCode = 200
)

// Item is one raw row from the snapshot source, keyed by source field
// name. Numbers are json.Number.
type Item map[string]any

// Source fetches the latest full-fleet snapshot.
type Source interface {
	Fetch(ctx context.Context) ([]Item, error)
}

// HTTPSource reads the WinCC web API's paged snapshot endpoint.
//
// A single page of pageSize rows covers every device's recent history.
// Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff; the whole fetch runs inside a circuit breaker so
// a dead source is not hammered every pass.
//
// Thread Safety:
//   - Safe for concurrent use.
type HTTPSource struct {
	url        string
	token      string
	pageSize   int
	maxRetries int
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker

	// newBackOff builds the retry policy for one fetch.
	newBackOff func() backoff.BackOff
}

type pageRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type pageResponse struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
	Result  struct {
		Items []Item `json:"items"`
	} `json:"result"`
}

// NewHTTPSource builds a source from configuration.
//
// Parameters:
//   - cfg: Endpoint, bearer token, page size, timeout and retry budget
//   - br: Circuit breaker thresholds
//
// Returns:
//   - *HTTPSource: Ready to Fetch
//   - error: ErrNoSourceURL if cfg.URL is empty
func NewHTTPSource(cfg config.ReconcileSourceConfig, br config.BreakerConfig) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNoSourceURL
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		// The plant's web API presents a self-signed certificate.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via config
	}

	maxFailures := br.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := defaultOpenTimeout
	if br.OpenTimeout > 0 {
		openTimeout = time.Duration(br.OpenTimeout) * time.Second
	}

	return &HTTPSource{
		url:        cfg.URL,
		token:      cfg.Token,
		pageSize:   pageSize,
		maxRetries: max(cfg.MaxRetries, 0),
		client:     &http.Client{Timeout: timeout, Transport: transport},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "reconcile-source",
			Timeout: openTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(maxFailures)
			},
		}),
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// Fetch returns the items of the first snapshot page.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Item, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		var items []Item
		op := func() error {
			var err error
			items, err = s.fetchOnce(ctx)
			return err
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxRetries)), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			return nil, err
		}
		return items, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]Item), nil
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open").
func (s *HTTPSource) BreakerState() string {
	return s.breaker.State().String()
}

// fetchOnce performs one POST. Errors that retrying cannot fix are
// wrapped with backoff.Permanent.
func (s *HTTPSource) fetchOnce(ctx context.Context) ([]Item, error) {
	body, err := json.Marshal(pageRequest{Page: 1, PageSize: s.pageSize})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json-patch+json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("source returned HTTP %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d", ErrSourceRejected, resp.StatusCode))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var page pageResponse
	if err := dec.Decode(&page); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrBadResponse, err))
	}
	if code, err := page.Code.Int64(); err != nil || code != envelopeSuccessCode {
		return nil, backoff.Permanent(fmt.Errorf("%w: code %q %s", ErrSourceRejected, page.Code, page.Message))
	}

	return page.Result.Items, nil
}
