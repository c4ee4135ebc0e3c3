package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const progressInterval = 100

// Identification is one sanctions designation attached to an address.
type Identification struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Result is the screening outcome for a single address.
type Result struct {
	Address         string           `json:"address"`
	Identifications []Identification `json:"identifications"`
}

// Sanctioned reports whether the address carries any designation.
func (r *Result) Sanctioned() bool {
	return len(r.Identifications) > 0
}

// Report summarizes a batch screening run.
type Report struct {
	Scanned int `json:"scanned"`
	// Flagged lists sanctioned addresses in input order.
	Flagged []string `json:"flagged"`
	// Failed maps addresses whose lookup failed to the error message.
	Failed map[string]string `json:"failed,omitempty"`
}

// IScreener screens addresses against a sanctions list.
type IScreener interface {
	ScreenAddress(ctx context.Context, address string) (*Result, error)
	ScreenAddresses(ctx context.Context, addresses []string) (*Report, error)
}

var _ IScreener = (*Client)(nil)

// ClientConfig holds the configuration for the Chainalysis client
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	RatePerSecond float64
	Timeout       time.Duration
	Logger        *zap.Logger
}

// Client queries the Chainalysis public sanctions API.
type Client struct {
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a rate limited sanctions screening client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

// SetHttpClient replaces the HTTP client, e.g. for tests.
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// ScreenAddress looks up one address, waiting on the rate limiter first.
func (c *Client) ScreenAddress(ctx context.Context, address string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait failed")
	}

	endpoint := fmt.Sprintf("%s/api/v1/address/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build screening request for %s", address)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "screening request for %s failed", address)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read screening response for %s", address)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("screening %s returned status %d: %s", address, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Identifications []Identification `json:"identifications"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrapf(err, "failed to decode screening response for %s", address)
	}

	return &Result{Address: address, Identifications: payload.Identifications}, nil
}

// ScreenAddresses screens every address in order. A failed lookup is recorded in
// the report and the run continues; only context cancellation aborts it.
func (c *Client) ScreenAddresses(ctx context.Context, addresses []string) (*Report, error) {
	c.logger.Sugar().Infow("Scanning address list for sanctions", "addresses", len(addresses))

	report := &Report{
		Flagged: []string{},
		Failed:  make(map[string]string),
	}
	for i, address := range addresses {
		if i%progressInterval == 0 {
			c.logger.Sugar().Infow("Screening progress", "scanned", i, "total", len(addresses))
		}
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "screening cancelled")
		}

		result, err := c.ScreenAddress(ctx, address)
		if err != nil {
			if ctx.Err() != nil {
				return report, errors.Wrap(ctx.Err(), "screening cancelled")
			}
			c.logger.Sugar().Warnw("Failed to screen address", "address", address, "error", err)
			report.Failed[address] = err.Error()
			continue
		}
		report.Scanned++

		if result.Sanctioned() {
			c.logger.Sugar().Warnw("Sanctioned address found",
				"address", address,
				"identifications", len(result.Identifications),
			)
			report.Flagged = append(report.Flagged, address)
		}
	}

	c.logger.Sugar().Infow("Done scanning address list for sanctions",
		"scanned", report.Scanned,
		"flagged", len(report.Flagged),
		"failed", len(report.Failed),
	)
	return report, nil
}
