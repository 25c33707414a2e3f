package neynar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"shameScope/internal/model"
)

const (
	DefaultBaseURL     = "https://api.neynar.com"
	DefaultMaxBatch    = 50
	DefaultMinInterval = 10 * time.Second

	bulkByAddressPath = "/v2/farcaster/user/bulk-by-address"
	platform          = "farcaster"
)

// ErrNoAPIKey is returned by New when the provider is not configured.
var ErrNoAPIKey = errors.New("neynar api key is not configured")

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the social-graph client.
type Config struct {
	APIKey      string
	BaseURL     string
	MaxBatch    int
	MinInterval time.Duration
}

// Client resolves addresses to Farcaster users.
type Client struct {
	cfg    Config
	hc     httpDoer
	logger *zap.Logger
}

type user struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

// New builds a client. A nil http client gets a default one.
func New(cfg Config, hc *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, hc: hc, logger: logger}, nil
}

func (c *Client) Name() string               { return "neynar" }
func (c *Client) Source() model.Source       { return model.SourceSocialGraph }
func (c *Client) MaxBatch() int              { return c.cfg.MaxBatch }
func (c *Client) MinInterval() time.Duration { return c.cfg.MinInterval }

// ResolveBulk fetches users for up to MaxBatch addresses in one request.
func (c *Client) ResolveBulk(ctx context.Context, addresses []string) (map[string]model.Profile, error) {
	if len(addresses) == 0 {
		return map[string]model.Profile{}, nil
	}

	query := url.Values{}
	query.Set("addresses", strings.Join(addresses, ","))
	endpoint := c.cfg.BaseURL + bulkByAddressPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk-by-address: %w", err)
	}
	defer resp.Body.Close()

	// No users for any of the addresses.
	if resp.StatusCode == http.StatusNotFound {
		return map[string]model.Profile{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bulk-by-address: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload map[string][]user
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode bulk-by-address: %w", err)
	}

	out := make(map[string]model.Profile, len(payload))
	for address, users := range payload {
		if !model.IsAddress(address) {
			continue
		}
		for _, u := range users {
			if u.Username == "" {
				continue
			}
			out[model.CanonicalAddress(address)] = model.Profile{
				DisplayName: "@" + u.Username,
				Handle:      u.Username,
				Platform:    platform,
				Avatar:      u.PfpURL,
				Verified:    true,
			}
			break
		}
	}
	c.logger.Debug("neynar bulk lookup", zap.Int("requested", len(addresses)), zap.Int("found", len(out)))
	return out, nil
}
