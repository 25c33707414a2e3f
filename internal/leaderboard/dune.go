package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultDuneBaseURL = "https://api.dune.com"

// ErrNoDuneAPIKey is returned by NewDuneClient when no key is configured.
var ErrNoDuneAPIKey = errors.New("dune api key is not configured")

// DuneClient reads the latest results of saved Dune queries.
type DuneClient struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

type duneResponse struct {
	State  string `json:"state"`
	Result struct {
		Rows []map[string]any `json:"rows"`
	} `json:"result"`
}

// NewDuneClient builds a client. A nil http client gets a default one.
func NewDuneClient(apiKey, baseURL string, hc *http.Client) (*DuneClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoDuneAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultDuneBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &DuneClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), hc: hc}, nil
}

// RunQuery fetches the cached result rows for queryID.
func (c *DuneClient) RunQuery(ctx context.Context, queryID int) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/api/v1/query/%d/results", c.baseURL, queryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("X-Dune-API-Key", c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dune results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dune results: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload duneResponse
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode dune results: %w", err)
	}
	return payload.Result.Rows, nil
}
