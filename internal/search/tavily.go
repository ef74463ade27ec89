package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chatngt/chatngt/internal/httpkit"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com"

// ErrNoAPIKey is returned by providers that need a credential when none
// was configured.
var ErrNoAPIKey = errors.New("API key is not set")

// Tavily implements the Provider interface for the Tavily search API.
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTavily creates a Tavily provider. An empty baseURL selects
// [DefaultTavilyURL]. A missing apiKey is reported on each search, not
// here, so the service can start without one.
func NewTavily(apiKey, baseURL string, timeout time.Duration) *Tavily {
	if baseURL == "" {
		baseURL = DefaultTavilyURL
	}
	return &Tavily{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
	}
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Results []tavilyResult `json:"results"`
}

type tavilyResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("tavily: %w (TAVILY_API_KEY)", ErrNoAPIKey)
	}

	count := opts.Count
	if count == 0 {
		count = 5
	}

	body, err := json.Marshal(tavilyRequest{
		Query:             query,
		MaxResults:        count,
		IncludeRawContent: opts.IncludeRawContent,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("tavily: HTTP %d: %s", resp.StatusCode, msg)
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	results := make([]Result, 0, len(tr.Results))
	for _, r := range tr.Results {
		results = append(results, Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			PublishedDate: r.PublishedDate,
		})
	}
	return results, nil
}
