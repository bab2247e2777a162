package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/linkforge/linkforge/config"
)

const serperEndpoint = "https://google.serper.dev/search"

// Result is one web search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Serper queries the serper.dev Google search API.
type Serper struct {
	apiKey string
	client *http.Client
}

// NewSerper builds a serper client from config.
func NewSerper(cfg config.SearchConfig) *Serper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Serper{
		apiKey: cfg.SerperAPIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Search returns up to k organic results for q.
func (s *Serper) Search(ctx context.Context, q string, k int) ([]Result, error) {
	payload, err := json.Marshal(map[string]any{"q": q, "num": k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []Result
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, Result{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}
