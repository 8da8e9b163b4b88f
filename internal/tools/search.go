package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearch queries a JSON search API.
type WebSearch struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewWebSearch(endpoint, apiKey string, client *http.Client) *WebSearch {
	return &WebSearch{endpoint: strings.TrimSpace(endpoint), apiKey: apiKey, client: client}
}

func (t *WebSearch) Name() string { return NameWebSearch }

func (t *WebSearch) Description() string {
	return "Search the web for news and public information. Returns titles, URLs and short snippets; use fetch_url to read a result in full."
}

func (t *WebSearch) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results (1-10, default 5)",
			},
		},
		"required": []string{"query"},
	}
}

type searchInput struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

func (t *WebSearch) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in searchInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("query", in.Query); err != nil {
		return nil, err
	}
	count := clamp(in.Count, 1, 10, 5)

	body, err := json.Marshal(map[string]any{"query": in.Query, "max_results": count})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	var resp struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Content     string `json:"content"`
			Description string `json:"description"`
		} `json:"results"`
	}
	if err := doJSON(t.client, req, &resp); err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		snippet := r.Content
		if snippet == "" {
			snippet = r.Description
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: snippet})
		if len(results) == count {
			break
		}
	}
	return results, nil
}
