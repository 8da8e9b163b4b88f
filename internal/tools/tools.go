// Package tools holds the agent tool adapters for CRM, search, web fetch and
// knowledge-base lookups.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"salesops-backend/internal/agent"
)

// Tool names as exposed to the model.
const (
	NameCRMLookup      = "crm_lookup"
	NameWebSearch      = "web_search"
	NameFetchURL       = "fetch_url"
	NameKnowledgeQuery = "knowledge_query"
)

const (
	defaultTimeout   = 20 * time.Second
	maxResponseBytes = 5 << 20
	maxErrorBody     = 512
)

// ErrInvalidInput is returned when the model passes unusable arguments.
var ErrInvalidInput = errors.New("invalid tool input")

// Config wires the tool adapters to their backends. A tool whose backend is
// not configured is left out of the registry.
type Config struct {
	CRMBaseURL       string
	CRMClientID      string
	CRMClientSecret  string
	CRMTokenURL      string
	SearchAPIURL     string
	SearchAPIKey     string
	KnowledgeBaseURL string
	HTTPClient       *http.Client
	// FetchClient serves fetch_url, whose URLs come from the model. It
	// defaults to NewPublicHTTPClient.
	FetchClient *http.Client
}

// NewRegistry builds the tool registry from cfg. fetch_url needs no backend
// and is always present.
func NewRegistry(ctx context.Context, cfg Config) (*agent.Registry, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	fetchClient := cfg.FetchClient
	if fetchClient == nil {
		fetchClient = NewPublicHTTPClient(defaultTimeout)
	}

	list := []agent.Tool{NewFetchURL(fetchClient)}
	if strings.TrimSpace(cfg.CRMBaseURL) != "" {
		list = append(list, NewCRMLookup(ctx, CRMConfig{
			BaseURL:      cfg.CRMBaseURL,
			ClientID:     cfg.CRMClientID,
			ClientSecret: cfg.CRMClientSecret,
			TokenURL:     cfg.CRMTokenURL,
		}, client))
	}
	if strings.TrimSpace(cfg.SearchAPIURL) != "" {
		list = append(list, NewWebSearch(cfg.SearchAPIURL, cfg.SearchAPIKey, client))
	}
	if strings.TrimSpace(cfg.KnowledgeBaseURL) != "" {
		list = append(list, NewKnowledgeQuery(cfg.KnowledgeBaseURL, client))
	}
	return agent.NewRegistry(list...)
}

func decodeInput(input json.RawMessage, dst any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return nil
}

// doJSON executes req and decodes a 2xx JSON body into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(strings.ToValidUTF8(string(body), ""))
	if msg == "" {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, msg)
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
