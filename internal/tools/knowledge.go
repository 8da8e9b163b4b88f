package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// KnowledgeHit is one passage returned by the knowledge base.
type KnowledgeHit struct {
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// KnowledgeQuery asks the internal knowledge-base service for passages
// relevant to a question (playbooks, battlecards, past deal notes).
type KnowledgeQuery struct {
	endpoint string
	client   *http.Client
}

func NewKnowledgeQuery(baseURL string, client *http.Client) *KnowledgeQuery {
	return &KnowledgeQuery{endpoint: strings.TrimRight(baseURL, "/") + "/query", client: client}
}

func (t *KnowledgeQuery) Name() string { return NameKnowledgeQuery }

func (t *KnowledgeQuery) Description() string {
	return "Query the internal sales knowledge base (playbooks, battlecards, prior deal notes). Returns the most relevant passages."
}

func (t *KnowledgeQuery) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Natural language question",
			},
			"topK": map[string]any{
				"type":        "integer",
				"description": "Maximum passages to return (1-20, default 5)",
			},
		},
		"required": []string{"query"},
	}
}

type knowledgeInput struct {
	Query string `json:"query"`
	TopK  int    `json:"topK"`
}

func (t *KnowledgeQuery) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in knowledgeInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("query", in.Query); err != nil {
		return nil, err
	}

	body, err := json.Marshal(knowledgeInput{Query: in.Query, TopK: clamp(in.TopK, 1, 20, 5)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build knowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Results []KnowledgeHit `json:"results"`
	}
	if err := doJSON(t.client, req, &resp); err != nil {
		return nil, fmt.Errorf("knowledge query: %w", err)
	}
	if resp.Results == nil {
		resp.Results = []KnowledgeHit{}
	}
	return resp.Results, nil
}
