package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// CRMConfig points crm_lookup at a CRM REST API. When TokenURL is set the
// client authenticates with the OAuth2 client credentials grant.
type CRMConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// CRMLookup fetches a CRM record and its associations.
type CRMLookup struct {
	baseURL string
	client  *http.Client
}

// NewCRMLookup builds the tool. base is used for unauthenticated CRMs and as
// the transport for the token exchange.
func NewCRMLookup(ctx context.Context, cfg CRMConfig, base *http.Client) *CRMLookup {
	client := base
	if strings.TrimSpace(cfg.TokenURL) != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
		client = cc.Client(tokenCtx)
		client.Timeout = base.Timeout
	}
	return &CRMLookup{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: client}
}

func (t *CRMLookup) Name() string { return NameCRMLookup }

func (t *CRMLookup) Description() string {
	return "Look up a CRM record (contact, company or deal) by id. Returns the record properties and associated records."
}

func (t *CRMLookup) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"entityType": map[string]any{
				"type": "string",
				"enum": []string{"contact", "company", "deal"},
			},
			"entityId": map[string]any{
				"type":        "string",
				"description": "CRM record id",
			},
			"associations": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Associated object types to include, e.g. deals or contacts",
			},
		},
		"required": []string{"entityType", "entityId"},
	}
}

type crmInput struct {
	EntityType   string   `json:"entityType"`
	EntityID     string   `json:"entityId"`
	Associations []string `json:"associations"`
}

func (t *CRMLookup) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in crmInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("entityType", in.EntityType); err != nil {
		return nil, err
	}
	if err := required("entityId", in.EntityID); err != nil {
		return nil, err
	}
	collection, err := crmCollection(in.EntityType)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/objects/%s/%s", t.baseURL, collection, url.PathEscape(in.EntityID))
	if len(in.Associations) > 0 {
		q := url.Values{}
		q.Set("associations", strings.Join(in.Associations, ","))
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build crm request: %w", err)
	}

	var record map[string]any
	if err := doJSON(t.client, req, &record); err != nil {
		return nil, fmt.Errorf("crm lookup %s/%s: %w", in.EntityType, in.EntityID, err)
	}
	return record, nil
}

func crmCollection(entityType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(entityType)) {
	case "contact":
		return "contacts", nil
	case "company":
		return "companies", nil
	case "deal":
		return "deals", nil
	default:
		return "", fmt.Errorf("%w: unsupported entityType %q", ErrInvalidInput, entityType)
	}
}
