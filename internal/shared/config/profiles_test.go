package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadProfilesEmptyPathUsesDefaults(t *testing.T) {
	got, err := LoadProfiles("")
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(got) != 3 || got["deal"].MaxIterations < 1 {
		t.Fatalf("unexpected defaults %+v", got)
	}
	if types := got.EntityTypes(); strings.Join(types, ",") != "company,contact,deal" {
		t.Fatalf("unexpected entity types %v", types)
	}
}

func TestLoadProfilesFromFile(t *testing.T) {
	t.Setenv("DEAL_TASK", "Score the deal")
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	body := `
profiles:
  Deal:
    task: ${DEAL_TASK}
    max_iterations: 4
    tools: [crm_lookup, knowledge_query]
    timeout: 90s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profiles: %v", err)
	}

	got, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	deal := got["deal"]
	if deal.Task != "Score the deal" || deal.MaxIterations != 4 || deal.Timeout != 90*time.Second {
		t.Fatalf("unexpected deal profile %+v", deal)
	}
	if len(deal.Tools) != 2 || deal.Tools[1] != "knowledge_query" {
		t.Fatalf("unexpected tools %v", deal.Tools)
	}
	if deal.SystemPrompt == "" {
		t.Fatalf("system prompt should fall back to the default")
	}
	if got["contact"].MaxIterations != DefaultProfiles()["contact"].MaxIterations {
		t.Fatalf("unlisted entity types keep defaults")
	}
}

func TestParseProfilesValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown entity", body: "profiles:\n  lead:\n    task: x\n", want: "entity type"},
		{name: "negative iterations", body: "profiles:\n  deal:\n    max_iterations: -1\n", want: "max_iterations"},
		{name: "duplicate tool", body: "profiles:\n  deal:\n    tools: [web_search, web_search]\n", want: "duplicate tool"},
		{name: "bad timeout", body: "profiles:\n  deal:\n    timeout: soon\n", want: "timeout"},
		{name: "bad yaml", body: "profiles: [", want: "parse profiles"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfiles([]byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
