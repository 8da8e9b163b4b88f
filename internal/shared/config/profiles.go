package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentProfile configures the agent run for one entity type.
type AgentProfile struct {
	SystemPrompt  string
	Task          string
	MaxIterations int
	Tools         []string
	Parallelism   int
	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration
}

// Profiles maps an entity type (contact, company, deal) to its profile.
type Profiles map[string]AgentProfile

var profileEntityTypes = []string{"company", "contact", "deal"}

type rawProfileFile struct {
	Profiles map[string]rawProfile `yaml:"profiles"`
}

type rawProfile struct {
	SystemPrompt  string   `yaml:"system_prompt"`
	Task          string   `yaml:"task"`
	MaxIterations int      `yaml:"max_iterations"`
	Tools         []string `yaml:"tools"`
	Parallelism   int      `yaml:"parallelism"`
	Timeout       string   `yaml:"timeout"`
}

// LoadProfiles reads the YAML profile file at path. An empty path returns
// DefaultProfiles. ${VAR} references are expanded from the environment.
func LoadProfiles(path string) (Profiles, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfiles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles parses and validates profile YAML. Entity types missing
// from the file fall back to the defaults.
func ParseProfiles(data []byte) (Profiles, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawProfileFile
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	out := DefaultProfiles()
	for name, rp := range raw.Profiles {
		entityType := strings.ToLower(strings.TrimSpace(name))
		if _, ok := out[entityType]; !ok {
			return nil, fmt.Errorf("profile %q: entity type must be one of %s", name, strings.Join(profileEntityTypes, ", "))
		}
		p, err := rp.toProfile(out[entityType])
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", entityType, err)
		}
		out[entityType] = p
	}
	return out, nil
}

func (rp rawProfile) toProfile(def AgentProfile) (AgentProfile, error) {
	p := def
	if s := strings.TrimSpace(rp.SystemPrompt); s != "" {
		p.SystemPrompt = s
	}
	if s := strings.TrimSpace(rp.Task); s != "" {
		p.Task = s
	}
	if rp.MaxIterations != 0 {
		if rp.MaxIterations < 1 {
			return AgentProfile{}, fmt.Errorf("max_iterations must be >= 1, got %d", rp.MaxIterations)
		}
		p.MaxIterations = rp.MaxIterations
	}
	if rp.Parallelism < 0 {
		return AgentProfile{}, fmt.Errorf("parallelism must be >= 0, got %d", rp.Parallelism)
	}
	if rp.Parallelism > 0 {
		p.Parallelism = rp.Parallelism
	}
	if rp.Tools != nil {
		seen := make(map[string]bool, len(rp.Tools))
		tools := make([]string, 0, len(rp.Tools))
		for _, name := range rp.Tools {
			name = strings.TrimSpace(name)
			if name == "" {
				return AgentProfile{}, fmt.Errorf("tool names must not be empty")
			}
			if seen[name] {
				return AgentProfile{}, fmt.Errorf("duplicate tool %q", name)
			}
			seen[name] = true
			tools = append(tools, name)
		}
		p.Tools = tools
	}
	if s := strings.TrimSpace(rp.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return AgentProfile{}, fmt.Errorf("parse timeout %q: %w", s, err)
		}
		p.Timeout = d
	}
	return p, nil
}

// EntityTypes returns the configured entity types in sorted order.
func (p Profiles) EntityTypes() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

const defaultSystemPrompt = `You are a sales operations analyst. Use the available tools to gather facts about the CRM record before answering.
Respond with a single JSON object and no other text.`

// DefaultProfiles returns the built-in profile for every entity type.
func DefaultProfiles() Profiles {
	allTools := []string{"crm_lookup", "web_search", "fetch_url", "knowledge_query"}
	return Profiles{
		"contact": {
			SystemPrompt:  defaultSystemPrompt,
			Task:          `Assess engagement for this contact. Return {"engagementScore": 0-100, "insights": [], "risks": [], "opportunities": [], "recommendedActions": []}.`,
			MaxIterations: 8,
			Tools:         append([]string(nil), allTools...),
		},
		"company": {
			SystemPrompt:  defaultSystemPrompt,
			Task:          `Assess account health for this company. Return {"healthScore": 0-100, "insights": [], "risks": [], "opportunities": [], "recommendedActions": []}.`,
			MaxIterations: 10,
			Tools:         append([]string(nil), allTools...),
		},
		"deal": {
			SystemPrompt:  defaultSystemPrompt,
			Task:          `Assess the likelihood this deal closes. Return {"dealScore": 0-100, "insights": [], "risks": [], "opportunities": [], "recommendedActions": []}.`,
			MaxIterations: 10,
			Tools:         append([]string(nil), allTools...),
		},
	}
}
