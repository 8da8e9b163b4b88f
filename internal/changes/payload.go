package changes

import (
	"encoding/json"
	"strings"
)

// scoreFields is the priority list for the primary score. The first path
// that resolves to a number wins.
var scoreFields = [][]string{
	{"dealScore"},
	{"healthScore"},
	{"engagementScore"},
	{"score"},
	{"intelligence", "dealScore"},
	{"intelligence", "healthScore"},
	{"intelligence", "engagementScore"},
	{"intelligence", "score"},
	{"scoring", "totalScore"},
	{"intelligence", "scoring", "totalScore"},
}

var (
	insightFields = [][]string{
		{"insights"}, {"keyInsights"}, {"intelligence", "insights"}, {"intelligence", "keyInsights"},
	}
	riskFields = [][]string{
		{"risks"}, {"riskFactors"}, {"intelligence", "risks"}, {"intelligence", "riskFactors"},
	}
	opportunityFields = [][]string{
		{"opportunities"}, {"opportunitySignals"}, {"intelligence", "opportunities"}, {"intelligence", "opportunitySignals"},
	}
	actionFields = [][]string{
		{"recommendedActions"}, {"actions"}, {"nextBestActions"}, {"intelligence", "recommendedActions"},
	}
)

// itemTextKeys are checked in order when a list item is an object.
var itemTextKeys = []string{"title", "description", "text", "summary", "action", "name"}

// Analysis is the typed view of a result payload used for comparison.
type Analysis struct {
	Score         *float64
	Insights      []string
	Risks         []string
	Opportunities []string
	Actions       []string
}

// Parse extracts the comparable fields from an agent result payload.
func Parse(payload map[string]any) Analysis {
	var a Analysis
	if score, ok := PrimaryScore(payload); ok {
		a.Score = &score
	}
	a.Insights = firstList(payload, insightFields)
	a.Risks = firstList(payload, riskFields)
	a.Opportunities = firstList(payload, opportunityFields)
	a.Actions = firstList(payload, actionFields)
	return a
}

// PrimaryScore returns the first numeric score found in the priority list.
func PrimaryScore(payload map[string]any) (float64, bool) {
	for _, path := range scoreFields {
		raw, ok := lookup(payload, path)
		if !ok {
			continue
		}
		if n, ok := toNumber(raw); ok {
			return n, true
		}
	}
	return 0, false
}

func lookup(payload map[string]any, path []string) (any, bool) {
	var current any = payload
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func firstList(payload map[string]any, paths [][]string) []string {
	for _, path := range paths {
		raw, ok := lookup(payload, path)
		if !ok {
			continue
		}
		if items, ok := toItems(raw); ok {
			return items
		}
	}
	return nil
}

func toItems(raw any) ([]string, bool) {
	switch list := raw.(type) {
	case []string:
		out := make([]string, 0, len(list))
		for _, s := range list {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if text := itemText(item); text != "" {
				out = append(out, text)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func itemText(item any) string {
	switch v := item.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, key := range itemTextKeys {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
