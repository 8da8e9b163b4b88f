// Package changes compares two analysis result payloads for the same entity.
package changes

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	InitialSummary   = "Initial analysis — no previous data to compare."
	NoChangesSummary = "No significant changes detected since the last analysis."
)

// Field names reported in Result.ChangedFields.
const (
	FieldScore         = "score"
	FieldInsights      = "insights"
	FieldRisks         = "risks"
	FieldOpportunities = "opportunities"
	FieldActions       = "actions"
)

// Result is the delta between a current and a previous analysis.
type Result struct {
	HasChanges            bool     `json:"hasChanges"`
	ScoreChange           *float64 `json:"scoreChange,omitempty"`
	PreviousScore         *float64 `json:"previousScore,omitempty"`
	CurrentScore          *float64 `json:"currentScore,omitempty"`
	ChangedFields         []string `json:"changedFields"`
	NewInsights           []string `json:"newInsights"`
	ResolvedRisks         []string `json:"resolvedRisks"`
	NewRisks              []string `json:"newRisks"`
	NewOpportunities      []string `json:"newOpportunities"`
	ResolvedOpportunities []string `json:"resolvedOpportunities"`
	NewActions            []string `json:"newActions"`
	Summary               string   `json:"summary"`
}

func emptyResult() Result {
	return Result{
		ChangedFields:         []string{},
		NewInsights:           []string{},
		ResolvedRisks:         []string{},
		NewRisks:              []string{},
		NewOpportunities:      []string{},
		ResolvedOpportunities: []string{},
		NewActions:            []string{},
	}
}

// Detect compares current against previous. A nil previous means there is
// nothing to compare against. Detect has no side effects.
func Detect(current, previous map[string]any) Result {
	res := emptyResult()
	if previous == nil {
		res.Summary = InitialSummary
		return res
	}

	cur := Parse(current)
	prev := Parse(previous)

	res.CurrentScore = cur.Score
	res.PreviousScore = prev.Score
	if cur.Score != nil && prev.Score != nil && *cur.Score != *prev.Score {
		delta := *cur.Score - *prev.Score
		res.ScoreChange = &delta
		res.markChanged(FieldScore)
	}

	res.NewInsights = novel(cur.Insights, prev.Insights)
	if len(res.NewInsights) > 0 {
		res.markChanged(FieldInsights)
	}

	res.NewRisks = novel(cur.Risks, prev.Risks)
	res.ResolvedRisks = novel(prev.Risks, cur.Risks)
	if len(res.NewRisks) > 0 || len(res.ResolvedRisks) > 0 {
		res.markChanged(FieldRisks)
	}

	res.NewOpportunities = novel(cur.Opportunities, prev.Opportunities)
	res.ResolvedOpportunities = novel(prev.Opportunities, cur.Opportunities)
	if len(res.NewOpportunities) > 0 || len(res.ResolvedOpportunities) > 0 {
		res.markChanged(FieldOpportunities)
	}

	res.NewActions = novel(cur.Actions, prev.Actions)
	if len(res.NewActions) > 0 {
		res.markChanged(FieldActions)
	}

	res.Summary = summarize(res)
	return res
}

func (r *Result) markChanged(field string) {
	r.HasChanges = true
	r.ChangedFields = append(r.ChangedFields, field)
}

func summarize(r Result) string {
	if !r.HasChanges {
		return NoChangesSummary
	}
	var clauses []string
	if r.ScoreChange != nil {
		direction := "increased"
		if *r.ScoreChange < 0 {
			direction = "decreased"
		}
		clauses = append(clauses, fmt.Sprintf("Score %s by %s (from %s to %s)",
			direction, formatNumber(math.Abs(*r.ScoreChange)), formatNumber(*r.PreviousScore), formatNumber(*r.CurrentScore)))
	}
	if n := len(r.NewInsights); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d new %s", n, plural(n, "insight", "insights")))
	}
	if n := len(r.NewRisks); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d new %s identified", n, plural(n, "risk", "risks")))
	}
	if n := len(r.ResolvedRisks); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d %s resolved", n, plural(n, "risk", "risks")))
	}
	if n := len(r.NewOpportunities); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d new %s", n, plural(n, "opportunity", "opportunities")))
	}
	if n := len(r.ResolvedOpportunities); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d %s no longer present", n, plural(n, "opportunity", "opportunities")))
	}
	if n := len(r.NewActions); n > 0 {
		clauses = append(clauses, fmt.Sprintf("%d new recommended %s", n, plural(n, "action", "actions")))
	}
	return strings.Join(clauses, ". ") + "."
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
