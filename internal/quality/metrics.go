package quality

import (
	"math"
	"sort"
)

// Severity ranks how widespread an issue is within a batch.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

const maxCommonIssues = 10

// ScoreDistribution buckets quality scores.
type ScoreDistribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

// Issue is one distinct problem string and how often it occurred.
type Issue struct {
	Issue    string   `json:"issue"`
	Count    int      `json:"count"`
	Severity Severity `json:"severity"`
}

// Metrics summarizes one assessed batch.
type Metrics struct {
	TotalRecords   int `json:"total_records"`
	ValidRecords   int `json:"valid_records"`
	InvalidRecords int `json:"invalid_records"`
	// DuplicateRecords counts duplicate involvement: a record appearing in
	// three matches contributes three.
	DuplicateRecords       int               `json:"duplicate_records"`
	UniqueDuplicateRecords int               `json:"unique_duplicate_records"`
	AverageQualityScore    float64           `json:"average_quality_score"`
	ScoreDistribution      ScoreDistribution `json:"score_distribution"`
	CommonIssues           []Issue           `json:"common_issues"`
}

func (d *ScoreDistribution) add(score int) {
	switch {
	case score >= 90:
		d.Excellent++
	case score >= 70:
		d.Good++
	case score >= 50:
		d.Fair++
	default:
		d.Poor++
	}
}

func severityFor(count, total int) Severity {
	if total == 0 {
		return SeverityLow
	}
	ratio := float64(count) / float64(total)
	switch {
	case ratio >= 0.5:
		return SeverityCritical
	case ratio >= 0.25:
		return SeverityHigh
	case ratio >= 0.1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// rankIssues orders issues by descending count, ties alphabetical, and keeps
// the first maxCommonIssues.
func rankIssues(counts map[string]int, total int) []Issue {
	issues := make([]Issue, 0, len(counts))
	for text, n := range counts {
		issues = append(issues, Issue{Issue: text, Count: n, Severity: severityFor(n, total)})
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Count != issues[j].Count {
			return issues[i].Count > issues[j].Count
		}
		return issues[i].Issue < issues[j].Issue
	})
	if len(issues) > maxCommonIssues {
		issues = issues[:maxCommonIssues]
	}
	return issues
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
