// Package scoring grades records on a 0-100 scale.
package scoring

import (
	"regexp"
	"unicode/utf8"

	"ingest-quality-service/internal/record"
)

const (
	MaxScore = 100
	MinScore = 0

	minTitleLength       = 10
	minDescriptionLength = 50
	minSourceLength      = 3
)

// Penalties are the deductions applied for each detected issue.
type Penalties struct {
	MissingRequired   int `yaml:"missing_required" json:"missing_required"`
	ShortTitle        int `yaml:"short_title" json:"short_title"`
	ShortDescription  int `yaml:"short_description" json:"short_description"`
	InvalidDate       int `yaml:"invalid_date" json:"invalid_date"`
	ShortSource       int `yaml:"short_source" json:"short_source"`
	PlaceholderTitle  int `yaml:"placeholder_title" json:"placeholder_title"`
	DescriptionIsCopy int `yaml:"description_is_copy" json:"description_is_copy"`
}

// DefaultPenalties returns the standard deduction table.
func DefaultPenalties() Penalties {
	return Penalties{
		MissingRequired:   15,
		ShortTitle:        10,
		ShortDescription:  10,
		InvalidDate:       15,
		ShortSource:       10,
		PlaceholderTitle:  20,
		DescriptionIsCopy: 15,
	}
}

// Findings reported alongside the score. Missing required fields are not
// listed here since validation already reports them.
const (
	FindingShortTitle        = "title shorter than 10 characters"
	FindingShortDescription  = "description shorter than 50 characters"
	FindingInvalidDate       = "date could not be parsed"
	FindingShortSource       = "source shorter than 3 characters"
	FindingPlaceholderTitle  = "title looks like placeholder content"
	FindingDescriptionIsCopy = "description duplicates title"
)

var placeholderPattern = regexp.MustCompile(`(?i)test|sample|example`)

// Config configures a scorer. A nil Penalties selects the defaults.
type Config struct {
	RequiredFields []string
	DateFields     []string
	Penalties      *Penalties
}

// Scorer computes quality scores.
type Scorer struct {
	required   []string
	dateFields []string
	penalties  Penalties
}

var defaultDateFields = []string{"date", "publication_date", "published_at", "publishedDate", "decision_date"}

// New creates a scorer. RequiredFields should come from the validator so
// both agree on completeness.
func New(cfg Config) *Scorer {
	s := &Scorer{
		required:   cfg.RequiredFields,
		dateFields: cfg.DateFields,
		penalties:  DefaultPenalties(),
	}
	if cfg.Penalties != nil {
		s.penalties = *cfg.Penalties
	}
	if len(s.dateFields) == 0 {
		s.dateFields = defaultDateFields
	}
	return s
}

// ScoreAll scores every record in input order.
func (s *Scorer) ScoreAll(records []record.Record) []int {
	scores := make([]int, len(records))
	for i, rec := range records {
		scores[i], _ = s.Score(rec)
	}
	return scores
}

// Score returns the score for a record and the findings that lowered it.
// Every deduction is evaluated independently.
func (s *Scorer) Score(rec record.Record) (int, []string) {
	score := MaxScore
	var findings []string

	for _, field := range s.required {
		if rec.IsEmpty(field) {
			score -= s.penalties.MissingRequired
		}
	}

	title, hasTitle := rec.String("title")
	if hasTitle && utf8.RuneCountInString(title) < minTitleLength {
		score -= s.penalties.ShortTitle
		findings = append(findings, FindingShortTitle)
	}

	description, hasDescription := rec.String("description")
	if hasDescription && utf8.RuneCountInString(description) < minDescriptionLength {
		score -= s.penalties.ShortDescription
		findings = append(findings, FindingShortDescription)
	}

	if s.hasInvalidDate(rec) {
		score -= s.penalties.InvalidDate
		findings = append(findings, FindingInvalidDate)
	}

	if source, ok := rec.String("source"); ok && utf8.RuneCountInString(source) < minSourceLength {
		score -= s.penalties.ShortSource
		findings = append(findings, FindingShortSource)
	}

	if hasTitle && placeholderPattern.MatchString(title) {
		score -= s.penalties.PlaceholderTitle
		findings = append(findings, FindingPlaceholderTitle)
	}

	if hasTitle && hasDescription && description == title {
		score -= s.penalties.DescriptionIsCopy
		findings = append(findings, FindingDescriptionIsCopy)
	}

	return clamp(score), findings
}

func (s *Scorer) hasInvalidDate(rec record.Record) bool {
	for _, field := range s.dateFields {
		raw, ok := rec.Get(field)
		if !ok || rec.IsEmpty(field) {
			continue
		}
		if _, ok := record.ParseTime(raw); !ok {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
