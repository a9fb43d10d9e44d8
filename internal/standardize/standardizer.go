// Package standardize rewrites free-form field values into canonical forms.
// Standardization is best-effort: values that cannot be mapped are kept as-is.
package standardize

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ingest-quality-service/internal/record"
)

const (
	countryField  = "country"
	categoryField = "category"
)

// Report counts normalizations that changed a value.
type Report struct {
	Records    int `json:"records"`
	Countries  int `json:"countries"`
	Dates      int `json:"dates"`
	Categories int `json:"categories"`
}

// Changed returns the total number of rewritten values.
func (r Report) Changed() int {
	return r.Countries + r.Dates + r.Categories
}

// Config holds the lookup tables. Nil fields fall back to the defaults.
type Config struct {
	Countries  map[string]string
	Categories map[string]string
	DateFields []string
}

// Standardizer normalizes country, date and category fields.
type Standardizer struct {
	countries  map[string]string
	categories map[string]string
	dateFields []string
}

// New builds a standardizer. Alias keys are folded the same way lookups are,
// and every canonical value maps to itself so a second pass is a no-op.
func New(cfg Config) *Standardizer {
	countries := cfg.Countries
	if countries == nil {
		countries = DefaultCountries
	}
	categories := cfg.Categories
	if categories == nil {
		categories = DefaultCategories
	}
	dateFields := cfg.DateFields
	if len(dateFields) == 0 {
		dateFields = DefaultDateFields
	}

	return &Standardizer{
		countries:  buildTable(countries),
		categories: buildTable(categories),
		dateFields: dateFields,
	}
}

func buildTable(aliases map[string]string) map[string]string {
	table := make(map[string]string, len(aliases)*2)
	for alias, canonical := range aliases {
		table[foldKey(alias)] = canonical
	}
	for _, canonical := range aliases {
		table[foldKey(canonical)] = canonical
	}
	return table
}

// foldKey lower-cases, strips diacritics and collapses whitespace.
func foldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	folded := cases.Fold().String(stripped)
	return strings.Join(strings.Fields(folded), " ")
}

// Standardize returns standardized copies of records. Inputs are not modified.
func (s *Standardizer) Standardize(records []record.Record) ([]record.Record, Report) {
	out := make([]record.Record, len(records))
	report := Report{Records: len(records)}

	for i, rec := range records {
		cp := rec.Clone()

		if s.rewriteLookup(&cp, countryField, s.countries) {
			report.Countries++
		}
		for _, field := range s.dateFields {
			if s.rewriteDate(&cp, field) {
				report.Dates++
			}
		}
		if s.rewriteLookup(&cp, categoryField, s.categories) {
			report.Categories++
		}

		out[i] = cp
	}

	return out, report
}

// Country returns the canonical form of a country name.
func (s *Standardizer) Country(value string) (string, bool) {
	canonical, ok := s.countries[foldKey(value)]
	return canonical, ok
}

// Category returns the canonical form of a category label.
func (s *Standardizer) Category(value string) (string, bool) {
	canonical, ok := s.categories[foldKey(value)]
	return canonical, ok
}

// IsCanonicalCountry reports whether value is already a canonical name.
func (s *Standardizer) IsCanonicalCountry(value string) bool {
	canonical, ok := s.Country(value)
	return ok && canonical == value
}

func (s *Standardizer) rewriteLookup(rec *record.Record, field string, table map[string]string) bool {
	value, ok := rec.String(field)
	if !ok {
		return false
	}
	canonical, ok := table[foldKey(value)]
	if !ok || canonical == value {
		return false
	}
	rec.Set(field, canonical)
	return true
}

func (s *Standardizer) rewriteDate(rec *record.Record, field string) bool {
	raw, ok := rec.Get(field)
	if !ok {
		return false
	}
	parsed, ok := record.ParseTime(raw)
	if !ok {
		return false
	}
	canonical := FormatTime(parsed)
	if current, isString := raw.(string); isString && current == canonical {
		return false
	}
	rec.Set(field, canonical)
	return true
}

// FormatTime renders the canonical timestamp representation.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
