package validation

import (
	"regexp"
	"time"

	"ingest-quality-service/internal/record"
)

// Predicate is a custom check run after the built-in checks of a rule.
type Predicate func(value interface{}, rec record.Record) bool

var htmlTag = regexp.MustCompile(`<\s*/?\s*[a-zA-Z][^>]*>`)

// clock is swapped in tests.
var clock = time.Now

// BuiltinPredicates returns the predicates every rule set may reference.
func BuiltinPredicates() map[string]Predicate {
	return map[string]Predicate{
		"not_future_date": notFutureDate,
		"no_html":         noHTML,
	}
}

// CountryPredicate adapts a canonical-country lookup into a predicate.
func CountryPredicate(isCanonical func(string) bool) Predicate {
	return func(value interface{}, _ record.Record) bool {
		s, ok := value.(string)
		return ok && isCanonical(s)
	}
}

func notFutureDate(value interface{}, _ record.Record) bool {
	t, ok := record.ParseTime(value)
	if !ok {
		// the type check reports unparsable dates
		return true
	}
	return !t.After(clock().Add(24 * time.Hour))
}

func noHTML(value interface{}, _ record.Record) bool {
	s, ok := value.(string)
	if !ok {
		return true
	}
	return !htmlTag.MatchString(s)
}
