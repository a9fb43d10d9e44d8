// Package validation applies declarative field rules to records.
//
// A failing record is data, not an error: Validate never returns one. Only
// malformed rule configuration is reported as an error, at compile time.
package validation

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"ingest-quality-service/internal/record"
)

// FieldType is the expected type of a rule's field.
type FieldType string

const (
	TypeAny    FieldType = ""
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
	TypeEmail  FieldType = "email"
	TypeURL    FieldType = "url"
	TypeEnum   FieldType = "enum"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Rule is a compiled, read-only field rule.
type Rule struct {
	Field      string
	Required   bool
	Type       FieldType
	MinLength  *int
	MaxLength  *int
	Pattern    *regexp.Regexp
	EnumValues []string
	Custom     Predicate
	CustomName string
	Message    string
}

// Result is the outcome of validating one record.
type Result struct {
	Index   int           `json:"index"`
	Record  record.Record `json:"-"`
	IsValid bool          `json:"is_valid"`
	Errors  []string      `json:"errors"`
}

// Validator evaluates records against a fixed rule list.
type Validator struct {
	rules []Rule
}

// NewValidator creates a validator. The slice is copied so later changes by
// the caller have no effect.
func NewValidator(rules []Rule) *Validator {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Validator{rules: cp}
}

// LoadRules reads rule definitions from a YAML file and compiles them.
func LoadRules(path string, predicates map[string]Predicate) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read rules file %s", path)
	}

	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal rules")
	}

	return Compile(config.Rules, predicates)
}

// DefaultRules compiles DefaultDefinitions with the built-in predicates.
func DefaultRules() []Rule {
	rules, err := Compile(DefaultDefinitions(), BuiltinPredicates())
	if err != nil {
		panic(fmt.Sprintf("default rules do not compile: %v", err))
	}
	return rules
}

// Compile turns definitions into rules. Bad patterns, unknown types and
// unknown predicates are configuration errors.
func Compile(defs []RuleDefinition, predicates map[string]Predicate) ([]Rule, error) {
	rules := make([]Rule, 0, len(defs))

	for i, def := range defs {
		if strings.TrimSpace(def.Field) == "" {
			return nil, eris.Errorf("rules[%d]: field is required", i)
		}

		rule := Rule{
			Field:      def.Field,
			Required:   def.Required,
			Type:       FieldType(strings.ToLower(def.Type)),
			MinLength:  def.MinLength,
			MaxLength:  def.MaxLength,
			EnumValues: def.EnumValues,
			CustomName: def.Custom,
			Message:    def.Message,
		}

		switch rule.Type {
		case TypeAny, TypeString, TypeNumber, TypeDate, TypeEmail, TypeURL, TypeEnum:
		default:
			return nil, eris.Errorf("rules[%d] (%s): unknown type %q", i, def.Field, def.Type)
		}

		if rule.Type == TypeEnum && len(rule.EnumValues) == 0 {
			return nil, eris.Errorf("rules[%d] (%s): enum type requires enum_values", i, def.Field)
		}

		if def.MinLength != nil && def.MaxLength != nil && *def.MinLength > *def.MaxLength {
			return nil, eris.Errorf("rules[%d] (%s): min_length %d exceeds max_length %d", i, def.Field, *def.MinLength, *def.MaxLength)
		}

		if def.Pattern != "" {
			pattern, err := regexp.Compile(def.Pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "invalid regex pattern in rules[%d] (%s)", i, def.Field)
			}
			rule.Pattern = pattern
		}

		if def.Custom != "" {
			predicate, ok := predicates[def.Custom]
			if !ok {
				return nil, eris.Errorf("rules[%d] (%s): unknown custom predicate %q", i, def.Field, def.Custom)
			}
			rule.Custom = predicate
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

// Rules returns a copy of the rule list.
func (v *Validator) Rules() []Rule {
	cp := make([]Rule, len(v.rules))
	copy(cp, v.rules)
	return cp
}

// RequiredFields lists required fields in rule order, without repeats.
func (v *Validator) RequiredFields() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, rule := range v.rules {
		if rule.Required && !seen[rule.Field] {
			seen[rule.Field] = true
			fields = append(fields, rule.Field)
		}
	}
	return fields
}

// ValidateAll validates every record. Results are in input order.
func (v *Validator) ValidateAll(records []record.Record) []Result {
	results := make([]Result, len(records))
	for i, rec := range records {
		results[i] = v.Validate(rec)
		results[i].Index = i
	}
	return results
}

// Validate evaluates all rules against one record. Within a rule, every
// failing check adds its own message.
func (v *Validator) Validate(rec record.Record) Result {
	errs := []string{}

	for _, rule := range v.rules {
		if rec.IsEmpty(rule.Field) {
			if rule.Required {
				errs = append(errs, fmt.Sprintf("%s is required", rule.Field))
			}
			continue
		}

		value, _ := rec.Get(rule.Field)
		errs = append(errs, evaluateRule(rule, value, rec)...)
	}

	return Result{
		Record:  rec,
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

func evaluateRule(rule Rule, value interface{}, rec record.Record) []string {
	var errs []string

	if !checkType(rule.Type, value) {
		errs = append(errs, fmt.Sprintf("%s must be of type %s", rule.Field, rule.Type))
	}

	if s, ok := value.(string); ok {
		length := utf8.RuneCountInString(s)
		if rule.MinLength != nil && length < *rule.MinLength {
			errs = append(errs, fmt.Sprintf("%s must be at least %d characters", rule.Field, *rule.MinLength))
		}
		if rule.MaxLength != nil && length > *rule.MaxLength {
			errs = append(errs, fmt.Sprintf("%s must be at most %d characters", rule.Field, *rule.MaxLength))
		}
	}

	if rule.Pattern != nil {
		s, err := cast.ToStringE(value)
		if err != nil || !rule.Pattern.MatchString(s) {
			errs = append(errs, fmt.Sprintf("%s has invalid format", rule.Field))
		}
	}

	if len(rule.EnumValues) > 0 && !inEnum(rule.EnumValues, value) {
		errs = append(errs, fmt.Sprintf("%s must be one of: %s", rule.Field, strings.Join(rule.EnumValues, ", ")))
	}

	if rule.Custom != nil && !rule.Custom(value, rec) {
		msg := rule.Message
		if msg == "" {
			msg = fmt.Sprintf("%s failed %s check", rule.Field, rule.CustomName)
		}
		errs = append(errs, msg)
	}

	return errs
}

func checkType(t FieldType, value interface{}) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString, TypeEnum:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		return isNumber(value)
	case TypeDate:
		_, ok := record.ParseTime(value)
		return ok
	case TypeEmail:
		s, ok := value.(string)
		return ok && emailPattern.MatchString(s)
	case TypeURL:
		s, ok := value.(string)
		if !ok {
			return false
		}
		u, err := url.ParseRequestURI(s)
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	default:
		return false
	}
}

func isNumber(value interface{}) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func inEnum(allowed []string, value interface{}) bool {
	s, err := cast.ToStringE(value)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == s {
			return true
		}
	}
	return false
}
