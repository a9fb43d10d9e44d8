package validation

// RulesConfig represents the rules section of the YAML configuration
type RulesConfig struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// RuleDefinition represents a declarative field rule loaded from YAML
type RuleDefinition struct {
	Field      string   `yaml:"field"`
	Required   bool     `yaml:"required,omitempty"`
	Type       string   `yaml:"type,omitempty"`        // "string", "number", "date", "email", "url", "enum"
	MinLength  *int     `yaml:"min_length,omitempty"`  // Strings only
	MaxLength  *int     `yaml:"max_length,omitempty"`  // Strings only
	Pattern    string   `yaml:"pattern,omitempty"`     // Go regexp syntax
	EnumValues []string `yaml:"enum_values,omitempty"` // Allowed values
	Custom     string   `yaml:"custom,omitempty"`      // Name of a registered predicate
	Message    string   `yaml:"message,omitempty"`     // Error text when the custom predicate fails
}

func intPtr(v int) *int {
	return &v
}

// DefaultDefinitions returns the rule set used when no rules are configured
func DefaultDefinitions() []RuleDefinition {
	return []RuleDefinition{
		{Field: "title", Required: true, Type: "string", MinLength: intPtr(5), MaxLength: intPtr(500)},
		{Field: "description", Required: true, Type: "string", MaxLength: intPtr(20000), Custom: "no_html", Message: "description contains HTML markup"},
		{Field: "source", Type: "string", MinLength: intPtr(2), MaxLength: intPtr(100)},
		{Field: "url", Type: "url"},
		{Field: "date", Type: "date", Custom: "not_future_date", Message: "date is in the future"},
		{Field: "publication_date", Type: "date", Custom: "not_future_date", Message: "publication_date is in the future"},
		{
			Field:      "category",
			Type:       "enum",
			EnumValues: []string{"Recall", "Safety Alert", "Enforcement", "Approval", "Guidance", "Legal", "Knowledge"},
		},
		{Field: "country", Type: "string", MaxLength: intPtr(100)},
	}
}
