// Package config loads the service configuration from YAML and the
// environment, and builds the quality pipeline it describes.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"ingest-quality-service/internal/collectors"
	"ingest-quality-service/internal/duplicates"
	"ingest-quality-service/internal/locking"
	"ingest-quality-service/internal/publish"
	"ingest-quality-service/internal/quality"
	"ingest-quality-service/internal/scheduler"
	"ingest-quality-service/internal/scoring"
	"ingest-quality-service/internal/standardize"
	"ingest-quality-service/internal/validation"
)

// EnvConfigPath names the variable holding the default config file path.
const EnvConfigPath = "INGEST_CONFIG"

const defaultRegion = "eu-west-1"

// Standardization holds the alias tables. A table given here replaces the
// built-in one rather than extending it.
type Standardization struct {
	Countries  map[string]string `yaml:"countries"`
	Categories map[string]string `yaml:"categories"`
	DateFields []string          `yaml:"date_fields"`
}

// Duplicates tunes the detector.
type Duplicates struct {
	Threshold   float64            `yaml:"threshold"`
	Weights     duplicates.Weights `yaml:"weights"`
	BlockPrefix int                `yaml:"block_prefix"`
	Workers     int                `yaml:"workers"`
}

// Scoring holds the deduction table.
type Scoring struct {
	Penalties scoring.Penalties `yaml:"penalties"`
}

// Sync configures the coordinator and its optional Redis and Kafka backends.
// An empty Redis address disables distributed locking and an empty broker
// list disables result publishing.
type Sync struct {
	Timeout         time.Duration       `yaml:"timeout"`
	MetricsCapacity int                 `yaml:"metrics_capacity"`
	Concurrency     int                 `yaml:"concurrency"`
	Redis           locking.RedisConfig `yaml:"redis"`
	Kafka           publish.KafkaConfig `yaml:"kafka"`
}

// S3 selects where reports are archived.
type S3 struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// Report configures report archiving.
type Report struct {
	S3 S3 `yaml:"s3"`
}

// Config is the root of the YAML document.
type Config struct {
	Rules           []validation.RuleDefinition `yaml:"rules"`
	Standardization Standardization             `yaml:"standardization"`
	Duplicates      Duplicates                  `yaml:"duplicates"`
	Scoring         Scoring                     `yaml:"scoring"`
	Sync            Sync                        `yaml:"sync"`
	Sources         []collectors.Source         `yaml:"sources"`
	Report          Report                      `yaml:"report"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Duplicates: Duplicates{
			Threshold: duplicates.DefaultThreshold,
			Weights:   duplicates.DefaultWeights,
			Workers:   1,
		},
		Scoring: Scoring{Penalties: scoring.DefaultPenalties()},
		Sync: Sync{
			Timeout:         5 * time.Minute,
			MetricsCapacity: 256,
			Concurrency:     4,
		},
		Report: Report{S3: S3{Region: defaultRegion}},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields the defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read config file %s", path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, eris.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Report.S3.Bucket = v
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		c.Report.S3.Prefix = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Report.S3.Region = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Sync.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Sync.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SYNC_TIMEOUT"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return eris.Wrapf(err, "invalid SYNC_TIMEOUT %q", v)
		}
		c.Sync.Timeout = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports the first contract violation: bad rules, bad sources,
// bad schedules or out-of-range tuning values.
func (c *Config) Validate() error {
	if c.Duplicates.Threshold < 0 || c.Duplicates.Threshold > 1 {
		return eris.Errorf("duplicates.threshold must be within [0,1], got %v", c.Duplicates.Threshold)
	}
	if c.Sync.Timeout < 0 {
		return eris.Errorf("sync.timeout must not be negative, got %s", c.Sync.Timeout)
	}
	if c.Sync.Concurrency < 0 || c.Sync.MetricsCapacity < 0 {
		return eris.New("sync.concurrency and sync.metrics_capacity must not be negative")
	}

	if _, err := validation.Compile(c.ruleDefinitions(), c.predicates(c.Standardizer())); err != nil {
		return eris.Wrap(err, "invalid rules")
	}

	ids := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if ids[src.ID] {
			return eris.Errorf("sources[%d]: duplicate id %s", i, src.ID)
		}
		ids[src.ID] = true
		if _, err := collectors.NewFetcher(src); err != nil {
			return eris.Wrapf(err, "sources[%d]", i)
		}
		if src.Schedule != "" {
			if err := scheduler.Validate(src.Schedule); err != nil {
				return eris.Wrapf(err, "sources[%d] %s", i, src.ID)
			}
		}
	}
	return nil
}

// Source returns the source with the given id.
func (c *Config) Source(id string) (collectors.Source, bool) {
	for _, src := range c.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return collectors.Source{}, false
}

func (c *Config) ruleDefinitions() []validation.RuleDefinition {
	if len(c.Rules) == 0 {
		return validation.DefaultDefinitions()
	}
	return c.Rules
}

func (c *Config) predicates(std *standardize.Standardizer) map[string]validation.Predicate {
	preds := validation.BuiltinPredicates()
	preds["iso_country"] = validation.CountryPredicate(std.IsCanonicalCountry)
	return preds
}

// Standardizer builds the standardizer.
func (c *Config) Standardizer() *standardize.Standardizer {
	return standardize.New(standardize.Config{
		Countries:  c.Standardization.Countries,
		Categories: c.Standardization.Categories,
		DateFields: c.Standardization.DateFields,
	})
}

// Pipeline is the standardizer and assessor a configuration describes.
type Pipeline struct {
	Standardizer *standardize.Standardizer
	Validator    *validation.Validator
	Assessor     *quality.Assessor
}

// Pipeline compiles the rules and wires the validator, detector and scorer
// into an assessor. Date fields are shared by every stage.
func (c *Config) Pipeline(opts ...quality.Option) (*Pipeline, error) {
	std := c.Standardizer()

	rules, err := validation.Compile(c.ruleDefinitions(), c.predicates(std))
	if err != nil {
		return nil, eris.Wrap(err, "invalid rules")
	}
	validator := validation.NewValidator(rules)

	detector := duplicates.New(duplicates.Config{
		Threshold:   c.Duplicates.Threshold,
		Weights:     c.Duplicates.Weights,
		DateFields:  c.Standardization.DateFields,
		BlockPrefix: c.Duplicates.BlockPrefix,
		Workers:     c.Duplicates.Workers,
	})

	penalties := c.Scoring.Penalties
	scorer := scoring.New(scoring.Config{
		RequiredFields: validator.RequiredFields(),
		DateFields:     c.Standardization.DateFields,
		Penalties:      &penalties,
	})

	return &Pipeline{
		Standardizer: std,
		Validator:    validator,
		Assessor:     quality.NewAssessor(validator, detector, scorer, opts...),
	}, nil
}
