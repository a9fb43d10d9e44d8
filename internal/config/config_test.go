package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest-quality-service/internal/duplicates"
	"ingest-quality-service/internal/record"
	"ingest-quality-service/internal/scoring"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, duplicates.DefaultThreshold, cfg.Duplicates.Threshold)
	assert.Equal(t, duplicates.DefaultWeights, cfg.Duplicates.Weights)
	assert.Equal(t, scoring.DefaultPenalties(), cfg.Scoring.Penalties)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Timeout)
	assert.Equal(t, 256, cfg.Sync.MetricsCapacity)
	assert.Equal(t, "eu-west-1", cfg.Report.S3.Region)
	assert.Empty(t, cfg.Sources)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
duplicates:
  threshold: 0.9
  weights:
    title: 60
scoring:
  penalties:
    placeholder_title: 30
sync:
  timeout: 90s
  concurrency: 2
  redis:
    addr: localhost:6379
    lock_ttl: 30s
  kafka:
    brokers: [broker-1:9092]
    topic: sync-results
sources:
  - id: fda_510k
    type: http
    url: https://api.fda.gov/device/510k.json
    records_path: results
    schedule: "0 */30 * * * *"
    rate_limit: 4
  - id: ema_epar
    type: file
    path: /data/ema.ndjson
report:
  s3:
    bucket: quality-reports
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Duplicates.Threshold)
	assert.Equal(t, 60.0, cfg.Duplicates.Weights.Title)
	assert.Equal(t, 30.0, cfg.Duplicates.Weights.Description, "unset weights keep their defaults")
	assert.Equal(t, 30, cfg.Scoring.Penalties.PlaceholderTitle)
	assert.Equal(t, 15, cfg.Scoring.Penalties.MissingRequired)
	assert.Equal(t, 90*time.Second, cfg.Sync.Timeout)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, 256, cfg.Sync.MetricsCapacity)
	assert.Equal(t, "localhost:6379", cfg.Sync.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Sync.Redis.LockTTL)
	assert.Equal(t, []string{"broker-1:9092"}, cfg.Sync.Kafka.Brokers)
	assert.Equal(t, "quality-reports", cfg.Report.S3.Bucket)
	assert.Equal(t, "eu-west-1", cfg.Report.S3.Region)

	require.Len(t, cfg.Sources, 2)
	src, ok := cfg.Source("fda_510k")
	require.True(t, ok)
	assert.Equal(t, "results", src.RecordsPath)
	assert.Equal(t, 4.0, src.RateLimit)
	_, ok = cfg.Source("missing")
	assert.False(t, ok)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("S3_BUCKET", "env-bucket")
	t.Setenv("S3_PREFIX", "nightly")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("SYNC_TIMEOUT", "2m")

	path := writeConfig(t, `
report:
  s3:
    bucket: file-bucket
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-bucket", cfg.Report.S3.Bucket)
	assert.Equal(t, "nightly", cfg.Report.S3.Prefix)
	assert.Equal(t, "us-west-2", cfg.Report.S3.Region)
	assert.Equal(t, "redis:6379", cfg.Sync.Redis.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Sync.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Timeout)
}

func TestLoad_InvalidSyncTimeoutEnv(t *testing.T) {
	t.Setenv("SYNC_TIMEOUT", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_TIMEOUT")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "unknown field",
			content: "duplicate:\n  threshold: 0.9\n",
			errPart: "field duplicate not found",
		},
		{
			name:    "threshold out of range",
			content: "duplicates:\n  threshold: 1.5\n",
			errPart: "duplicates.threshold",
		},
		{
			name:    "bad regex",
			content: "rules:\n  - field: title\n    pattern: \"[\"\n",
			errPart: "invalid regex pattern",
		},
		{
			name:    "unknown predicate",
			content: "rules:\n  - field: title\n    custom: is_shiny\n",
			errPart: "unknown custom predicate",
		},
		{
			name:    "bad schedule",
			content: "sources:\n  - id: fda\n    url: http://x\n    schedule: \"every tuesday\"\n",
			errPart: "sources[0] fda",
		},
		{
			name:    "duplicate source",
			content: "sources:\n  - id: fda\n    url: http://x\n  - id: fda\n    url: http://y\n",
			errPart: "duplicate id fda",
		},
		{
			name:    "file source without path",
			content: "sources:\n  - id: ema\n    type: file\n",
			errPart: "path is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, duplicates.DefaultThreshold, cfg.Duplicates.Threshold)
}

func TestPipeline_DefaultRules(t *testing.T) {
	p, err := Default().Pipeline()
	require.NoError(t, err)

	assert.Equal(t, []string{"title", "description"}, p.Validator.RequiredFields())

	records, report := p.Standardizer.Standardize([]record.Record{
		record.FromMap(map[string]interface{}{"title": "Test Title", "description": "Test Title", "country": "usa"}),
	})
	assert.Equal(t, 1, report.Countries)

	a, err := p.Assessor.Assess(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{55}, a.Scores)
}

func TestPipeline_CountryPredicateUsesConfiguredTable(t *testing.T) {
	path := writeConfig(t, `
standardization:
  countries:
    ruritania: Ruritania
rules:
  - field: country
    custom: iso_country
    message: country is not canonical
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	p, err := cfg.Pipeline()
	require.NoError(t, err)

	records, _ := p.Standardizer.Standardize([]record.Record{
		record.FromMap(map[string]interface{}{"country": "RURITANIA"}),
		record.FromMap(map[string]interface{}{"country": "United States"}),
	})
	results := p.Validator.ValidateAll(records)

	assert.True(t, results[0].IsValid)
	assert.False(t, results[1].IsValid)
	assert.Equal(t, []string{"country is not canonical"}, results[1].Errors)
}

func TestPipeline_CustomPenalties(t *testing.T) {
	cfg := Default()
	cfg.Scoring.Penalties.PlaceholderTitle = 0

	p, err := cfg.Pipeline()
	require.NoError(t, err)

	a, err := p.Assessor.Assess(context.Background(), []record.Record{
		record.FromMap(map[string]interface{}{"title": "Test Title", "description": "Test Title"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{75}, a.Scores)
}
