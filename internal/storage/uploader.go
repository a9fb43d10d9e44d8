package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/quality"
)

// ReportUploadConfig lists the local report files of one assessment run.
// Only files whose format appears in OutputFormats are uploaded.
type ReportUploadConfig struct {
	RunID            string
	JSONFile         string
	HTMLFile         string
	PrometheusFile   string
	StandardizedFile string
	OutputFormats    []string
	Manifest         *ReportManifest
}

// ReportManifest describes an uploaded assessment run.
type ReportManifest struct {
	Timestamp        string  `json:"timestamp"`
	RunID            string  `json:"run_id"`
	TotalRecords     int     `json:"total_records"`
	ValidRecords     int     `json:"valid_records"`
	InvalidRecords   int     `json:"invalid_records"`
	DuplicateRecords int     `json:"duplicate_records"`
	AverageScore     float64 `json:"average_score"`
	FlaggedRecords   int     `json:"flagged_records,omitempty"`
	ConfigFile       string  `json:"config_file,omitempty"`
	OutputFormats    string  `json:"output_formats"`
	SourceType       string  `json:"source_type"`
	SourcePath       string  `json:"source_path,omitempty"`
	Files            struct {
		JSON         string `json:"json,omitempty"`
		HTML         string `json:"html,omitempty"`
		Prometheus   string `json:"prometheus,omitempty"`
		Standardized string `json:"standardized,omitempty"`
		Manifest     string `json:"manifest"`
	} `json:"files"`
}

// NewReportManifest fills the counters from a metrics summary.
func NewReportManifest(m quality.Metrics) *ReportManifest {
	return &ReportManifest{
		TotalRecords:     m.TotalRecords,
		ValidRecords:     m.ValidRecords,
		InvalidRecords:   m.InvalidRecords,
		DuplicateRecords: m.DuplicateRecords,
		AverageScore:     m.AverageQualityScore,
	}
}

// Prefix returns the key prefix every file of the run is stored under.
func (m *ReportManifest) Prefix() string {
	return path.Join("assessments", m.RunID)
}

var now = time.Now

// UploadReports uploads the report files and then a manifest pointing at
// them. The manifest is written last so its presence marks a complete run.
func (c *S3Client) UploadReports(ctx context.Context, cfg ReportUploadConfig) (*ReportManifest, error) {
	manifest := cfg.Manifest
	if manifest == nil {
		manifest = &ReportManifest{}
	}
	manifest.RunID = cfg.RunID
	if manifest.RunID == "" {
		manifest.RunID = fmt.Sprintf("assessment_%s", now().Format("20060102_150405"))
	}
	if manifest.Timestamp == "" {
		manifest.Timestamp = now().Format(time.RFC3339)
	}
	if manifest.OutputFormats == "" {
		manifest.OutputFormats = strings.Join(cfg.OutputFormats, ",")
	}
	prefix := manifest.Prefix()

	uploads := []struct {
		format string
		local  string
		name   string
		dst    *string
	}{
		{"json", cfg.JSONFile, "report.json", &manifest.Files.JSON},
		{"html", cfg.HTMLFile, "dashboard.html", &manifest.Files.HTML},
		{"prometheus", cfg.PrometheusFile, "metrics.prom", &manifest.Files.Prometheus},
		{"", cfg.StandardizedFile, "standardized" + path.Ext(cfg.StandardizedFile), &manifest.Files.Standardized},
	}
	for _, u := range uploads {
		if u.local == "" || (u.format != "" && !contains(cfg.OutputFormats, u.format)) {
			continue
		}
		key := path.Join(prefix, u.name)
		if err := c.UploadFile(ctx, u.local, key); err != nil {
			return nil, eris.Wrapf(err, "failed to upload %s", u.name)
		}
		*u.dst = key
	}

	manifestKey := path.Join(prefix, "manifest.json")
	manifest.Files.Manifest = manifestKey
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal manifest")
	}
	if err := c.UploadContent(ctx, data, manifestKey); err != nil {
		return nil, eris.Wrap(err, "failed to upload manifest")
	}
	return manifest, nil
}

// UploadSyncResults stores the results of one sync run, and the errors file
// when it exists, under sync_runs/<timestamp>/. It returns the run prefix.
func (c *S3Client) UploadSyncResults(ctx context.Context, results []coordinator.Result, errorFile, timestamp string) (string, error) {
	prefix := path.Join("sync_runs", timestamp)

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "failed to marshal sync results")
	}
	if err := c.UploadContent(ctx, data, path.Join(prefix, "results.json")); err != nil {
		return "", err
	}

	if errorFile != "" {
		if _, err := os.Stat(errorFile); err == nil {
			if err := c.UploadFile(ctx, errorFile, path.Join(prefix, "errors.txt")); err != nil {
				return "", err
			}
		}
	}
	return prefix, nil
}

// DownloadRecords mirrors every object under s3Prefix into a new temporary
// directory. The caller removes it.
func (c *S3Client) DownloadRecords(ctx context.Context, s3Prefix string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "ingest-quality-s3-*")
	if err != nil {
		return "", eris.Wrap(err, "failed to create temp directory")
	}

	if _, err := c.DownloadDirectory(ctx, s3Prefix, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", err
	}
	return tmpDir, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
