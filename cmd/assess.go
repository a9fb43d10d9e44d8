package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ingest-quality-service/internal/config"
	"ingest-quality-service/internal/formatters"
	"ingest-quality-service/internal/loaders"
	"ingest-quality-service/internal/quality"
	"ingest-quality-service/internal/storage"
)

var (
	assessInput           string
	assessRecordsPath     string
	assessOutputFormats   string // Comma-separated: text,json,html,prometheus
	assessJSONFile        string
	assessHTMLFile        string
	assessPrometheusFile  string
	assessStandardizedOut string
	assessMinScore        int
	assessFail            bool

	// S3 flags
	assessS3Source bool
	assessS3Upload bool
	assessS3Bucket string
	assessS3Prefix string
	assessS3Region string
	assessS3RunID  string
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Assess a batch of records and produce quality reports",
	Long: `Standardize, validate, de-duplicate and score a batch of records.

The input is a JSON, NDJSON or CSV file, or a directory of them. With
--s3-source the input is an S3 key prefix instead.

Examples:
  # Text summary on the console
  ingest-quality assess --input recalls.json --records-path results

  # Reports as files, keeping the standardized batch
  ingest-quality assess \
    --input ./batches/ \
    --output json,html \
    --json-file report.json \
    --html-file report.html \
    --standardized-out standardized.ndjson

  # Fail the run when the average score drops below 70
  ingest-quality assess --input recalls.ndjson --min-score 70 --fail

  # Assess a batch stored in S3 and archive the reports
  ingest-quality assess --s3-source --input incoming/2026-03-01 \
    --output json --json-file report.json --s3-upload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAssess(cmd)
	},
}

func init() {
	assessCmd.Flags().StringVarP(&assessInput, "input", "i", "", "Input file or directory (or S3 prefix with --s3-source)")
	assessCmd.Flags().StringVar(&assessRecordsPath, "records-path", "", "Dot-separated path to the record array inside JSON input (e.g. results)")
	assessCmd.Flags().StringVarP(&assessOutputFormats, "output", "o", "text", "Output formats (comma-separated): text,json,html,prometheus")
	assessCmd.Flags().StringVar(&assessJSONFile, "json-file", "", "JSON output file path")
	assessCmd.Flags().StringVar(&assessHTMLFile, "html-file", "", "HTML output file path")
	assessCmd.Flags().StringVar(&assessPrometheusFile, "prometheus-file", "", "Prometheus metrics output file path")
	assessCmd.Flags().StringVar(&assessStandardizedOut, "standardized-out", "", "Write the standardized records to this .json or .ndjson file")
	assessCmd.Flags().IntVar(&assessMinScore, "min-score", 0, "Flag records scoring below this value")
	assessCmd.Flags().BoolVar(&assessFail, "fail", false, "Exit non-zero when the average score is below --min-score")

	assessCmd.Flags().BoolVar(&assessS3Source, "s3-source", false, "Download the input from S3")
	assessCmd.Flags().BoolVar(&assessS3Upload, "s3-upload", false, "Upload reports and a manifest to S3")
	assessCmd.Flags().StringVar(&assessS3Bucket, "s3-bucket", "", "S3 bucket name (or use S3_BUCKET env var)")
	assessCmd.Flags().StringVar(&assessS3Prefix, "s3-prefix", "", "S3 key prefix (or use S3_PREFIX env var)")
	assessCmd.Flags().StringVar(&assessS3Region, "s3-region", "", "AWS region (or use AWS_REGION env var)")
	assessCmd.Flags().StringVar(&assessS3RunID, "s3-run-id", "", "Run ID for S3 organization (default: auto-generated timestamp)")
}

func validateOutputFormats(formats []string, htmlFile string) error {
	if len(formats) == 0 {
		return eris.New("at least one output format must be specified")
	}
	for _, format := range formats {
		switch format {
		case "text", "json", "prometheus":
		case "html":
			if htmlFile == "" {
				return eris.New("--html-file is required when using --output html")
			}
		default:
			return eris.Errorf("unknown output format: %s. Valid formats: text, json, html, prometheus", format)
		}
	}
	return nil
}

func runAssess(cmd *cobra.Command) error {
	ctx := cmd.Context()

	if assessInput == "" {
		return eris.New("--input is required")
	}
	formats := parseOutputFormats(assessOutputFormats)
	if err := validateOutputFormats(formats, assessHTMLFile); err != nil {
		return err
	}
	if assessS3Upload && contains(formats, "json") && assessJSONFile == "" {
		return eris.New("--json-file is required when using --s3-upload with --output json")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var s3Client *storage.S3Client
	if assessS3Source || assessS3Upload {
		s3Client, err = newS3Client(cfg, assessS3Bucket, assessS3Prefix, assessS3Region)
		if err != nil {
			return err
		}
	}

	inputPath := assessInput
	sourceType := "local_file"
	if assessS3Source {
		fmt.Printf("Downloading records from %s...\n", s3Client.GetS3URI(assessInput))
		dir, err := s3Client.DownloadRecords(ctx, assessInput)
		if err != nil {
			return eris.Wrap(err, "failed to download from S3")
		}
		defer os.RemoveAll(dir)
		inputPath = dir
		sourceType = "s3"
	} else if info, err := os.Stat(assessInput); err == nil && info.IsDir() {
		sourceType = "local_directory"
	}

	records, err := loaders.LoadPath(inputPath, loaders.Options{RecordsPath: assessRecordsPath})
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d records from %s\n", len(records), assessInput)

	pipeline, err := cfg.Pipeline(quality.WithLogger(logger))
	if err != nil {
		return err
	}

	standardized, stdReport := pipeline.Standardizer.Standardize(records)
	if assessStandardizedOut != "" {
		if err := loaders.SaveFile(assessStandardizedOut, standardized); err != nil {
			return err
		}
		fmt.Printf("Standardized records saved to %s\n", assessStandardizedOut)
	}

	assessment, err := pipeline.Assessor.Assess(ctx, standardized)
	if err != nil {
		return err
	}
	logger.Info("batch assessed",
		zap.String("source", assessInput),
		zap.Int("records", assessment.Metrics.TotalRecords),
		zap.Float64("average_score", assessment.Metrics.AverageQualityScore),
		zap.Int64("duration_ms", assessment.Duration.Milliseconds()),
	)

	report := formatters.NewReport(filepath.Base(assessInput), standardized, stdReport, assessment, assessMinScore)
	fmt.Println()

	for _, format := range formats {
		var err error
		switch format {
		case "text":
			err = formatters.Text(os.Stdout, report)
		case "json":
			err = writeOutput(assessJSONFile, "JSON report", func(w io.Writer) error { return formatters.JSON(w, report) })
		case "html":
			err = writeOutput(assessHTMLFile, "HTML report", func(w io.Writer) error { return formatters.HTML(w, report) })
		case "prometheus":
			err = writeOutput(assessPrometheusFile, "Prometheus metrics", func(w io.Writer) error { return formatters.Prometheus(w, report) })
		}
		if err != nil {
			return err
		}
	}

	if assessS3Upload {
		fmt.Println("\nUploading assessment results to S3...")

		manifest := storage.NewReportManifest(assessment.Metrics)
		manifest.FlaggedRecords = len(report.Flagged)
		manifest.ConfigFile = configPath
		manifest.SourceType = sourceType
		manifest.SourcePath = assessInput
		if assessS3Source {
			manifest.SourcePath = s3Client.GetS3URI(assessInput)
		}

		uploaded, err := s3Client.UploadReports(ctx, storage.ReportUploadConfig{
			RunID:            assessS3RunID,
			JSONFile:         assessJSONFile,
			HTMLFile:         assessHTMLFile,
			PrometheusFile:   assessPrometheusFile,
			StandardizedFile: assessStandardizedOut,
			OutputFormats:    formats,
			Manifest:         manifest,
		})
		if err != nil {
			return eris.Wrap(err, "failed to upload to S3")
		}

		fmt.Printf("\nAssessment Package: %s/\n", s3Client.GetS3URI(uploaded.Prefix()))
		fmt.Printf("   Run ID: %s\n", uploaded.RunID)
		fmt.Printf("   Timestamp: %s\n", uploaded.Timestamp)
		fmt.Printf("   Total Records: %d\n", uploaded.TotalRecords)
		fmt.Printf("   Average Score: %.2f\n", uploaded.AverageScore)
	}

	if assessFail && assessment.Metrics.AverageQualityScore < float64(assessMinScore) {
		return eris.Errorf("average quality score %.2f is below the minimum of %d", assessment.Metrics.AverageQualityScore, assessMinScore)
	}
	return nil
}

// writeOutput writes to path, or to stdout when path is empty.
func writeOutput(path, what string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", path)
	}
	defer file.Close()

	if err := write(file); err != nil {
		return err
	}
	fmt.Printf("%s saved to %s\n", what, path)
	return nil
}

// newS3Client resolves bucket, prefix and region from flags first, then the
// configuration (which already carries the environment overrides).
func newS3Client(cfg *config.Config, bucket, prefix, region string) (*storage.S3Client, error) {
	if bucket == "" {
		bucket = cfg.Report.S3.Bucket
	}
	if prefix == "" {
		prefix = cfg.Report.S3.Prefix
	}
	if region == "" {
		region = cfg.Report.S3.Region
	}
	client, err := storage.NewS3Client(bucket, strings.Trim(prefix, "/"), region, storage.WithLogger(logger))
	if err != nil {
		return nil, eris.Wrap(err, "failed to create S3 client")
	}
	return client, nil
}
