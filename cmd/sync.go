package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"ingest-quality-service/internal/collectors"
	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/formatters"
)

var (
	syncOutput      string
	syncOutputDir   string
	syncRejectedDir string
	syncS3Upload    bool
	syncS3Bucket    string
	syncS3Prefix    string
	syncS3Region    string
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id...]",
	Short: "Fetch every configured source once",
	Long: `Fetch, standardize and assess every configured source once, in parallel,
and report how many items were new since the previous sync.

Without arguments every source in the configuration is synced. Concurrent
requests for the same source share one run. When sync.redis is configured the
run is also exclusive across instances and seen items are remembered there.

Examples:
  ingest-quality sync --config ingest.yaml

  # Only two sources, results as JSON
  ingest-quality sync --config ingest.yaml fda_510k ema_epar --output json

  # Keep invalid records and an error report, then archive to S3
  ingest-quality sync --config ingest.yaml \
    --rejected-dir ./rejected \
    --output-dir ./reports \
    --s3-upload`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args)
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncOutput, "output", "o", "text", "Output format: text or json")
	syncCmd.Flags().StringVar(&syncOutputDir, "output-dir", ".", "Directory for the sync error report")
	syncCmd.Flags().StringVar(&syncRejectedDir, "rejected-dir", "", "Append invalid new records to <dir>/<source>.rejected.ndjson")
	syncCmd.Flags().BoolVar(&syncS3Upload, "s3-upload", false, "Upload sync results and the error report to S3")
	syncCmd.Flags().StringVar(&syncS3Bucket, "s3-bucket", "", "S3 bucket name (or use S3_BUCKET env var)")
	syncCmd.Flags().StringVar(&syncS3Prefix, "s3-prefix", "", "S3 key prefix (or use S3_PREFIX env var)")
	syncCmd.Flags().StringVar(&syncS3Region, "s3-region", "", "AWS region (or use AWS_REGION env var)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if syncOutput != "text" && syncOutput != "json" {
		return eris.Errorf("unknown output format: %s. Valid formats: text, json", syncOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return eris.New("no sources configured")
	}

	ids := args
	for _, id := range ids {
		if _, ok := cfg.Source(id); !ok {
			return eris.Errorf("unknown source %s", id)
		}
	}

	if syncRejectedDir != "" {
		if err := os.MkdirAll(syncRejectedDir, 0700); err != nil {
			return eris.Wrap(err, "failed to create rejected directory")
		}
	}

	stack, err := buildSyncStack(ctx, cfg, stackOptions{rejectedDir: syncRejectedDir})
	if err != nil {
		return err
	}
	defer stack.Close()

	if len(ids) == 0 {
		ids = stack.coordinator.Sources()
	}
	if syncOutput == "text" {
		fmt.Printf("Syncing %d source(s) with concurrency %d...\n\n", len(ids), cfg.Sync.Concurrency)
	}

	results := stack.coordinator.SyncAll(ctx, ids...)

	if syncOutput == "json" {
		err = formatters.SyncJSON(os.Stdout, results)
	} else {
		err = formatters.SyncText(os.Stdout, results)
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102_150405")
	errorFile := ""
	failed := failedResults(results)
	if len(failed) > 0 {
		if err := os.MkdirAll(syncOutputDir, 0700); err != nil {
			return eris.Wrap(err, "failed to create output directory")
		}
		errorFile = filepath.Join(syncOutputDir, fmt.Sprintf("sync_errors_%s.txt", timestamp))
		if err := collectors.WriteErrorsToFile(errorFile, failed); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: Failed to write error file: %v\n", err)
			errorFile = ""
		} else {
			fmt.Fprintf(os.Stderr, "Error report saved to %s\n", errorFile)
		}
	}

	if syncS3Upload {
		s3Client, err := newS3Client(cfg, syncS3Bucket, syncS3Prefix, syncS3Region)
		if err != nil {
			return err
		}
		prefix, err := s3Client.UploadSyncResults(ctx, results, errorFile, timestamp)
		if err != nil {
			return eris.Wrap(err, "failed to upload to S3")
		}
		fmt.Fprintf(os.Stderr, "Uploaded sync results to %s/\n", s3Client.GetS3URI(prefix))
	}

	if len(failed) > 0 {
		return eris.Errorf("%d of %d syncs failed", len(failed), len(results))
	}
	return nil
}

func failedResults(results []coordinator.Result) []coordinator.Result {
	var failed []coordinator.Result
	for _, res := range results {
		if !res.Success {
			failed = append(failed, res)
		}
	}
	return failed
}
