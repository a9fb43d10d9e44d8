package cmd

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"ingest-quality-service/internal/loaders"
)

var (
	standardizeInput       string
	standardizeRecordsPath string
	standardizeOutputFile  string
)

var standardizeCmd = &cobra.Command{
	Use:   "standardize",
	Short: "Normalize a batch of records and write the result",
	Long: `Rewrite country names, dates and categories into their canonical forms.

Values that match no alias are left unchanged. Running the command on its own
output changes nothing.

Examples:
  # Print the standardized batch as JSON
  ingest-quality standardize --input raw.csv

  # Write NDJSON
  ingest-quality standardize --input raw.json --records-path results --output-file clean.ndjson`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStandardize()
	},
}

func init() {
	standardizeCmd.Flags().StringVarP(&standardizeInput, "input", "i", "", "Input file or directory")
	standardizeCmd.Flags().StringVar(&standardizeRecordsPath, "records-path", "", "Dot-separated path to the record array inside JSON input")
	standardizeCmd.Flags().StringVar(&standardizeOutputFile, "output-file", "", "Write to this .json or .ndjson file instead of stdout")
}

func runStandardize() error {
	if standardizeInput == "" {
		return eris.New("--input is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	records, err := loaders.LoadPath(standardizeInput, loaders.Options{RecordsPath: standardizeRecordsPath})
	if err != nil {
		return err
	}

	standardized, report := cfg.Standardizer().Standardize(records)

	if standardizeOutputFile == "" {
		return loaders.WriteJSON(os.Stdout, standardized)
	}
	if err := loaders.SaveFile(standardizeOutputFile, standardized); err != nil {
		return err
	}

	fmt.Printf("Standardized %d records: %d countries, %d dates, %d categories rewritten\n",
		report.Records, report.Countries, report.Dates, report.Categories)
	fmt.Printf("Output saved to %s\n", standardizeOutputFile)
	return nil
}
