package collectors

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"ingest-quality-service/internal/coordinator"
)

// sanitizeSourceID replaces filesystem-unsafe characters in source ids
func sanitizeSourceID(sourceID string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(sourceID)
}

type rejectedLine struct {
	Index  int             `json:"index"`
	Key    string          `json:"key"`
	Score  int             `json:"score"`
	Errors []string        `json:"errors"`
	Record json.RawMessage `json:"record"`
}

// RejectedWriter returns a hook that appends every invalid new record of a
// batch to <dir>/<source>.rejected.ndjson for manual review.
func RejectedWriter(dir string) BatchHook {
	return func(_ context.Context, batch Batch) error {
		var lines []rejectedLine
		for _, res := range batch.Assessment.Results {
			if res.IsValid || !batch.IsNew[res.Index] {
				continue
			}
			data, err := json.Marshal(batch.Records[res.Index])
			if err != nil {
				return eris.Wrap(err, "failed to encode rejected record")
			}
			lines = append(lines, rejectedLine{
				Index:  res.Index,
				Key:    batch.Keys[res.Index],
				Score:  batch.Assessment.Scores[res.Index],
				Errors: res.Errors,
				Record: data,
			})
		}
		if len(lines) == 0 {
			return nil
		}

		path := filepath.Join(dir, fmt.Sprintf("%s.rejected.ndjson", sanitizeSourceID(batch.SourceID)))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return eris.Wrapf(err, "failed to open rejected file for %s", batch.SourceID)
		}
		defer file.Close()

		writer := bufio.NewWriter(file)
		enc := json.NewEncoder(writer)
		for _, line := range lines {
			if err := enc.Encode(line); err != nil {
				return eris.Wrap(err, "failed to write rejected record")
			}
		}
		return writer.Flush()
	}
}

// WriteErrorsToFile writes the errors of failed sync results to a file
func WriteErrorsToFile(filename string, results []coordinator.Result) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return eris.Wrap(err, "failed to create error file")
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	writer.WriteString("TIMESTAMP|SOURCE_ID|RUN_ID|ERROR\n")
	for _, r := range results {
		for _, e := range r.Errors {
			line := fmt.Sprintf("%s|%s|%s|%s\n",
				r.Metrics.EndTime.Format("2006-01-02 15:04:05"),
				r.SourceID,
				r.RunID,
				strings.ReplaceAll(e, "\n", " "))
			writer.WriteString(line)
		}
	}

	return nil
}
