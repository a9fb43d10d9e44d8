package formatters

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/duplicates"
	"ingest-quality-service/internal/quality"
	"ingest-quality-service/internal/record"
	"ingest-quality-service/internal/standardize"
	"ingest-quality-service/internal/telemetry"
	"ingest-quality-service/web"
)

// Report is everything the output formats render for one assessed batch.
type Report struct {
	Timestamp       string             `json:"timestamp"`
	Source          string             `json:"source,omitempty"`
	MinScore        int                `json:"min_score"`
	Duration        time.Duration      `json:"-"`
	Metrics         quality.Metrics    `json:"metrics"`
	Standardization standardize.Report `json:"standardization"`
	Duplicates      []duplicates.Match `json:"duplicates"`
	Flagged         []RecordReport     `json:"flagged_records"`
}

// RecordReport describes one record that needs review.
type RecordReport struct {
	Index    int      `json:"index"`
	Title    string   `json:"title,omitempty"`
	Score    int      `json:"score"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Findings []string `json:"findings,omitempty"`
}

// NewReport collects the flagged records of an assessment. records must be
// the batch the assessment was computed on.
func NewReport(source string, records []record.Record, std standardize.Report, a quality.Assessment, minScore int) Report {
	r := Report{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Source:          source,
		MinScore:        minScore,
		Duration:        a.Duration,
		Metrics:         a.Metrics,
		Standardization: std,
		Duplicates:      a.Matches,
		Flagged:         []RecordReport{},
	}
	if r.Duplicates == nil {
		r.Duplicates = []duplicates.Match{}
	}

	for _, i := range a.Flagged(minScore) {
		rr := RecordReport{Index: i, Valid: true}
		if i < len(records) {
			rr.Title, _ = records[i].String("title")
		}
		if i < len(a.Scores) {
			rr.Score = a.Scores[i]
		}
		if i < len(a.Results) {
			rr.Valid = a.Results[i].IsValid
			rr.Errors = a.Results[i].Errors
		}
		if i < len(a.Findings) {
			rr.Findings = a.Findings[i]
		}
		r.Flagged = append(r.Flagged, rr)
	}
	return r
}

// ScoreCategory names the distribution bucket a score falls in.
func ScoreCategory(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Poor"
	}
}

// Text writes a human-readable summary.
func Text(w io.Writer, r Report) error {
	m := r.Metrics
	title := "Data Quality Report"
	if r.Source != "" {
		title += " for " + r.Source
	}

	fmt.Fprintf(w, "%s\n", title)
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", len(title)))
	fmt.Fprintf(w, "Total Records:     %d\n", m.TotalRecords)
	fmt.Fprintf(w, "Valid Records:     %d\n", m.ValidRecords)
	fmt.Fprintf(w, "Invalid Records:   %d\n", m.InvalidRecords)
	fmt.Fprintf(w, "Duplicate Records: %d (%d distinct)\n", m.DuplicateRecords, m.UniqueDuplicateRecords)
	fmt.Fprintf(w, "Average Score:     %.2f/100 (%s)\n", m.AverageQualityScore, ScoreCategory(m.AverageQualityScore))
	if changed := r.Standardization.Changed(); changed > 0 {
		fmt.Fprintf(w, "Standardized:      %d values (countries %d, dates %d, categories %d)\n",
			changed, r.Standardization.Countries, r.Standardization.Dates, r.Standardization.Categories)
	}

	d := m.ScoreDistribution
	fmt.Fprintf(w, "\nScore Distribution:\n")
	fmt.Fprintf(w, "  Excellent (90-100): %d\n", d.Excellent)
	fmt.Fprintf(w, "  Good (70-89):       %d\n", d.Good)
	fmt.Fprintf(w, "  Fair (50-69):       %d\n", d.Fair)
	fmt.Fprintf(w, "  Poor (0-49):        %d\n", d.Poor)

	if len(m.CommonIssues) > 0 {
		fmt.Fprintf(w, "\nCommon Issues:\n")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, issue := range m.CommonIssues {
			fmt.Fprintf(tw, "  [%s]\t%d\t%s\n", strings.ToUpper(string(issue.Severity)), issue.Count, issue.Issue)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Flagged) > 0 {
		fmt.Fprintf(w, "\nFlagged Records (score below %d, invalid or duplicate): %d\n", r.MinScore, len(r.Flagged))
		for _, rec := range r.Flagged {
			fmt.Fprintf(w, "  #%d score=%d %q\n", rec.Index, rec.Score, rec.Title)
			for _, e := range rec.Errors {
				fmt.Fprintf(w, "      error: %s\n", e)
			}
			for _, f := range rec.Findings {
				fmt.Fprintf(w, "      finding: %s\n", f)
			}
		}
	}
	return nil
}

// JSON writes the report as indented JSON.
func JSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "failed to encode report")
	}
	return nil
}

// Prometheus writes the batch metrics in the text exposition format, labelled
// with the report source when one is set.
func Prometheus(w io.Writer, r Report) error {
	var opts []telemetry.Option
	if r.Source != "" {
		opts = append(opts, telemetry.WithConstLabels(map[string]string{"source": r.Source}))
	}
	rec := telemetry.NewRecorder(opts...)
	rec.ObserveAssessment(r.Metrics, r.Duration)
	return rec.WriteText(w)
}

// htmlData is the template context of the HTML report.
type htmlData struct {
	Report
	ScoreInt    int
	Category    string
	StatusClass string
	CSS         template.CSS
	JS          template.JS
}

// HTML renders the report as a standalone page.
func HTML(w io.Writer, r Report) error {
	tmpl, err := template.New("report.html").Funcs(templateFuncs()).ParseFS(web.Templates, web.ReportTemplate)
	if err != nil {
		return eris.Wrap(err, "failed to parse report template")
	}

	data := htmlData{
		Report:      r,
		ScoreInt:    int(r.Metrics.AverageQualityScore),
		Category:    ScoreCategory(r.Metrics.AverageQualityScore),
		StatusClass: statusClass(r.Metrics.AverageQualityScore),
		CSS:         template.CSS(web.ReportCSS),
		JS:          template.JS(web.ReportJS),
	}
	if err := tmpl.Execute(w, data); err != nil {
		return eris.Wrap(err, "failed to render report")
	}
	return nil
}

func statusClass(score float64) string {
	return "status-" + strings.ToLower(ScoreCategory(score))
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"lower": strings.ToLower,
		"join":  strings.Join,
		"scoreClass": func(score int) string {
			return statusClass(float64(score))
		},
		"severityClass": func(s quality.Severity) string {
			return "severity-" + string(s)
		},
		"percent": func(part, total int) float64 {
			if total == 0 {
				return 0
			}
			return float64(part) / float64(total) * 100
		},
	}
}

// SyncText writes one line per sync result followed by its errors.
func SyncText(w io.Writer, results []coordinator.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SOURCE\tSTATUS\tNEW\tEXISTING\tDURATION\tRUN ID\n")
	for _, res := range results {
		status := "ok"
		if !res.Success {
			status = "failed"
		}
		if res.Shared {
			status += " (shared)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			res.SourceID, status, res.NewUpdatesCount, res.ExistingDataCount,
			res.Metrics.Duration.Round(time.Millisecond), res.RunID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, res := range results {
		for _, e := range res.Errors {
			fmt.Fprintf(w, "%s: %s\n", res.SourceID, e)
		}
	}
	return nil
}

// SyncJSON writes the results as an indented JSON array.
func SyncJSON(w io.Writer, results []coordinator.Result) error {
	if results == nil {
		results = []coordinator.Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return eris.Wrap(err, "failed to encode sync results")
	}
	return nil
}
