// Package quality runs validation, duplicate detection and scoring over a
// batch and aggregates the outcome.
package quality

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ingest-quality-service/internal/duplicates"
	"ingest-quality-service/internal/record"
	"ingest-quality-service/internal/scoring"
	"ingest-quality-service/internal/validation"
)

// Assessment is the full outcome for one batch. Results, Scores and Findings
// are indexed like the input.
type Assessment struct {
	Metrics  Metrics             `json:"metrics"`
	Results  []validation.Result `json:"results"`
	Matches  []duplicates.Match  `json:"matches"`
	Scores   []int               `json:"scores"`
	Findings [][]string          `json:"findings"`
	Duration time.Duration       `json:"duration"`
}

// Flagged returns, in ascending order, the indices a reviewer should look at:
// invalid records, records scoring below minScore and records involved in a
// duplicate match.
func (a Assessment) Flagged(minScore int) []int {
	seen := make(map[int]bool)
	for _, r := range a.Results {
		if !r.IsValid {
			seen[r.Index] = true
		}
	}
	for i, s := range a.Scores {
		if s < minScore {
			seen[i] = true
		}
	}
	for _, m := range a.Matches {
		seen[m.Indices[0]] = true
		seen[m.Indices[1]] = true
	}

	flagged := make([]int, 0, len(seen))
	for i := range seen {
		flagged = append(flagged, i)
	}
	sort.Ints(flagged)
	return flagged
}

// Recorder receives a copy of every computed Metrics.
type Recorder interface {
	ObserveAssessment(m Metrics, d time.Duration)
}

// Assessor wires the three passes together.
type Assessor struct {
	validator *validation.Validator
	detector  *duplicates.Detector
	scorer    *scoring.Scorer
	recorder  Recorder
	logger    *zap.Logger
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithRecorder reports metrics for every assessed batch.
func WithRecorder(r Recorder) Option {
	return func(a *Assessor) { a.recorder = r }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assessor) { a.logger = l }
}

// NewAssessor creates an assessor. A nil detector or scorer is replaced by
// one built with defaults; the scorer then takes its required fields from
// the validator.
func NewAssessor(v *validation.Validator, d *duplicates.Detector, s *scoring.Scorer, opts ...Option) *Assessor {
	if v == nil {
		v = validation.NewValidator(validation.DefaultRules())
	}
	if d == nil {
		d = duplicates.New(duplicates.Config{})
	}
	if s == nil {
		s = scoring.New(scoring.Config{RequiredFields: v.RequiredFields()})
	}
	a := &Assessor{validator: v, detector: d, scorer: s, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assess evaluates a batch. The passes share no mutable state and run
// concurrently. The only error returned is ctx's.
func (a *Assessor) Assess(ctx context.Context, records []record.Record) (Assessment, error) {
	start := time.Now()
	out := Assessment{
		Results:  make([]validation.Result, len(records)),
		Scores:   make([]int, len(records)),
		Findings: make([][]string, len(records)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.Results = a.validator.ValidateAll(records)
		return gctx.Err()
	})
	g.Go(func() error {
		matches, err := a.detector.Detect(gctx, records)
		out.Matches = matches
		return err
	})
	g.Go(func() error {
		for i, rec := range records {
			if err := gctx.Err(); err != nil {
				return err
			}
			out.Scores[i], out.Findings[i] = a.scorer.Score(rec)
		}
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Assessment{}, err
	}

	out.Metrics = aggregate(out)
	out.Duration = time.Since(start)

	a.logger.Debug("assessed batch",
		zap.Int("total", out.Metrics.TotalRecords),
		zap.Int("invalid", out.Metrics.InvalidRecords),
		zap.Int("duplicate_matches", len(out.Matches)),
		zap.Float64("average_score", out.Metrics.AverageQualityScore),
		zap.Duration("duration", out.Duration),
	)
	if a.recorder != nil {
		a.recorder.ObserveAssessment(out.Metrics, out.Duration)
	}
	return out, nil
}

func aggregate(a Assessment) Metrics {
	m := Metrics{TotalRecords: len(a.Results), CommonIssues: []Issue{}}

	counts := make(map[string]int)
	for _, r := range a.Results {
		if r.IsValid {
			m.ValidRecords++
		}
		for _, e := range r.Errors {
			counts[e]++
		}
	}
	m.InvalidRecords = m.TotalRecords - m.ValidRecords

	for _, f := range a.Findings {
		for _, e := range f {
			counts[e]++
		}
	}

	involved := make(map[int]struct{})
	for _, match := range a.Matches {
		m.DuplicateRecords += len(match.Indices)
		involved[match.Indices[0]] = struct{}{}
		involved[match.Indices[1]] = struct{}{}
	}
	m.UniqueDuplicateRecords = len(involved)

	if len(a.Scores) > 0 {
		var sum int
		for _, s := range a.Scores {
			sum += s
			m.ScoreDistribution.add(s)
		}
		m.AverageQualityScore = roundTo2(float64(sum) / float64(len(a.Scores)))
	}

	if len(counts) > 0 {
		m.CommonIssues = rankIssues(counts, m.TotalRecords)
	}
	return m
}
