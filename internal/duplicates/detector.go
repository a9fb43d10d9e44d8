// Package duplicates finds exact and near-duplicate records in a batch.
//
// Every unordered pair is compared, so cost grows with the square of the
// batch size. Batches in the low thousands are fine; beyond that enable
// title-prefix blocking (Config.BlockPrefix), which only compares records
// whose normalized titles share a prefix. Blocking never hides an exact
// duplicate because identical records share every prefix.
package duplicates

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ingest-quality-service/internal/record"
)

// MatchType distinguishes byte-identical pairs from similar ones.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

const (
	DefaultThreshold = 0.85

	week  = 7 * 24 * time.Hour
	month = 30 * 24 * time.Hour
)

// Match is one duplicate pair. Indices refer to batch input order and the
// first index is always the smaller.
type Match struct {
	Indices    [2]int    `json:"indices"`
	Similarity float64   `json:"similarity"`
	Type       MatchType `json:"type"`
}

// Weights are the relative importance of each compared field.
type Weights struct {
	Title       float64 `yaml:"title" json:"title"`
	Description float64 `yaml:"description" json:"description"`
	Date        float64 `yaml:"date" json:"date"`
	Source      float64 `yaml:"source" json:"source"`
}

// DefaultWeights favors title over body, date and source.
var DefaultWeights = Weights{Title: 40, Description: 30, Date: 20, Source: 10}

// Config controls the detector. Zero values select defaults.
type Config struct {
	Threshold   float64
	Weights     Weights
	DateFields  []string
	BlockPrefix int
	Workers     int
}

// Detector compares records pairwise.
type Detector struct {
	threshold   float64
	weights     Weights
	dateFields  []string
	blockPrefix int
	workers     int
}

var defaultDateFields = []string{"date", "publication_date", "published_at", "publishedDate", "decision_date"}

var descriptionFields = []string{"description", "content"}

// New creates a detector.
func New(cfg Config) *Detector {
	d := &Detector{
		threshold:   cfg.Threshold,
		weights:     cfg.Weights,
		dateFields:  cfg.DateFields,
		blockPrefix: cfg.BlockPrefix,
		workers:     cfg.Workers,
	}
	if d.threshold <= 0 {
		d.threshold = DefaultThreshold
	}
	if d.weights == (Weights{}) {
		d.weights = DefaultWeights
	}
	if len(d.dateFields) == 0 {
		d.dateFields = defaultDateFields
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	return d
}

// Threshold returns the fuzzy-match threshold in use.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// Detect returns all duplicate pairs ordered by (i, j). Pairs are reported
// independently; clusters are not merged. Workers stop early once ctx is done
// and ctx's error is returned.
func (d *Detector) Detect(ctx context.Context, records []record.Record) ([]Match, error) {
	n := len(records)
	if n < 2 {
		return []Match{}, ctx.Err()
	}

	partners := d.partners(records)
	rows := make([][]Match, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			row, err := d.compareRow(gctx, records, i, partners(i))
			rows[i] = row
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matches := []Match{}
	for _, row := range rows {
		matches = append(matches, row...)
	}
	return matches, nil
}

// cancelCheckEvery bounds how many comparisons run between ctx checks.
const cancelCheckEvery = 64

func (d *Detector) compareRow(ctx context.Context, records []record.Record, i int, js []int) ([]Match, error) {
	var row []Match
	for k, j := range js {
		if k%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if records[i].Equal(records[j]) {
			row = append(row, Match{Indices: [2]int{i, j}, Similarity: 1.0, Type: MatchExact})
			continue
		}
		sim, ok := d.Similarity(records[i], records[j])
		if ok && sim > d.threshold {
			row = append(row, Match{Indices: [2]int{i, j}, Similarity: sim, Type: MatchFuzzy})
		}
	}
	return row, nil
}

// partners returns, for each i, the indices j > i it must be compared with.
func (d *Detector) partners(records []record.Record) func(i int) []int {
	n := len(records)
	if d.blockPrefix <= 0 {
		return func(i int) []int {
			js := make([]int, 0, n-i-1)
			for j := i + 1; j < n; j++ {
				js = append(js, j)
			}
			return js
		}
	}

	keys := make([]string, n)
	blocks := make(map[string][]int)
	for i, rec := range records {
		keys[i] = d.blockKey(rec)
		blocks[keys[i]] = append(blocks[keys[i]], i)
	}
	return func(i int) []int {
		block := blocks[keys[i]]
		for pos, idx := range block {
			if idx == i {
				return block[pos+1:]
			}
		}
		return nil
	}
}

func (d *Detector) blockKey(rec record.Record) string {
	title, _ := rec.String("title")
	norm := []rune(strings.Join(strings.Fields(strings.ToLower(title)), " "))
	if len(norm) > d.blockPrefix {
		norm = norm[:d.blockPrefix]
	}
	return string(norm)
}

// Similarity computes the weighted similarity over fields comparable on both
// records. ok is false when no field is comparable; such pairs are never
// reported.
func (d *Detector) Similarity(a, b record.Record) (float64, bool) {
	var weighted, total float64

	if sa, sb, ok := bothStrings(a, b, "title"); ok && d.weights.Title > 0 {
		weighted += d.weights.Title * textSimilarity(sa, sb)
		total += d.weights.Title
	}

	if ba, okA := bodyText(a); okA && d.weights.Description > 0 {
		if bb, okB := bodyText(b); okB {
			weighted += d.weights.Description * textSimilarity(ba, bb)
			total += d.weights.Description
		}
	}

	for _, field := range d.dateFields {
		ta, okA := a.Time(field)
		tb, okB := b.Time(field)
		if okA && okB {
			if d.weights.Date > 0 {
				weighted += d.weights.Date * dateSimilarity(ta, tb)
				total += d.weights.Date
			}
			break
		}
	}

	if sa, sb, ok := bothStrings(a, b, "source"); ok && d.weights.Source > 0 {
		if sa == sb {
			weighted += d.weights.Source
		}
		total += d.weights.Source
	}

	if total == 0 {
		return 0, false
	}
	return weighted / total, true
}

// bodyText returns the first of descriptionFields the record carries as a
// string. Each side of a pair is resolved on its own.
func bodyText(rec record.Record) (string, bool) {
	for _, field := range descriptionFields {
		if s, ok := rec.String(field); ok {
			return s, true
		}
	}
	return "", false
}

func bothStrings(a, b record.Record, field string) (string, string, bool) {
	sa, okA := a.String(field)
	sb, okB := b.String(field)
	return sa, sb, okA && okB
}

func dateSimilarity(a, b time.Time) float64 {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 0:
		return 1.0
	case diff <= week:
		return 0.8
	case diff <= month:
		return 0.5
	default:
		return 0
	}
}
