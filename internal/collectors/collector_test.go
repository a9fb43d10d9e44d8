package collectors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/quality"
	"ingest-quality-service/internal/record"
	"ingest-quality-service/internal/standardize"
)

var longBody = strings.Repeat("The manufacturer has initiated a voluntary recall. ", 2)

func newTestCollector(opts ...Option) *Collector {
	return NewCollector(
		standardize.New(standardize.Config{}),
		quality.NewAssessor(nil, nil, nil),
		opts...,
	)
}

func staticFetcher(batch ...map[string]interface{}) Fetcher {
	return FetcherFunc(func(context.Context) ([]record.Record, error) {
		records := make([]record.Record, len(batch))
		for i, m := range batch {
			records[i] = record.FromMap(m)
		}
		return records, nil
	})
}

func TestCollector_SyncSplitsNewAndExisting(t *testing.T) {
	var batches []Batch
	c := newTestCollector(WithBatchHook(func(_ context.Context, b Batch) error {
		batches = append(batches, b)
		return nil
	}))
	c.AddSource("fda_510k", staticFetcher(
		map[string]interface{}{"id": "K240001", "title": "Clearance for infusion pump", "description": longBody, "country": "usa"},
		map[string]interface{}{"id": "K240002", "title": "Clearance for catheter", "description": longBody},
		map[string]interface{}{"id": "K240002", "title": "Clearance for catheter", "description": longBody},
	))

	first, err := c.Sync(context.Background(), "fda_510k")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	want := coordinator.Outcome{NewItems: 2, ProcessedItems: 3, ExistingItems: 1}
	if first != want {
		t.Errorf("first Sync() = %+v, want %+v", first, want)
	}

	second, err := c.Sync(context.Background(), "fda_510k")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	want = coordinator.Outcome{NewItems: 0, ProcessedItems: 3, ExistingItems: 3}
	if second != want {
		t.Errorf("second Sync() = %+v, want %+v", second, want)
	}

	if len(batches) != 2 {
		t.Fatalf("expected hook to run twice, ran %d times", len(batches))
	}
	b := batches[0]
	if country, _ := b.Records[0].String("country"); country != "United States" {
		t.Errorf("expected standardized country, got %q", country)
	}
	if b.Standardization.Countries != 1 {
		t.Errorf("expected 1 country change, got %d", b.Standardization.Countries)
	}
	if len(b.Assessment.Matches) != 1 {
		t.Errorf("expected the repeated record to be detected, got %d matches", len(b.Assessment.Matches))
	}
	if got := len(b.NewRecords()); got != 2 {
		t.Errorf("NewRecords() returned %d, want 2", got)
	}
}

func TestCollector_FetchErrorAndUnknownSource(t *testing.T) {
	c := newTestCollector()
	c.AddSource("ema_epar", FetcherFunc(func(context.Context) ([]record.Record, error) {
		return nil, errors.New("connection refused")
	}))

	out, err := c.Sync(context.Background(), "ema_epar")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected fetch error, got %v", err)
	}
	if out != (coordinator.Outcome{}) {
		t.Errorf("expected zero outcome on error, got %+v", out)
	}

	if _, err := c.Sync(context.Background(), "unknown"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestCollector_HookFailureLeavesItemsUnseen(t *testing.T) {
	fail := true
	c := newTestCollector(WithBatchHook(func(context.Context, Batch) error {
		if fail {
			return errors.New("database unavailable")
		}
		return nil
	}))
	c.AddSource("who", staticFetcher(map[string]interface{}{"id": 1.0, "title": "Drug alert"}))

	if _, err := c.Sync(context.Background(), "who"); err == nil {
		t.Fatal("expected hook error")
	}

	fail = false
	out, err := c.Sync(context.Background(), "who")
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if out.NewItems != 1 {
		t.Errorf("expected item to be new after failed hook, got %+v", out)
	}
}

func TestCollector_AsCoordinatorStrategy(t *testing.T) {
	c := newTestCollector()
	c.AddSource("fda_510k", staticFetcher(map[string]interface{}{"title": "Recall notice for pumps"}))

	coord := coordinator.New(coordinator.Options{})
	for _, id := range c.Sources() {
		coord.Register(id, c)
	}

	res := coord.Sync(context.Background(), "fda_510k")
	if !res.Success || res.NewUpdatesCount != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestItemKey(t *testing.T) {
	a := record.FromMap(map[string]interface{}{"title": "x", "source": "fda"})
	b := record.FromMap(map[string]interface{}{"source": "fda", "title": "x"})
	withID := record.FromMap(map[string]interface{}{"id": 42.0, "title": "x"})

	if ItemKey(withID) != "id:42" {
		t.Errorf("ItemKey() = %q, want id:42", ItemKey(withID))
	}
	if !strings.HasPrefix(ItemKey(a), "sha256:") {
		t.Errorf("expected content hash, got %q", ItemKey(a))
	}
	if ItemKey(a) != ItemKey(b) {
		t.Error("expected FromMap records with equal content to share a key")
	}
}

func TestSeenStores(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	stores := map[string]SeenStore{
		"memory": NewMemorySeenStore(),
		"redis":  NewRedisSeenStore(client),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Mark(ctx, "fda_510k", []string{"id:1", "id:2"}); err != nil {
				t.Fatalf("Mark() error = %v", err)
			}

			got, err := store.Contains(ctx, "fda_510k", []string{"id:1", "id:3", "id:2"})
			if err != nil {
				t.Fatalf("Contains() error = %v", err)
			}
			want := []bool{true, false, true}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("Contains()[%d] = %v, want %v", i, got[i], want[i])
				}
			}

			other, err := store.Contains(ctx, "ema_epar", []string{"id:1"})
			if err != nil {
				t.Fatalf("Contains() error = %v", err)
			}
			if other[0] {
				t.Error("expected sources to be isolated")
			}
		})
	}
}

func TestRejectedWriter(t *testing.T) {
	dir := t.TempDir()
	c := newTestCollector(WithBatchHook(RejectedWriter(dir)))
	c.AddSource("integrations/ema", staticFetcher(
		map[string]interface{}{"id": "a", "title": "ok"},
		map[string]interface{}{"id": "b", "title": "Valid title here", "description": longBody},
	))

	if _, err := c.Sync(context.Background(), "integrations/ema"); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "integrations_ema.rejected.ndjson"))
	if err != nil {
		t.Fatalf("failed to read rejected file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 rejected record, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"key":"id:a"`) || !strings.Contains(lines[0], "description is required") {
		t.Errorf("unexpected rejected line: %s", lines[0])
	}

	// existing items are not written again
	if _, err := c.Sync(context.Background(), "integrations/ema"); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	again, _ := os.ReadFile(filepath.Join(dir, "integrations_ema.rejected.ndjson"))
	if string(again) != string(content) {
		t.Error("expected rejected file to be unchanged on resync")
	}
}

func TestWriteErrorsToFile(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		results []coordinator.Result
	}{
		{
			name: "single failure",
			results: []coordinator.Result{
				{SourceID: "ema_epar", RunID: "r1", Errors: []string{"connection timeout"}, Metrics: coordinator.SyncMetrics{EndTime: testTime}},
			},
		},
		{
			name: "mixed results",
			results: []coordinator.Result{
				{SourceID: "fda_510k", RunID: "r2", Success: true, Errors: []string{}},
				{SourceID: "who", RunID: "r3", Errors: []string{"error1", "multi\nline"}, Metrics: coordinator.SyncMetrics{EndTime: testTime}},
			},
		},
		{
			name:    "no results",
			results: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errorFile := filepath.Join(tmpDir, tt.name+".txt")

			if err := WriteErrorsToFile(errorFile, tt.results); err != nil {
				t.Fatalf("WriteErrorsToFile() error = %v", err)
			}

			content, err := os.ReadFile(errorFile)
			if err != nil {
				t.Fatalf("failed to read error file: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(string(content)), "\n")
			if lines[0] != "TIMESTAMP|SOURCE_ID|RUN_ID|ERROR" {
				t.Errorf("error file missing header")
			}

			var wantLines int
			for _, r := range tt.results {
				wantLines += len(r.Errors)
				for _, e := range r.Errors {
					if !strings.Contains(string(content), strings.ReplaceAll(e, "\n", " ")) {
						t.Errorf("error file missing %q", e)
					}
				}
			}
			if len(lines)-1 != wantLines {
				t.Errorf("got %d error lines, want %d", len(lines)-1, wantLines)
			}
		})
	}
}

func TestSanitizeSourceID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"integrations/fda/510k", "integrations_fda_510k"},
		{"my:source/with*unsafe?chars", "my_source_with_unsafe_chars"},
		{"ema_epar", "ema_epar"},
		{"windows\\share", "windows_share"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeSourceID(tt.input); got != tt.expected {
				t.Errorf("sanitizeSourceID(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
