package loaders

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test data: %v", err)
	}
	return path
}

func TestLoad_JSONArray(t *testing.T) {
	content := `[
  {"title": "Recall of infusion pumps", "source": "fda", "date": "2024-03-01"},
  {"title": "Safety alert on catheters", "source": "ema", "score": 3}
]`
	path := writeTemp(t, t.TempDir(), "batch.json", content)

	records, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Failed to load JSON batch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	wantKeys := []string{"title", "source", "date"}
	if got := records[0].Keys(); strings.Join(got, ",") != strings.Join(wantKeys, ",") {
		t.Errorf("Expected field order %v, got %v", wantKeys, got)
	}
	if v, _ := records[1].Float("score"); v != 3 {
		t.Errorf("Expected score 3, got %v", v)
	}
}

func TestDecodeJSON_RecordsPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		path    string
		want    int
		wantErr bool
	}{
		{"top-level array", `[{"a":1},{"a":2}]`, "", 2, false},
		{"single object", `{"title":"x"}`, "", 1, false},
		{"nested path", `{"meta":{},"results":[{"a":1}]}`, "results", 1, false},
		{"deep path", `{"data":{"items":[{"a":1},{"a":2},{"a":3}]}}`, "data.items", 3, false},
		{"null array", `{"results":null}`, "results", 0, false},
		{"missing key", `{"data":[]}`, "results", 0, true},
		{"path through array", `[{"a":1}]`, "results", 0, true},
		{"array of scalars", `[1,2]`, "", 0, true},
		{"object at path", `{"results":{"a":1}}`, "results", 0, true},
		{"invalid JSON", `{"a":`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := DecodeJSON(strings.NewReader(tt.input), tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(records) != tt.want {
				t.Errorf("DecodeJSON() got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

func TestDecodeNDJSON(t *testing.T) {
	content := `{"title": "first"}

# exported 2024-05-01
{"title": "second", "country": "usa"}
`
	records, err := DecodeNDJSON(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Failed to decode NDJSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if title, _ := records[1].String("title"); title != "second" {
		t.Errorf("Expected title 'second', got %q", title)
	}

	_, err = DecodeNDJSON(strings.NewReader("{\"ok\":1}\nnot json\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected error mentioning line 2, got %v", err)
	}
}

func TestDecodeCSV(t *testing.T) {
	content := "\ufefftitle,description,country\n" +
		"Recall notice,\"Pumps, model X, may stop\",usa\n" +
		"Guidance,,\n"

	records, err := DecodeCSV(strings.NewReader(content), 0)
	if err != nil {
		t.Fatalf("Failed to decode CSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	if d, _ := records[0].String("description"); d != "Pumps, model X, may stop" {
		t.Errorf("Expected quoted description, got %q", d)
	}
	if records[1].Has("description") || records[1].Has("country") {
		t.Errorf("Expected empty cells to be omitted, got keys %v", records[1].Keys())
	}
	if !records[0].Has("title") {
		t.Errorf("Expected BOM to be stripped from header, got keys %v", records[0].Keys())
	}
}

func TestDecodeCSV_CustomComma(t *testing.T) {
	records, err := DecodeCSV(strings.NewReader("title|source\nNotice|who\n"), '|')
	if err != nil {
		t.Fatalf("Failed to decode CSV: %v", err)
	}
	if s, _ := records[0].String("source"); s != "who" {
		t.Errorf("Expected source 'who', got %q", s)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "b.ndjson", `{"title":"from b"}`+"\n")
	writeTemp(t, dir, "a.json", `[{"title":"from a"}]`)
	writeTemp(t, dir, "notes.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0700); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}

	records, err := LoadPath(dir, Options{})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if title, _ := records[0].String("title"); title != "from a" {
		t.Errorf("Expected files in name order, first title %q", title)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(writeTemp(t, dir, "data.xml", "<x/>"), Options{}); err == nil {
		t.Error("Expected error for unsupported extension")
	}
	if _, err := Load(filepath.Join(dir, "missing.json"), Options{}); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := LoadPath(filepath.Join(dir, "nope"), Options{}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original, err := DecodeJSON(strings.NewReader(`[{"z":"last","a":"first"}]`), "")
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	for _, name := range []string{"out.json", "out.ndjson"} {
		path := filepath.Join(dir, name)
		if err := SaveFile(path, original); err != nil {
			t.Fatalf("SaveFile(%s) failed: %v", name, err)
		}
		loaded, err := Load(path, Options{})
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", name, err)
		}
		if len(loaded) != 1 || !loaded[0].Equal(original[0]) {
			t.Errorf("%s: round trip mismatch", name)
		}
		if got := loaded[0].Keys(); got[0] != "z" {
			t.Errorf("%s: expected field order preserved, got %v", name, got)
		}
	}

	if err := SaveFile(filepath.Join(dir, "out.csv"), original); err == nil {
		t.Error("Expected error writing CSV")
	}
}

func TestWriteJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("Expected [], got %q", buf.String())
	}
}
