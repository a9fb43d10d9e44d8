// Package loaders reads record batches from JSON, NDJSON and CSV.
package loaders

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"ingest-quality-service/internal/record"
)

// Format identifies an on-disk batch format.
type Format string

const (
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
	FormatCSV    Format = "csv"
)

// Options tune decoding. RecordsPath is a dot-separated path to the array
// inside a JSON document, e.g. "results" or "data.items".
type Options struct {
	RecordsPath string
	Comma       rune
}

// DetectFormat maps a file extension to a format.
func DetectFormat(filename string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, true
	case ".ndjson", ".jsonl":
		return FormatNDJSON, true
	case ".csv":
		return FormatCSV, true
	}
	return "", false
}

// Load reads one file, choosing the decoder from its extension.
func Load(filename string, opts Options) ([]record.Record, error) {
	format, ok := DetectFormat(filename)
	if !ok {
		return nil, eris.Errorf("unsupported file type: %s", filename)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", filename)
	}
	defer file.Close()

	records, err := Decode(file, format, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", filename)
	}
	return records, nil
}

// LoadDir reads every supported file in dir, in file name order.
// Subdirectories and unsupported files are skipped.
func LoadDir(dir string, opts Options) ([]record.Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := DetectFormat(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []record.Record
	for _, name := range names {
		records, err := Load(filepath.Join(dir, name), opts)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// LoadPath loads a file or a directory.
func LoadPath(path string, opts Options) ([]record.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to stat %s", path)
	}
	if info.IsDir() {
		return LoadDir(path, opts)
	}
	return Load(path, opts)
}

// Decode reads records in the given format.
func Decode(r io.Reader, format Format, opts Options) ([]record.Record, error) {
	switch format {
	case FormatJSON:
		return DecodeJSON(r, opts.RecordsPath)
	case FormatNDJSON:
		return DecodeNDJSON(r)
	case FormatCSV:
		return DecodeCSV(r, opts.Comma)
	}
	return nil, eris.Errorf("unknown format %q", format)
}

// DecodeJSON reads a JSON array of objects, optionally nested under
// recordsPath. A lone object without a path is treated as one record.
func DecodeJSON(r io.Reader, recordsPath string) ([]record.Record, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "invalid JSON")
	}

	if recordsPath != "" {
		for _, key := range strings.Split(recordsPath, ".") {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, eris.Errorf("records path %q: %q is not inside an object", recordsPath, key)
			}
			next, ok := obj[key]
			if !ok {
				return nil, eris.Errorf("records path %q: key %q not found", recordsPath, key)
			}
			raw = next
		}
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") && recordsPath == "" {
		var rec record.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		return []record.Record{rec}, nil
	}
	if trimmed == "null" {
		return []record.Record{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, eris.New("expected a JSON array of records")
	}
	records := make([]record.Record, 0, len(items))
	for i, item := range items {
		var rec record.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			return nil, eris.Wrapf(err, "record %d", i)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DecodeNDJSON reads one JSON object per line. Blank lines and lines
// starting with # are skipped.
func DecodeNDJSON(r io.Reader) ([]record.Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	records := []record.Record{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rec record.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, eris.Wrapf(err, "line %d", lineNo)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// DecodeCSV reads a header row followed by one record per row. Cells are
// kept as strings and empty cells are omitted.
func DecodeCSV(r io.Reader, comma rune) ([]record.Record, error) {
	reader := csv.NewReader(r)
	if comma != 0 {
		reader.Comma = comma
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return []record.Record{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to read CSV header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records := []record.Record{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "failed to read CSV row")
		}
		rec := record.New()
		for i, cell := range row {
			if i >= len(header) || header[i] == "" || strings.TrimSpace(cell) == "" {
				continue
			}
			rec.Set(header[i], cell)
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteJSON writes records as an indented JSON array, keeping field order.
func WriteJSON(w io.Writer, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// WriteNDJSON writes one compact JSON object per line.
func WriteNDJSON(w io.Writer, records []record.Record) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// SaveFile writes records to filename in the format implied by its
// extension. CSV output is not supported.
func SaveFile(filename string, records []record.Record) error {
	format, _ := DetectFormat(filename)
	if format != FormatJSON && format != FormatNDJSON {
		return eris.Errorf("cannot write records as %s", filepath.Ext(filename))
	}
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filename)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if format == FormatNDJSON {
		err = WriteNDJSON(w, records)
	} else {
		err = WriteJSON(w, records)
	}
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", filename)
	}
	return w.Flush()
}
