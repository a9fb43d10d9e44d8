// Package record holds the schema-less container that flows through the
// ingestion engine.
package record

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
)

// Record is an ordered field-name to value mapping. Values are strings,
// numbers, times, or nested maps/slices as produced by a JSON decoder.
type Record struct {
	keys   []string
	values map[string]interface{}
}

// New returns an empty record.
func New() Record {
	return Record{values: make(map[string]interface{})}
}

// FromMap builds a record from a plain map. Field order is alphabetical since
// Go maps carry none.
func FromMap(m map[string]interface{}) Record {
	r := Record{
		keys:   make([]string, 0, len(m)),
		values: make(map[string]interface{}, len(m)),
	}
	for k, v := range m {
		r.keys = append(r.keys, k)
		r.values[k] = v
	}
	sort.Strings(r.keys)
	return r
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.keys)
}

// Keys returns field names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Has reports whether the field exists, regardless of its value.
func (r Record) Has(field string) bool {
	_, ok := r.values[field]
	return ok
}

// Get returns the raw value of a field.
func (r Record) Get(field string) (interface{}, bool) {
	v, ok := r.values[field]
	return v, ok
}

// String returns the field as a string. Only string values qualify; numbers
// and maps report ok=false rather than being coerced.
func (r Record) String(field string) (string, bool) {
	v, ok := r.values[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the field as a float64. Numeric strings are accepted.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r.values[field]
	if !ok || v == nil {
		return 0, false
	}
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Time returns the field parsed as a timestamp.
func (r Record) Time(field string) (time.Time, bool) {
	v, ok := r.values[field]
	if !ok {
		return time.Time{}, false
	}
	return ParseTime(v)
}

// ParseTime parses the common timestamp shapes found in upstream feeds.
// Numbers are rejected: epoch integers are too ambiguous to trust.
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range extraLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
		parsed, err := cast.ToTimeE(s)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// Layouts cast does not know about but regulatory feeds use (openFDA ships
// compact dates).
var extraLayouts = []string{
	"20060102",
	"01/02/2006",
	"2006/01/02",
	"January 2, 2006",
	"2 January 2006",
}

// IsEmpty reports whether a field is absent, nil, blank, or an empty
// collection.
func (r Record) IsEmpty(field string) bool {
	v, ok := r.values[field]
	if !ok || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// Set assigns a field, appending it to the order if new. The receiver is
// modified; callers holding a shared record should Clone first.
func (r *Record) Set(field string, value interface{}) {
	if r.values == nil {
		r.values = make(map[string]interface{})
	}
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
	}
	r.values[field] = value
}

// Delete removes a field.
func (r *Record) Delete(field string) {
	if _, ok := r.values[field]; !ok {
		return
	}
	delete(r.values, field)
	for i, k := range r.keys {
		if k == field {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy so nested maps and slices are not shared.
func (r Record) Clone() Record {
	out := Record{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]interface{}, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	case Record:
		return t.Clone()
	default:
		return v
	}
}

// Equal reports deep structural equality of all fields. Field order is
// ignored.
func (r Record) Equal(other Record) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for k, v := range r.values {
		ov, ok := other.values[k]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if ra, ok := a.(Record); ok {
		rb, ok := b.(Record)
		return ok && ra.Equal(rb)
	}
	return reflect.DeepEqual(a, b)
}

// Map returns a shallow copy of the fields as a plain map.
func (r Record) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		m[k] = v
	}
	return m
}

// MarshalJSON writes fields in record order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, eris.Wrapf(err, "marshal key %q", k)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, eris.Wrapf(err, "marshal field %q", k)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the top-level key order.
// Nested objects decode to plain maps.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "read record")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return eris.Errorf("record must be a JSON object, got %v", tok)
	}

	out := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "read field name")
		}
		key, ok := tok.(string)
		if !ok {
			return eris.Errorf("unexpected token %v", tok)
		}
		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return eris.Wrapf(err, "decode field %q", key)
		}
		out.Set(key, normalizeNumbers(raw))
	}
	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "read record end")
	}
	*r = out
	return nil
}

// normalizeNumbers turns json.Number into float64, matching what
// encoding/json produces for interface{} targets, so records compare equal
// regardless of how they were decoded.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = normalizeNumbers(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = normalizeNumbers(inner)
		}
		return t
	default:
		return v
	}
}
