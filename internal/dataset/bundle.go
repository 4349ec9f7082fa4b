// Package dataset downloads quiz resources and holds them as a DataBundle:
// a per-step mapping from resource URL (or reserved key) to a loaded value of
// a small closed set of shapes. Bundles are built fresh each step and
// discarded once the answer is computed; nothing is cached across steps.
package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved bundle keys injected alongside resource URLs so generated code can
// reach credentials and the originating page without a resource lookup.
const (
	KeyEmail      = "email"
	KeySecret     = "secret"
	KeyCurrentURL = "current_url"
)

// Value is one loaded bundle entry.
type Value interface {
	// Describe returns a one-line shape summary shown to the code
	// synthesizer in place of the raw data.
	Describe() string
	// Raw returns the representation handed to the sandboxed solver.
	Raw() interface{}
}

// Table holds tabular data from a CSV or spreadsheet. The first source row is
// treated as the header.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Describe reports shape and column names.
func (t *Table) Describe() string {
	return fmt.Sprintf("Table shape=(%d, %d), columns=%v", len(t.Rows), len(t.Columns), t.Columns)
}

// Raw exposes the table as records plus the column order, the shape solver
// code iterates most naturally.
func (t *Table) Raw() interface{} {
	records := make([]map[string]interface{}, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}
	return map[string]interface{}{
		"columns": toAnySlice(t.Columns),
		"rows":    records,
	}
}

// Document holds per-page text and per-page tables extracted from a PDF.
type Document struct {
	PageTexts  []string
	PageTables [][][][]string // page -> table -> row -> cell
}

// Describe reports page and table counts.
func (d *Document) Describe() string {
	tables := 0
	for _, pt := range d.PageTables {
		tables += len(pt)
	}
	return fmt.Sprintf("Document with %d pages and %d tables", len(d.PageTexts), tables)
}

// Raw mirrors the texts/tables layout the solver prompt documents.
func (d *Document) Raw() interface{} {
	return map[string]interface{}{
		"texts":  toAnySlice(d.PageTexts),
		"tables": d.PageTables,
	}
}

// JSONValue holds decoded JSON from a data file or an API response.
type JSONValue struct {
	V interface{}
}

// Describe reports top-level keys or element counts.
func (j *JSONValue) Describe() string {
	switch v := j.V.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("JSON object with keys=%v", keys)
	case []interface{}:
		return fmt.Sprintf("JSON array with %d items", len(v))
	default:
		return fmt.Sprintf("JSON value of type %T", j.V)
	}
}

// Raw returns the decoded value.
func (j *JSONValue) Raw() interface{} { return j.V }

// Blob holds bytes of an unrecognized content type.
type Blob struct {
	ContentType string
	Data        []byte
}

// Describe reports size and content type.
func (b *Blob) Describe() string {
	return fmt.Sprintf("Raw bytes (%d, content-type %q)", len(b.Data), b.ContentType)
}

// Raw returns the bytes as a string; generated code has no use for []byte
// through the interpreter boundary.
func (b *Blob) Raw() interface{} { return string(b.Data) }

// Context is a reserved-key entry: a credential or the page URL.
type Context struct {
	S string
}

// Describe marks the entry as context rather than data.
func (c *Context) Describe() string { return "Authentication context" }

// Raw returns the string.
func (c *Context) Raw() interface{} { return c.S }

// Bundle maps resource identifiers to loaded values.
type Bundle map[string]Value

// InjectReserved adds the three reserved keys.
func (b Bundle) InjectReserved(email, secret, currentURL string) {
	b[KeyEmail] = &Context{S: email}
	b[KeySecret] = &Context{S: secret}
	b[KeyCurrentURL] = &Context{S: currentURL}
}

// Describe builds the shape summary shown to the code synthesizer: one line
// per entry, keys sorted for prompt stability.
func (b Bundle) Describe() string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(" (key in data map): ")
		sb.WriteString(b[k].Describe())
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RawMap converts the bundle to the map handed to the sandboxed solver.
func (b Bundle) RawMap() map[string]interface{} {
	out := make(map[string]interface{}, len(b))
	for k, v := range b {
		out[k] = v.Raw()
	}
	return out
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
