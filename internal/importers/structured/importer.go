// Package structured imports CSV, JSON and JSONL exports.
//
// Every record becomes its own ImportResult with a single synthetic section
// of flattened "key: value" lines. Records that look like chat messages or
// conversations are tagged with the chat_export source kind.
package structured

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers"
	"github.com/custodia-labs/sercha-kb/internal/importers/frontmatter"
)

// Ensure Importer implements the interface.
var _ driven.Importer = (*Importer)(nil)

// errEmptyHeader reports a CSV file without a usable header row.
var errEmptyHeader = errors.New("csv: missing header row")

// containerKeys name the arrays of records inside a wrapping JSON object.
var containerKeys = []string{"records", "items", "data", "rows", "entries"}

// Importer handles CSV, JSON and JSONL files.
type Importer struct{}

// New creates a new structured export importer.
func New() *Importer {
	return &Importer{}
}

// Name returns the importer name.
func (i *Importer) Name() string {
	return "structured"
}

// Extensions returns the file extensions this importer handles.
func (i *Importer) Extensions() []string {
	return []string{".csv", ".json", ".jsonl", ".ndjson"}
}

// Import decodes the records of the file and flattens each into a section.
func (i *Importer) Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error) {
	ext := importers.Ext(path)

	var (
		records []any
		err     error
	)
	switch ext {
	case ".csv":
		records, err = decodeCSV(data)
	case ".jsonl", ".ndjson":
		records, err = decodeJSONL(ctx, data)
	default:
		records, err = decodeJSON(data)
	}
	if err != nil {
		return nil, err
	}

	contentType := strings.TrimPrefix(ext, ".")
	if contentType == "ndjson" {
		contentType = "jsonl"
	}

	results := make([]domain.ImportResult, 0, len(records))
	for n, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, ok := toResult(path, n, rec, contentType)
		if ok {
			results = append(results, res)
		}
	}
	return results, nil
}

// toResult builds the import result for the n-th record.
func toResult(path string, n int, rec any, contentType string) (domain.ImportResult, bool) {
	res := domain.ImportResult{
		Source: domain.Source{Kind: domain.SourceFile, Origin: fmt.Sprintf("%s#%d", path, n+1)},
		Meta:   domain.DocumentMeta{ContentType: contentType},
	}

	obj, isObj := rec.(map[string]any)
	if !isObj {
		obj = map[string]any{"value": rec}
	}
	if isChat(obj) {
		res.Source.Kind = domain.SourceChatExport
	}
	frontmatter.Apply(scalarFields(obj), &res.Meta, &res.Source)

	var lines []string
	if msgs, ok := chatMessages(obj); ok {
		lines = append(flattenObject(withoutKey(obj, "messages"), ""), msgs...)
	} else {
		lines = flattenObject(obj, "")
	}
	text := strings.TrimSpace(strings.Join(lines, "\n"))
	if text == "" {
		return res, false
	}

	heading := res.Meta.Title
	if heading == "" {
		heading = "Record " + strconv.Itoa(n+1)
	}
	res.Sections = []domain.Section{{Heading: heading, Text: text}}
	return res, true
}

// decodeCSV reads rows keyed by the header row.
func decodeCSV(data []byte) ([]any, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if strings.Join(header, "") == "" {
		return nil, errEmptyHeader
	}

	var records []any
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		rec := make(map[string]any, len(row))
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			key := "column" + strconv.Itoa(i+1)
			if i < len(header) && header[i] != "" {
				key = header[i]
			}
			rec[key] = cell
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

// decodeJSON reads a single document: an array of records, a wrapper
// object holding such an array, or a lone record.
func decodeJSON(data []byte) ([]any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}

	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if isChat(t) {
			return []any{t}, nil
		}
		for _, k := range containerKeys {
			if arr, ok := t[k].([]any); ok {
				return arr, nil
			}
		}
		return []any{t}, nil
	case nil:
		return nil, nil
	default:
		return []any{t}, nil
	}
}

// decodeJSONL reads one record per non-empty line.
func decodeJSONL(ctx context.Context, data []byte) ([]any, error) {
	var records []any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var v any
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", line, err)
		}
		records = append(records, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl: %w", err)
	}
	return records, nil
}

// isChat reports whether a record is a chat message or a conversation.
func isChat(obj map[string]any) bool {
	if _, ok := chatMessages(obj); ok {
		return true
	}
	_, hasRole := obj["role"]
	_, hasContent := obj["content"]
	return hasRole && hasContent
}

// chatMessages renders a "messages" array as "role: content" lines.
func chatMessages(obj map[string]any) ([]string, bool) {
	arr, ok := obj["messages"].([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	lines := make([]string, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		role := scalarString(m["role"])
		if role == "" {
			role = scalarString(m["author"])
		}
		content := contentString(m["content"])
		if role == "" && content == "" {
			return nil, false
		}
		lines = append(lines, role+": "+content)
	}
	return lines, true
}

// contentString handles plain string content and lists of text parts.
func contentString(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if m, ok := p.(map[string]any); ok {
				if s := scalarString(m["text"]); s != "" {
					parts = append(parts, s)
				}
				continue
			}
			if s := scalarString(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return scalarString(v)
	}
}

// flattenObject produces sorted "a.b: value" lines.
func flattenObject(obj map[string]any, prefix string) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, flattenValue(obj[k], join(prefix, k))...)
	}
	return lines
}

func flattenValue(v any, key string) []string {
	switch t := v.(type) {
	case map[string]any:
		return flattenObject(t, key)
	case []any:
		if allScalar(t) {
			parts := make([]string, 0, len(t))
			for _, item := range t {
				if s := scalarString(item); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) == 0 {
				return nil
			}
			return []string{key + ": " + strings.Join(parts, ", ")}
		}
		var lines []string
		for i, item := range t {
			lines = append(lines, flattenValue(item, join(key, strconv.Itoa(i)))...)
		}
		return lines
	default:
		s := scalarString(v)
		if s == "" {
			return nil
		}
		return []string{key + ": " + s}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func allScalar(items []any) bool {
	for _, item := range items {
		switch item.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// scalarFields returns the top-level fields usable as document metadata.
func scalarFields(obj map[string]any) map[string]any {
	fields := make(map[string]any)
	for k, v := range obj {
		switch t := v.(type) {
		case string, bool:
			fields[k] = t
		case json.Number:
			if f, err := t.Float64(); err == nil {
				fields[k] = f
			}
		case []any:
			if allScalar(t) {
				fields[k] = t
			}
		}
	}
	return fields
}

func withoutKey(obj map[string]any, key string) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k != key {
			out[k] = v
		}
	}
	return out
}
