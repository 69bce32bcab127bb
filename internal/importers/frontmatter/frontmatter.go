// Package frontmatter parses YAML ("---") and TOML ("+++") front matter
// and maps well-known keys onto document metadata.
package frontmatter

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// Split separates front matter from the body. It returns nil fields and
// the input unchanged when no front matter block is present.
func Split(content []byte) (map[string]any, []byte, error) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	var delim string
	switch {
	case bytes.HasPrefix(content, []byte("---\n")), bytes.HasPrefix(content, []byte("---\r\n")):
		delim = "---"
	case bytes.HasPrefix(content, []byte("+++\n")), bytes.HasPrefix(content, []byte("+++\r\n")):
		delim = "+++"
	default:
		return nil, content, nil
	}

	rest := content[bytes.IndexByte(content, '\n')+1:]
	block, body, ok := cutAtDelimiter(rest, delim)
	if !ok {
		return nil, content, nil
	}

	fields := make(map[string]any)
	var err error
	if delim == "---" {
		err = yaml.Unmarshal(block, &fields)
	} else {
		err = toml.Unmarshal(block, &fields)
	}
	if err != nil {
		return nil, content, fmt.Errorf("parse front matter: %w", err)
	}
	return fields, body, nil
}

// cutAtDelimiter finds a line consisting only of delim.
func cutAtDelimiter(rest []byte, delim string) (block, body []byte, ok bool) {
	offset := 0
	for offset <= len(rest) {
		end := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		next := len(rest) + 1
		if end < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+end]
			next = offset + end + 1
		}
		if strings.TrimRight(string(line), " \t\r") == delim {
			if next > len(rest) {
				next = len(rest)
			}
			return rest[:offset], rest[next:], true
		}
		if end < 0 {
			break
		}
		offset = next
	}
	return nil, nil, false
}

// Apply maps well-known fields onto meta and src. Unknown fields are
// stored in meta.Extra. Keys are matched case-insensitively.
func Apply(fields map[string]any, meta *domain.DocumentMeta, src *domain.Source) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := fields[key]
		switch normaliseKey(key) {
		case "title", "name", "subject":
			if meta.Title == "" {
				meta.Title = asString(value)
			}
		case "author", "authors", "creator":
			if meta.Author == "" {
				meta.Author = firstString(value)
			}
		case "slug":
			if meta.Slug == "" {
				meta.Slug = asString(value)
			}
		case "routehint", "route", "section", "category":
			if meta.RouteHint == "" {
				meta.RouteHint = asString(value)
			}
		case "tags", "keywords", "labels":
			meta.Tags = mergeTags(meta.Tags, value)
		case "updated", "lastmod", "modified", "date", "datemodified", "updatedat":
			if t, ok := asTime(value); ok && (meta.Updated == nil || t.After(*meta.Updated)) {
				meta.Updated = &t
			}
		case "confidence":
			if f, ok := asFloat(value); ok {
				meta.Confidence = &f
			}
		case "grade", "sourcegrade":
			if src != nil {
				src.Grade = asString(value)
			}
		case "url", "sourceurl", "origin":
			if src != nil {
				if s := asString(value); s != "" {
					src.Kind = domain.SourceURL
					src.Origin = s
				}
			}
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]any)
			}
			meta.Extra[key] = normaliseValue(value)
		}
	}
	sort.Strings(meta.Tags)
}

func normaliseKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func firstString(v any) string {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		return asString(list[0])
	}
	return asString(v)
}

func mergeTags(existing []string, v any) []string {
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t] = true
	}
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			existing = append(existing, s)
		}
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			add(asString(item))
		}
	case []string:
		for _, item := range t {
			add(item)
		}
	default:
		for _, part := range strings.Split(asString(v), ",") {
			add(part)
		}
	}
	return existing
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02 Jan 2006",
	"January 2, 2006",
}

// ParseTime parses common date layouts as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case toml.LocalDate:
		return t.AsTime(time.UTC), true
	case toml.LocalDateTime:
		return t.AsTime(time.UTC), true
	case string:
		return ParseTime(t)
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// normaliseValue converts decoder-specific values into JSON-friendly ones.
func normaliseValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case toml.LocalDate, toml.LocalDateTime, toml.LocalTime:
		return fmt.Sprint(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normaliseValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normaliseValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normaliseValue(val)
		}
		return out
	default:
		return v
	}
}
