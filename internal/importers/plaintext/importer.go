// Package plaintext imports plain text files as a single section.
package plaintext

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers/frontmatter"
)

// Ensure Importer implements the interface.
var _ driven.Importer = (*Importer)(nil)

// errBinary reports content that is not text.
var errBinary = errors.New("binary content")

// sniffLen is how much of the file is checked for NUL bytes.
const sniffLen = 8000

// Importer handles plain text files.
type Importer struct{}

// New creates a new plain text importer.
func New() *Importer {
	return &Importer{}
}

// Name returns the content type produced.
func (i *Importer) Name() string {
	return "text"
}

// Extensions returns the file extensions this importer handles.
func (i *Importer) Extensions() []string {
	return []string{".txt", ".text", ".rst", ".org", ".log"}
}

// Import returns the file as one section. Optional front matter is applied.
func (i *Importer) Import(_ context.Context, path string, data []byte) ([]domain.ImportResult, error) {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, errBinary
	}

	fields, body, err := frontmatter.Split(data)
	if err != nil {
		return nil, err
	}

	res := domain.ImportResult{
		Source: domain.Source{Kind: domain.SourceFile, Origin: path},
		Meta:   domain.DocumentMeta{ContentType: i.Name()},
	}
	frontmatter.Apply(fields, &res.Meta, &res.Source)

	text := strings.ReplaceAll(string(body), "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text != "" {
		res.Sections = []domain.Section{{Text: text}}
	}
	return []domain.ImportResult{res}, nil
}
