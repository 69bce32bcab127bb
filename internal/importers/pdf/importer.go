// Package pdf imports PDF documents with one section per page.
//
// Text is recovered by interpreting the text operators of each page
// content stream. Pages whose text cannot be recovered that way (scanned
// images, fonts without a usable encoding) are flagged NeedsOCR; OCR itself
// is never run.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers/frontmatter"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure Importer implements the interface.
var _ driven.Importer = (*Importer)(nil)

var disableConfigDir sync.Once

// Importer handles PDF documents.
type Importer struct{}

// New creates a new PDF importer.
func New() *Importer {
	// pdfcpu would otherwise create a config dir in the user's home.
	disableConfigDir.Do(api.DisableConfigDir)
	return &Importer{}
}

// Name returns the content type produced.
func (i *Importer) Name() string {
	return "pdf"
}

// Extensions returns the file extensions this importer handles.
func (i *Importer) Extensions() []string {
	return []string{".pdf"}
}

// Import reads the document info and the text of every page.
func (i *Importer) Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}

	res := domain.ImportResult{
		Source: domain.Source{Kind: domain.SourceFile, Origin: path},
		Meta:   domain.DocumentMeta{ContentType: i.Name()},
	}
	frontmatter.Apply(infoFields(pctx.XRefTable), &res.Meta, &res.Source)

	for p := 1; p <= pctx.PageCount; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		section := domain.Section{Page: p, Order: p - 1}

		r, err := pdfcpu.ExtractPageContent(pctx, p)
		if err != nil {
			logger.Warn("pdf: %s page %d: %v", path, p, err)
			section.Partial = true
			res.Sections = append(res.Sections, section)
			continue
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", p, err)
		}

		pt := extractText(content)
		switch {
		case pt.undecodable():
			section.NeedsOCR = true
			section.Partial = true
		case pt.text == "" && pt.images > 0:
			section.NeedsOCR = true
			section.Partial = true
		case pt.text == "":
			continue
		default:
			section.Text = pt.text
		}
		res.Sections = append(res.Sections, section)
	}

	return []domain.ImportResult{res}, nil
}

// infoFields maps the document info dictionary onto front-matter style fields.
func infoFields(xt *model.XRefTable) map[string]any {
	if xt == nil {
		return nil
	}
	fields := make(map[string]any)
	if s := strings.TrimSpace(xt.Title); s != "" {
		fields["title"] = s
	}
	if s := strings.TrimSpace(xt.Author); s != "" {
		fields["author"] = s
	}
	if s := strings.TrimSpace(xt.Keywords); s != "" {
		fields["keywords"] = s
	}
	if t, ok := parseDate(xt.ModDate); ok {
		fields["modified"] = t
	}
	return fields
}

// parseDate parses a PDF date string such as "D:20240102150405+01'00'".
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	for _, layout := range []string{"20060102150405", "200601021504", "2006010215", "20060102", "200601", "2006"} {
		if len(s) >= len(layout) {
			if t, err := time.Parse(layout, s[:len(layout)]); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
