// Package docx imports Word (OOXML) documents with one section per page.
// Page boundaries come from explicit page breaks and the page breaks Word
// records when it last rendered the document.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers/frontmatter"
)

// Ensure Importer implements the interface.
var _ driven.Importer = (*Importer)(nil)

// errNoDocument reports an archive without word/document.xml.
var errNoDocument = errors.New("missing word/document.xml")

// Importer handles DOCX documents.
type Importer struct{}

// New creates a new DOCX importer.
func New() *Importer {
	return &Importer{}
}

// Name returns the content type produced.
func (i *Importer) Name() string {
	return "docx"
}

// Extensions returns the file extensions this importer handles.
func (i *Importer) Extensions() []string {
	return []string{".docx"}
}

// Import reads document properties and the page-split body text.
func (i *Importer) Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	docXML, err := readPart(reader, "word/document.xml")
	if err != nil {
		return nil, err
	}
	if docXML == nil {
		return nil, errNoDocument
	}

	pages, err := parseDocumentXML(ctx, docXML)
	if err != nil {
		return nil, err
	}

	res := domain.ImportResult{
		Source: domain.Source{Kind: domain.SourceFile, Origin: path},
		Meta:   domain.DocumentMeta{ContentType: i.Name()},
	}
	if core, err := readPart(reader, "docProps/core.xml"); err == nil && core != nil {
		frontmatter.Apply(parseCoreXML(core), &res.Meta, &res.Source)
	}

	heading := ""
	for n, p := range pages {
		if p.heading != "" {
			heading = p.heading
		}
		if res.Meta.Title == "" && p.title != "" {
			res.Meta.Title = p.title
		}
		text := strings.TrimSpace(p.text.String())
		if text == "" {
			continue
		}
		res.Sections = append(res.Sections, domain.Section{
			Heading: heading,
			Text:    text,
			Page:    n + 1,
			Order:   n,
		})
	}

	return []domain.ImportResult{res}, nil
}

// readPart returns the bytes of a named archive member, or nil if absent.
func readPart(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return content, nil
	}
	return nil, nil
}

// page accumulates the text of one rendered page.
type page struct {
	text    strings.Builder
	heading string
	title   string
}

// parseDocumentXML walks the body in document order so that breaks and
// text runs keep their relative positions.
func parseDocumentXML(ctx context.Context, content []byte) ([]*page, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	pages := []*page{{}}
	cur := pages[0]
	pageHasText := false

	var para strings.Builder
	style := ""
	inText := false

	newPage := func() {
		// A rendered break directly after an explicit one is the same break.
		if !pageHasText && para.Len() == 0 {
			return
		}
		flushPara(cur, &para, style)
		cur = &page{}
		pages = append(pages, cur)
		pageHasText = false
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				style = ""
			case "pStyle":
				style = attr(t, "val")
			case "pageBreakBefore":
				if attr(t, "val") != "0" && attr(t, "val") != "false" {
					newPage()
				}
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				if attr(t, "type") == "page" {
					newPage()
				} else {
					para.WriteByte('\n')
				}
			case "lastRenderedPageBreak":
				newPage()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if para.Len() > 0 {
					pageHasText = true
				}
				flushPara(cur, &para, style)
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flushPara(cur, &para, style)
	return pages, nil
}

// flushPara appends a finished paragraph to the page.
func flushPara(p *page, para *strings.Builder, style string) {
	text := strings.TrimSpace(para.String())
	para.Reset()
	if text == "" {
		return
	}
	lower := strings.ToLower(style)
	switch {
	case lower == "title":
		p.title = text
	case strings.HasPrefix(lower, "heading"):
		if p.heading == "" {
			p.heading = text
		}
	}
	if p.text.Len() > 0 {
		p.text.WriteByte('\n')
	}
	p.text.WriteString(text)
}

func attr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// coreXML represents the structure of docProps/core.xml.
type coreXML struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Keywords string `xml:"keywords"`
	Modified string `xml:"modified"`
	Subject  string `xml:"subject"`
}

// parseCoreXML maps document properties onto front-matter style fields.
func parseCoreXML(content []byte) map[string]any {
	var core coreXML
	if err := xml.Unmarshal(content, &core); err != nil {
		return nil
	}
	fields := make(map[string]any)
	if s := strings.TrimSpace(core.Title); s != "" {
		fields["title"] = s
	}
	if s := strings.TrimSpace(core.Creator); s != "" {
		fields["author"] = s
	}
	if s := strings.TrimSpace(core.Keywords); s != "" {
		fields["keywords"] = s
	}
	if s := strings.TrimSpace(core.Modified); s != "" {
		fields["modified"] = s
	}
	if s := strings.TrimSpace(core.Subject); s != "" {
		fields["description"] = s
	}
	return fields
}
