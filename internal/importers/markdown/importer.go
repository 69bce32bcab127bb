// Package markdown imports Markdown documents, splitting them into one
// section per heading.
package markdown

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers/frontmatter"
)

// Ensure Importer implements the interface.
var _ driven.Importer = (*Importer)(nil)

// Importer handles Markdown documents.
type Importer struct{}

// New creates a new Markdown importer.
func New() *Importer {
	return &Importer{}
}

// Name returns the content type produced.
func (i *Importer) Name() string {
	return "markdown"
}

// Extensions returns the file extensions this importer handles.
func (i *Importer) Extensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Import parses front matter and splits the body on headings.
func (i *Importer) Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error) {
	fields, body, err := frontmatter.Split(data)
	if err != nil {
		return nil, err
	}

	res := domain.ImportResult{
		Source: domain.Source{Kind: domain.SourceFile, Origin: path},
		Meta:   domain.DocumentMeta{ContentType: i.Name()},
	}
	frontmatter.Apply(fields, &res.Meta, &res.Source)

	blocks := splitHeadings(string(body))
	order := 0
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.Meta.Title == "" && b.level == 1 {
			res.Meta.Title = b.heading
		}
		text := stripMarkdown(b.body)
		if text == "" {
			continue
		}
		res.Sections = append(res.Sections, domain.Section{
			Heading: b.heading,
			Text:    text,
			Order:   order,
		})
		order++
	}

	return []domain.ImportResult{res}, nil
}

type block struct {
	heading string
	level   int
	body    string
}

var (
	atxHeading    = regexp.MustCompile(`^ {0,3}(#{1,6})[ \t]+(.*?)[ \t#]*$`)
	setextH1      = regexp.MustCompile(`^ {0,3}=+[ \t]*$`)
	setextH2      = regexp.MustCompile(`^ {0,3}-+[ \t]*$`)
	fenceMarker   = regexp.MustCompile("^ {0,3}(```|~~~)")
	emptyATXMatch = regexp.MustCompile(`^ {0,3}#{1,6}[ \t]*$`)
)

// splitHeadings groups lines under their nearest heading. Headings inside
// fenced code blocks are ignored.
func splitHeadings(content string) []block {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	blocks := []block{{}}
	cur := &blocks[0]
	var bodyLines []string
	inFence := false
	fence := ""

	closeBlock := func() {
		cur.body = strings.Join(bodyLines, "\n")
		bodyLines = nil
	}

	for _, line := range lines {
		if m := fenceMarker.FindStringSubmatch(line); m != nil {
			if !inFence {
				inFence, fence = true, m[1]
			} else if m[1] == fence {
				inFence = false
			}
			bodyLines = append(bodyLines, line)
			continue
		}
		if inFence {
			bodyLines = append(bodyLines, line)
			continue
		}

		if m := atxHeading.FindStringSubmatch(line); m != nil && !emptyATXMatch.MatchString(line) {
			closeBlock()
			blocks = append(blocks, block{heading: strings.TrimSpace(m[2]), level: len(m[1])})
			cur = &blocks[len(blocks)-1]
			continue
		}

		// Setext: underline below a single non-blank paragraph line.
		if n := len(bodyLines); n > 0 && strings.TrimSpace(bodyLines[n-1]) != "" &&
			(n == 1 || strings.TrimSpace(bodyLines[n-2]) == "") {
			level := 0
			if setextH1.MatchString(line) {
				level = 1
			} else if setextH2.MatchString(line) {
				level = 2
			}
			if level > 0 {
				heading := strings.TrimSpace(bodyLines[n-1])
				bodyLines = bodyLines[:n-1]
				closeBlock()
				blocks = append(blocks, block{heading: heading, level: level})
				cur = &blocks[len(blocks)-1]
				continue
			}
		}

		bodyLines = append(bodyLines, line)
	}
	closeBlock()
	return blocks
}

// Pre-compiled regular expressions for Markdown stripping.
var (
	fenceLine     = regexp.MustCompile("(?m)^ {0,3}(```|~~~).*$")
	emptyHeading  = regexp.MustCompile(`(?m)^ {0,3}#{1,6}[ \t]*$`)
	inlineCode    = regexp.MustCompile("`([^`]+)`")
	images        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	links         = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	refLinks      = regexp.MustCompile(`\[([^\]]+)\]\[[^\]]*\]`)
	linkDefs      = regexp.MustCompile(`(?m)^ {0,3}\[[^\]]+\]:\s+\S+.*$`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlTags      = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	emphasis      = regexp.MustCompile(`(^|[\s(\["'])(\*\*|__|\*|_|~~)([^\s*_~](?:[^*_~\n]*?[^\s*_~])?)(\*\*|__|\*|_|~~)`)
	blockquote    = regexp.MustCompile(`(?m)^ {0,3}>\s?`)
	hr            = regexp.MustCompile(`(?m)^ {0,3}([-*_])( *[-*_]){2,}\s*$`)
	listMarkers   = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+(\[[ xX]\]\s+)?`)
	numberedList  = regexp.MustCompile(`(?m)^(\s*)\d+[.)]\s+`)
	tableRule     = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	trailingSpace = regexp.MustCompile(`(?m)[ \t]+$`)
	multiNewlines = regexp.MustCompile(`\n{3,}`)
)

// stripMarkdown removes common Markdown formatting for plain text content.
// Code block contents are kept; only the fences are dropped.
func stripMarkdown(content string) string {
	content = htmlComments.ReplaceAllString(content, "")
	content = fenceLine.ReplaceAllString(content, "")
	content = emptyHeading.ReplaceAllString(content, "")
	content = linkDefs.ReplaceAllString(content, "")
	content = images.ReplaceAllString(content, "$1")
	content = links.ReplaceAllString(content, "$1")
	content = refLinks.ReplaceAllString(content, "$1")
	content = inlineCode.ReplaceAllString(content, "$1")
	content = htmlTags.ReplaceAllString(content, "")
	content = hr.ReplaceAllString(content, "")
	content = tableRule.ReplaceAllString(content, "")
	content = blockquote.ReplaceAllString(content, "")
	content = listMarkers.ReplaceAllString(content, "$1")
	content = numberedList.ReplaceAllString(content, "$1")
	for i := 0; i < 2; i++ {
		content = emphasis.ReplaceAllString(content, "$1$3")
	}
	content = trailingSpace.ReplaceAllString(content, "")
	content = multiNewlines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
