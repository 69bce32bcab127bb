// Package html imports HTML pages, splitting them into one section per
// heading element.
package html

import (
	"context"
	"html"
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/importers/frontmatter"
)

// Ensure Importer implements the interface.
var _ driven.Importer = (*Importer)(nil)

// Importer handles HTML documents.
type Importer struct{}

// New creates a new HTML importer.
func New() *Importer {
	return &Importer{}
}

// Name returns the content type produced.
func (i *Importer) Name() string {
	return "html"
}

// Extensions returns the file extensions this importer handles.
func (i *Importer) Extensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

// Import extracts metadata from the head and splits the body on h1-h6.
func (i *Importer) Import(ctx context.Context, path string, data []byte) ([]domain.ImportResult, error) {
	content := string(data)

	res := domain.ImportResult{
		Source: domain.Source{Kind: domain.SourceFile, Origin: path},
		Meta:   domain.DocumentMeta{ContentType: i.Name()},
	}
	frontmatter.Apply(extractMeta(content), &res.Meta, &res.Source)

	body := removeNonContent(content)
	matches := headingTag.FindAllStringSubmatchIndex(body, -1)

	order := 0
	add := func(heading, fragment string) {
		text := stripHTML(fragment)
		if text == "" {
			return
		}
		res.Sections = append(res.Sections, domain.Section{Heading: heading, Text: text, Order: order})
		order++
	}

	prev := 0
	heading := ""
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		add(heading, body[prev:m[0]])
		heading = stripHTML(body[m[4]:m[5]])
		if res.Meta.Title == "" && body[m[2]:m[3]] == "1" {
			res.Meta.Title = heading
		}
		prev = m[1]
	}
	add(heading, body[prev:])

	return []domain.ImportResult{res}, nil
}

// Pre-compiled regular expressions for HTML parsing performance.
var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaTag           = regexp.MustCompile(`(?is)<meta\s[^>]*>`)
	metaAttr          = regexp.MustCompile(`(?is)(name|property|content)\s*=\s*("([^"]*)"|'([^']*)')`)
	headingTag        = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]\s*>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	navTag            = regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
	multiSpaces       = regexp.MustCompile(`[ \t]+`)
)

// extractMeta reads the title and named meta tags as front-matter style fields.
func extractMeta(content string) map[string]any {
	fields := make(map[string]any)
	if m := titleTag.FindStringSubmatch(content); len(m) > 1 {
		if title := strings.TrimSpace(html.UnescapeString(m[1])); title != "" {
			fields["title"] = title
		}
	}
	for _, tag := range metaTag.FindAllString(content, -1) {
		var name, value string
		for _, attr := range metaAttr.FindAllStringSubmatch(tag, -1) {
			v := attr[3] + attr[4]
			switch strings.ToLower(attr[1]) {
			case "name", "property":
				name = strings.ToLower(v)
			case "content":
				value = html.UnescapeString(strings.TrimSpace(v))
			}
		}
		if value == "" {
			continue
		}
		switch name {
		case "author", "keywords", "description":
			fields[name] = value
		case "article:modified_time", "last-modified", "dcterms.modified":
			fields["updated"] = value
		case "article:tag":
			fields["tags"] = value
		}
	}
	return fields
}

// removeNonContent drops elements that never hold body text.
func removeNonContent(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = navTag.ReplaceAllString(content, "")
	return htmlComments.ReplaceAllString(content, "")
}

// stripHTML removes HTML tags and extracts readable text content.
func stripHTML(content string) string {
	// Add newlines around block elements for readability
	content = openBlockElements.ReplaceAllString(content, "\n")
	content = blockElements.ReplaceAllString(content, "\n")

	// Convert <br> and <hr> to newlines
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n")

	// Strip all remaining HTML tags
	content = allTags.ReplaceAllString(content, "")

	// Decode HTML entities
	content = html.UnescapeString(content)

	// Collapse multiple spaces (but preserve newlines)
	content = multiSpaces.ReplaceAllString(content, " ")

	// Trim each line and remove empty lines
	lines := strings.Split(content, "\n")
	result := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return strings.Join(result, "\n")
}
