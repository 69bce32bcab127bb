package chunker

import (
	"regexp"
	"strings"
	"unicode"

	sentenceseg "github.com/clipperhouse/uax29/v2/sentences"
)

// Span is a half-open byte range.
type Span struct {
	Start int
	End   int
}

// SentenceSplitter segments text into sentences.
// The returned spans are contiguous and cover the whole text.
type SentenceSplitter interface {
	Split(text string) []Span
}

// sentenceEnd matches terminal punctuation with any closing quotes or
// brackets and the following whitespace, or a paragraph break.
var sentenceEnd = regexp.MustCompile(`[.!?…。！？]+["'”’)\]]*\s+|\n[ \t]*\n\s*`)

// defaultAbbreviations are lower-case words that end with a period
// without ending a sentence.
var defaultAbbreviations = []string{
	"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st", "vs", "etc",
	"e.g", "i.e", "cf", "fig", "vol", "approx", "inc", "ltd", "co",
}

// abbreviations is a set of lower-case words that do not end a sentence.
type abbreviations map[string]bool

func newAbbreviations(list []string) abbreviations {
	if len(list) == 0 {
		list = defaultAbbreviations
	}
	m := make(abbreviations, len(list))
	for _, a := range list {
		m[strings.ToLower(strings.TrimSuffix(a, "."))] = true
	}
	return m
}

// covers reports whether the word right before a period is an
// abbreviation or a single initial such as "J." in "J. Smith".
func (a abbreviations) covers(before string) bool {
	i := strings.LastIndexAny(before, " \t\n(")
	word := strings.ToLower(before[i+1:])
	if a[word] {
		return true
	}
	return len(word) == 1 && word[0] >= 'a' && word[0] <= 'z'
}

// UnicodeSplitter segments on Unicode sentence boundaries (UAX #29), which
// handle scripts and punctuation the regex does not, such as "。" with no
// following space. A boundary right after a known abbreviation is dropped.
type UnicodeSplitter struct {
	abbrevs abbreviations
}

// NewUnicodeSplitter returns the default splitter. With no arguments an
// English abbreviation list is used.
func NewUnicodeSplitter(abbrevs ...string) *UnicodeSplitter {
	return &UnicodeSplitter{abbrevs: newAbbreviations(abbrevs)}
}

// Split returns sentence spans covering text.
func (u *UnicodeSplitter) Split(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	start, end := 0, 0
	seg := sentenceseg.FromString(text)
	for seg.Next() {
		end += len(seg.Value())
		if end < len(text) && u.endsInAbbreviation(text[start:end]) {
			continue
		}
		spans = append(spans, Span{Start: start, End: end})
		start = end
	}
	if start < len(text) {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}

func (u *UnicodeSplitter) endsInAbbreviation(sentence string) bool {
	trimmed := strings.TrimRightFunc(sentence, unicode.IsSpace)
	if !strings.HasSuffix(trimmed, ".") {
		return false
	}
	return u.abbrevs.covers(trimmed[:len(trimmed)-1])
}

// RegexSplitter splits on terminal punctuation, skipping known abbreviations.
// It is the fallback for callers that want boundaries without Unicode
// segmentation rules.
type RegexSplitter struct {
	abbrevs abbreviations
}

// NewRegexSplitter returns a splitter that ignores periods after the given
// abbreviations. With no arguments an English default list is used.
func NewRegexSplitter(abbrevs ...string) *RegexSplitter {
	return &RegexSplitter{abbrevs: newAbbreviations(abbrevs)}
}

// Split returns sentence spans covering text.
func (r *RegexSplitter) Split(text string) []Span {
	if text == "" {
		return nil
	}
	var spans []Span
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if text[m[0]] == '.' && r.abbrevs.covers(text[start:m[0]]) {
			continue
		}
		spans = append(spans, Span{Start: start, End: m[1]})
		start = m[1]
	}
	if start < len(text) {
		spans = append(spans, Span{Start: start, End: len(text)})
	}
	return spans
}
