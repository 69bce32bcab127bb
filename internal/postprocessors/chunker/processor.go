// Package chunker provides a token-bounded, sentence-preserving chunker.
//
// Sections are ordered and joined into the document text with a blank
// line between them. Each section is tokenized and split into sentences;
// sentences are packed greedily into chunks of at most chunkTokens tokens.
// Consecutive chunks of one section share exactly overlapTokens tokens.
// A sentence that cannot fit is cut at a token boundary and the chunk is
// marked ForcedSplit. Chunk offsets index the joined text, and together
// the chunk ranges cover it without gaps.
package chunker

import (
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// DefaultChunkTokens is the default maximum tokens per chunk.
const DefaultChunkTokens = 256

// DefaultOverlapTokens is the default number of tokens shared by adjacent chunks.
const DefaultOverlapTokens = 48

// SectionSeparator joins section texts into the document text.
const SectionSeparator = "\n\n"

// Ensure Processor implements the interface.
var _ driven.Chunker = (*Processor)(nil)

// Processor splits ordered sections into overlapping chunks.
type Processor struct {
	chunkTokens int
	overlap     int
	tokenizer   Tokenizer
	splitter    SentenceSplitter
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkTokens sets the maximum tokens per chunk.
func WithChunkTokens(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.chunkTokens = n
		}
	}
}

// WithOverlap sets the overlap between chunks in tokens.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// WithTokenizer sets the tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(p *Processor) {
		if t != nil {
			p.tokenizer = t
		}
	}
}

// WithSentenceSplitter sets the sentence splitter.
func WithSentenceSplitter(s SentenceSplitter) Option {
	return func(p *Processor) {
		if s != nil {
			p.splitter = s
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkTokens: DefaultChunkTokens,
		overlap:     DefaultOverlapTokens,
		tokenizer:   NewWordTokenizer(),
		splitter:    NewUnicodeSplitter(),
	}

	for _, opt := range opts {
		opt(p)
	}

	// Overlap must leave room for progress.
	if p.overlap >= p.chunkTokens {
		p.overlap = p.chunkTokens / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// ChunkTokens returns the configured maximum tokens per chunk.
func (p *Processor) ChunkTokens() int { return p.chunkTokens }

// Overlap returns the configured overlap in tokens.
func (p *Processor) Overlap() int { return p.overlap }

// Chunk joins the sections and splits the result into chunks.
func (p *Processor) Chunk(sections []domain.Section) (*driven.ChunkResult, error) {
	ordered := make([]domain.Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var b strings.Builder
	spans := make([]Span, len(ordered))
	for i, s := range ordered {
		start := b.Len()
		b.WriteString(s.Text)
		if i < len(ordered)-1 {
			b.WriteString(SectionSeparator)
		}
		spans[i] = Span{Start: start, End: b.Len()}
	}
	text := b.String()

	var chunks []domain.Chunk
	pending := -1 // start of text not yet owned by any chunk
	for i, s := range ordered {
		span := spans[i]
		sectionChunks := p.chunkSection(s, span)
		if len(sectionChunks) == 0 {
			if len(chunks) > 0 {
				chunks[len(chunks)-1].OffsetEnd = span.End
			} else if pending < 0 {
				pending = span.Start
			}
			continue
		}
		if pending >= 0 {
			sectionChunks[0].OffsetStart = pending
			pending = -1
		}
		chunks = append(chunks, sectionChunks...)
	}

	if len(chunks) == 0 && strings.TrimSpace(text) != "" {
		// No countable tokens, e.g. punctuation only.
		chunks = append(chunks, domain.Chunk{OffsetStart: 0, OffsetEnd: len(text)})
		if len(ordered) > 0 {
			chunks[0].Heading = ordered[0].Heading
			chunks[0].Page = ordered[0].Page
		}
	}

	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].Text = text[chunks[i].OffsetStart:chunks[i].OffsetEnd]
	}

	return &driven.ChunkResult{Text: text, Chunks: chunks}, nil
}

// sentenceRange is a sentence as a half-open token index range.
type sentenceRange struct {
	start int
	end   int
}

// chunkSection packs one section. Offsets are relative to the joined text.
func (p *Processor) chunkSection(s domain.Section, span Span) []domain.Chunk {
	tokens := p.tokenizer.Tokenize(s.Text)
	if len(tokens) == 0 {
		return nil
	}
	sentences := p.sentenceRanges(s.Text, tokens)

	var out []domain.Chunk
	flush := func(from, to int, forced bool) {
		c := domain.Chunk{
			Heading:     s.Heading,
			Page:        s.Page,
			TokenCount:  to - from,
			OffsetStart: span.Start + tokens[from].Start,
			Partial:     s.Partial || s.NeedsOCR,
			ForcedSplit: forced,
		}
		if len(out) == 0 {
			c.OffsetStart = span.Start
		}
		if to < len(tokens) {
			c.OffsetEnd = span.Start + tokens[to].Start
		} else {
			c.OffsetEnd = span.End
		}
		out = append(out, c)
	}

	maxTokens, overlap := p.chunkTokens, p.overlap
	cs, ce := 0, 0
	for _, sent := range sentences {
		if sent.end-cs <= maxTokens {
			ce = sent.end
			continue
		}
		// The sentence does not fit in the current buffer.
		if ce-cs > overlap {
			flush(cs, ce, false)
			cs = ce - overlap
		}
		for sent.end-cs > maxTokens {
			flush(cs, cs+maxTokens, true)
			cs += maxTokens - overlap
		}
		ce = sent.end
	}
	if ce > cs {
		flush(cs, ce, false)
	}
	return out
}

// sentenceRanges maps sentence spans onto token indices, dropping
// sentences that contain no tokens.
func (p *Processor) sentenceRanges(text string, tokens []Token) []sentenceRange {
	spans := p.splitter.Split(text)
	ranges := make([]sentenceRange, 0, len(spans))
	ti := 0
	for _, sp := range spans {
		start := ti
		for ti < len(tokens) && tokens[ti].Start < sp.End {
			ti++
		}
		if ti > start {
			ranges = append(ranges, sentenceRange{start: start, end: ti})
		}
	}
	if ti < len(tokens) {
		ranges = append(ranges, sentenceRange{start: ti, end: len(tokens)})
	}
	return ranges
}
