package chunker

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/segment"
	"github.com/pkoukk/tiktoken-go"
)

// Token is a token's byte span within the tokenized text.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits text into tokens with byte offsets.
// Tokens are ordered, non-overlapping, and never split a UTF-8 sequence.
type Tokenizer interface {
	Name() string
	Tokenize(text string) []Token
}

// WordTokenizer counts Unicode word segments (UAX #29).
// Whitespace and punctuation are not tokens.
type WordTokenizer struct{}

// NewWordTokenizer returns a word tokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{}
}

// Name returns the tokenizer name.
func (WordTokenizer) Name() string { return "words" }

// Tokenize returns the word segments of text.
func (WordTokenizer) Tokenize(text string) []Token {
	if text == "" {
		return nil
	}
	seg := segment.NewWordSegmenterDirect([]byte(text))
	tokens := make([]Token, 0, len(text)/5)
	pos := 0
	for seg.Segment() {
		n := len(seg.Bytes())
		if seg.Type() != segment.None {
			tokens = append(tokens, Token{Start: pos, End: pos + n})
		}
		pos += n
	}
	return tokens
}

// TiktokenTokenizer counts BPE tokens with a tiktoken encoding.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	fallback Tokenizer
}

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

// NewTiktokenTokenizer loads the named encoding (e.g. "cl100k_base").
// Loading may download the BPE ranks on first use.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	encMu.Lock()
	defer encMu.Unlock()
	enc, ok := encCache[encoding]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
		}
		encCache[encoding] = enc
	}
	return &TiktokenTokenizer{encoding: encoding, enc: enc, fallback: NewWordTokenizer()}, nil
}

// Name returns the tokenizer name.
func (t *TiktokenTokenizer) Name() string { return "tiktoken:" + t.encoding }

// Tokenize returns BPE token spans. Pieces ending inside a UTF-8 sequence
// are merged with the next piece, and whitespace-only pieces are dropped.
func (t *TiktokenTokenizer) Tokenize(text string) []Token {
	if text == "" {
		return nil
	}
	ids := t.enc.Encode(text, nil, nil)
	tokens := make([]Token, 0, len(ids))
	start, pos := 0, 0
	for _, id := range ids {
		pos += len(t.enc.Decode([]int{id}))
		if pos > len(text) {
			return t.fallback.Tokenize(text)
		}
		if pos < len(text) && !utf8.RuneStart(text[pos]) {
			continue
		}
		piece := text[start:pos]
		if trimmed := strings.TrimLeft(piece, " \t\r\n"); trimmed != "" {
			tokens = append(tokens, Token{Start: start + len(piece) - len(trimmed), End: pos})
		}
		start = pos
	}
	if pos != len(text) {
		return t.fallback.Tokenize(text)
	}
	return tokens
}
