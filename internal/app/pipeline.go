package app

import (
	"fmt"

	"github.com/custodia-labs/sercha-kb/internal/config"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/importers"
	"github.com/custodia-labs/sercha-kb/internal/importers/docx"
	"github.com/custodia-labs/sercha-kb/internal/importers/html"
	"github.com/custodia-labs/sercha-kb/internal/importers/markdown"
	"github.com/custodia-labs/sercha-kb/internal/importers/pdf"
	"github.com/custodia-labs/sercha-kb/internal/importers/plaintext"
	"github.com/custodia-labs/sercha-kb/internal/importers/structured"
	"github.com/custodia-labs/sercha-kb/internal/logger"
	"github.com/custodia-labs/sercha-kb/internal/postprocessors/chunker"
)

// TiktokenEncoding is the BPE encoding used by the tiktoken tokenizer.
const TiktokenEncoding = "cl100k_base"

// NewRegistry returns a registry holding every built-in importer.
func NewRegistry() *importers.Registry {
	return importers.NewRegistry(
		markdown.New(),
		plaintext.New(),
		html.New(),
		pdf.New(),
		docx.New(),
		structured.New(),
	)
}

// NewChunker creates the chunker for the configured tokenizer.
// When the tiktoken encoding cannot be loaded the word tokenizer is used.
func NewChunker(cfg config.ChunkingSettings) (*chunker.Processor, error) {
	if cfg.Overlap >= cfg.Tokens {
		return nil, fmt.Errorf("%w: chunk overlap %d must be below chunk size %d",
			domain.ErrInvalidInput, cfg.Overlap, cfg.Tokens)
	}

	var tokenizer chunker.Tokenizer = chunker.NewWordTokenizer()
	if domain.TokenizerKind(cfg.Tokenizer) == domain.TokenizerTiktoken {
		tt, err := chunker.NewTiktokenTokenizer(TiktokenEncoding)
		if err != nil {
			logger.Warn("Falling back to word tokenizer: %v", err)
		} else {
			tokenizer = tt
		}
	}

	return chunker.New(
		chunker.WithChunkTokens(cfg.Tokens),
		chunker.WithOverlap(cfg.Overlap),
		chunker.WithTokenizer(tokenizer),
	), nil
}
