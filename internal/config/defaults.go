package config

import (
	"os"
	"path/filepath"
	"time"
)

// Configuration keys.
const (
	KeyDataDir       = "data_dir"
	KeyRoots         = "roots"
	KeyStorage       = "storage"
	KeyMaxFileSizeMB = "max_file_size_mb"
	KeyWorkers       = "workers"
	KeyFileTimeout   = "file_timeout"
	KeyAudit         = "audit"

	KeyChunkTokens    = "chunking.tokens"
	KeyChunkOverlap   = "chunking.overlap"
	KeyChunkTokenizer = "chunking.tokenizer"

	KeyEmbeddingProvider    = "embedding.provider"
	KeyEmbeddingModel       = "embedding.model"
	KeyEmbeddingBaseURL     = "embedding.base_url"
	KeyEmbeddingAPIKey      = "embedding.api_key"
	KeyEmbeddingDimensions  = "embedding.dimensions"
	KeyEmbeddingBatchSize   = "embedding.batch_size"
	KeyEmbeddingRateLimit   = "embedding.rate_limit"
	KeyEmbeddingBurst       = "embedding.burst"
	KeyEmbeddingMaxRetries  = "embedding.max_retries"
	KeyEmbeddingTimeout     = "embedding.timeout"
	KeyEmbeddingCacheSize   = "embedding.cache_size"
	KeyEmbeddingConcurrency = "embedding.max_concurrency"

	KeySearchK            = "search.k"
	KeySearchAlpha        = "search.alpha"
	KeySearchSnippetChars = "search.snippet_chars"
	KeySearchCandidates   = "search.candidates"

	KeyWatchDebounce  = "watch.debounce"
	KeyScheduleRescan = "schedule.rescan_interval"

	KeyServerHost = "server.host"
	KeyServerPort = "server.port"
)

// Defaults returns every configuration key with its default value.
// Durations are strings so the map can be written as TOML unchanged.
func Defaults() map[string]any {
	return map[string]any{
		KeyDataDir:       DefaultDataDir(),
		KeyRoots:         []string{},
		KeyStorage:       StorageSQLite,
		KeyMaxFileSizeMB: 25,
		KeyWorkers:       4,
		KeyFileTimeout:   (2 * time.Minute).String(),
		KeyAudit:         true,

		KeyChunkTokens:    512,
		KeyChunkOverlap:   64,
		KeyChunkTokenizer: "words",

		KeyEmbeddingProvider:    "local",
		KeyEmbeddingModel:       "",
		KeyEmbeddingBaseURL:     "",
		KeyEmbeddingAPIKey:      "",
		KeyEmbeddingDimensions:  0,
		KeyEmbeddingBatchSize:   64,
		KeyEmbeddingRateLimit:   5.0,
		KeyEmbeddingBurst:       5,
		KeyEmbeddingMaxRetries:  3,
		KeyEmbeddingTimeout:     (30 * time.Second).String(),
		KeyEmbeddingCacheSize:   4096,
		KeyEmbeddingConcurrency: 2,

		KeySearchK:            10,
		KeySearchAlpha:        0.5,
		KeySearchSnippetChars: 240,
		KeySearchCandidates:   100,

		KeyWatchDebounce:  (300 * time.Millisecond).String(),
		KeyScheduleRescan: (0 * time.Second).String(),

		KeyServerHost: "127.0.0.1",
		KeyServerPort: 7340,
	}
}

// DefaultDataDir is ~/.sercha-kb, or .sercha-kb when there is no home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sercha-kb"
	}
	return filepath.Join(home, ".sercha-kb")
}
