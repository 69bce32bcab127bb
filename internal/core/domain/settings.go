package domain

// EmbeddingProvider identifies the embedding backend.
type EmbeddingProvider string

// Available embedding providers.
const (
	// EmbeddingProviderLocal is the deterministic on-device model.
	EmbeddingProviderLocal EmbeddingProvider = "local"

	// EmbeddingProviderOpenAI is the OpenAI cloud API.
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"

	// EmbeddingProviderOllama is a local Ollama instance.
	EmbeddingProviderOllama EmbeddingProvider = "ollama"
)

// IsValid returns true if the provider is recognised.
func (p EmbeddingProvider) IsValid() bool {
	switch p {
	case EmbeddingProviderLocal, EmbeddingProviderOpenAI, EmbeddingProviderOllama:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p EmbeddingProvider) RequiresAPIKey() bool {
	return p == EmbeddingProviderOpenAI
}

// IsRemote returns true if this provider makes network calls.
func (p EmbeddingProvider) IsRemote() bool {
	return p == EmbeddingProviderOpenAI || p == EmbeddingProviderOllama
}

// String returns the string representation.
func (p EmbeddingProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p EmbeddingProvider) Description() string {
	switch p {
	case EmbeddingProviderLocal:
		return "Local (on-device, no network)"
	case EmbeddingProviderOpenAI:
		return "OpenAI (cloud)"
	case EmbeddingProviderOllama:
		return "Ollama (local server)"
	default:
		return "Unknown"
	}
}

// TokenizerKind selects how the chunker counts tokens.
type TokenizerKind string

// Available tokenizers.
const (
	// TokenizerWords counts Unicode word segments.
	TokenizerWords TokenizerKind = "words"

	// TokenizerTiktoken counts cl100k_base BPE tokens.
	TokenizerTiktoken TokenizerKind = "tiktoken"
)

// IsValid returns true if the tokenizer is recognised.
func (k TokenizerKind) IsValid() bool {
	return k == TokenizerWords || k == TokenizerTiktoken
}
