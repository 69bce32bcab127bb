package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrUnsupportedType", ErrUnsupportedType},
		{"ErrDimensionMismatch", ErrDimensionMismatch},
		{"ErrClosed", ErrClosed},
		{"ErrSessionNotFound", ErrSessionNotFound},
		{"ErrEmbeddingUnavailable", ErrEmbeddingUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestImportError_Unwrap(t *testing.T) {
	cause := errors.New("bad zip")
	err := fmt.Errorf("batch: %w", &ImportError{Path: "/a.docx", Format: "docx", Err: cause})

	var ie *ImportError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "/a.docx", ie.Path)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "(docx)")
}

func TestSizeLimitError_Message(t *testing.T) {
	err := &SizeLimitError{Path: "/big.pdf", Size: 200, Limit: 100}
	assert.Equal(t, "/big.pdf: size 200 exceeds limit 100", err.Error())
}

func TestEmbeddingProviderError_Unwrap(t *testing.T) {
	cause := errors.New("503")
	err := &EmbeddingProviderError{Provider: "openai", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openai")
}

func TestIndexCorruptionError_Unwrap(t *testing.T) {
	cause := errors.New("short read")
	err := &IndexCorruptionError{Index: "vector", Path: "/data/vectors.bin", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "vector index at /data/vectors.bin")
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"k": "failed on 'max' tag", "alpha": "failed on 'lte' tag"}}

	t.Run("sorted message", func(t *testing.T) {
		assert.Equal(t, "validation failed: alpha: failed on 'lte' tag, k: failed on 'max' tag", err.Error())
	})

	t.Run("matches invalid input", func(t *testing.T) {
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("IsValidation", func(t *testing.T) {
		assert.True(t, IsValidation(fmt.Errorf("search: %w", err)))
		assert.False(t, IsValidation(ErrNotFound))
	})

	t.Run("single field constructor", func(t *testing.T) {
		single := NewValidationError("query", "required")
		assert.Equal(t, "required", single.Fields["query"])
	})
}
