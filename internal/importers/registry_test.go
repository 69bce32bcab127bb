package importers

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// mockImporter is a test importer with configurable behaviour.
type mockImporter struct {
	name    string
	exts    []string
	results []domain.ImportResult
	err     error
	panics  bool
	calls   int
}

func (m *mockImporter) Name() string         { return m.name }
func (m *mockImporter) Extensions() []string { return m.exts }

func (m *mockImporter) Import(_ context.Context, _ string, _ []byte) ([]domain.ImportResult, error) {
	m.calls++
	if m.panics {
		panic("boom")
	}
	return m.results, m.err
}

func textResult(text string) domain.ImportResult {
	return domain.ImportResult{Sections: []domain.Section{{Text: text}}}
}

func TestRegistry_Supports(t *testing.T) {
	r := NewRegistry(&mockImporter{name: "md", exts: []string{".md", ".MARKDOWN"}})

	assert.True(t, r.Supports("/a/b.md"))
	assert.True(t, r.Supports("/a/B.MD"))
	assert.True(t, r.Supports("/a/b.markdown"))
	assert.False(t, r.Supports("/a/b.exe"))
	assert.False(t, r.Supports("/a/noext"))
	assert.Equal(t, []string{".markdown", ".md"}, r.Extensions())
	assert.Equal(t, "md", r.Format("/a/b.markdown"))
	assert.Equal(t, "", r.Format("/a/b.exe"))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	first := &mockImporter{name: "first", exts: []string{".txt"}, results: []domain.ImportResult{textResult("a")}}
	second := &mockImporter{name: "second", exts: []string{".txt"}, results: []domain.ImportResult{textResult("b")}}
	r := NewRegistry(first, second)

	results, err := r.Import(context.Background(), "/x.txt", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Meta.ContentType)
	assert.Equal(t, 0, first.calls)
}

func TestRegistry_Import(t *testing.T) {
	t.Run("unsupported extension is skipped silently", func(t *testing.T) {
		r := NewRegistry()
		results, err := r.Import(context.Background(), "/x.bin", []byte("data"))
		assert.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("importer error becomes ImportError", func(t *testing.T) {
		r := NewRegistry(&mockImporter{name: "text", exts: []string{".txt"}, err: errors.New("bad bytes")})
		_, err := r.Import(context.Background(), "/x.txt", nil)

		var ie *domain.ImportError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "/x.txt", ie.Path)
		assert.Equal(t, "text", ie.Format)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		r := NewRegistry(&mockImporter{name: "text", exts: []string{".txt"}, panics: true})
		results, err := r.Import(context.Background(), "/x.txt", nil)

		var ie *domain.ImportError
		require.ErrorAs(t, err, &ie)
		assert.Contains(t, ie.Error(), "boom")
		assert.Nil(t, results)
	})

	t.Run("cancelled context is returned unwrapped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := NewRegistry(&mockImporter{name: "text", exts: []string{".txt"}, err: context.Canceled})
		_, err := r.Import(ctx, "/x.txt", nil)

		var ie *domain.ImportError
		assert.False(t, errors.As(err, &ie))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty results are dropped", func(t *testing.T) {
		r := NewRegistry(&mockImporter{name: "text", exts: []string{".txt"}, results: []domain.ImportResult{
			textResult("   "),
			{Sections: []domain.Section{{Page: 2, NeedsOCR: true, Partial: true}}},
		}})
		results, err := r.Import(context.Background(), "/x.txt", nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Partial())
	})

	t.Run("defaults are filled and hash ignores the file name", func(t *testing.T) {
		imp := &mockImporter{name: "text", exts: []string{".txt"}}
		r := NewRegistry(imp)

		imp.results = []domain.ImportResult{textResult("same body")}
		a, err := r.Import(context.Background(), "/kb/first_note.txt", nil)
		require.NoError(t, err)

		imp.results = []domain.ImportResult{textResult("same body")}
		b, err := r.Import(context.Background(), "/kb/other-note.txt", nil)
		require.NoError(t, err)

		require.Len(t, a, 1)
		require.Len(t, b, 1)
		assert.Equal(t, "first note", a[0].Meta.Title)
		assert.Equal(t, "other note", b[0].Meta.Title)
		assert.Equal(t, domain.SourceFile, a[0].Source.Kind)
		assert.Equal(t, "/kb/first_note.txt", a[0].Source.Origin)
		assert.NotEmpty(t, a[0].ContentHash)
		assert.Equal(t, a[0].ContentHash, b[0].ContentHash)
	})

	t.Run("unhashable metadata becomes ImportError", func(t *testing.T) {
		nan := math.NaN()
		bad := textResult("body")
		bad.Meta.Confidence = &nan
		r := NewRegistry(&mockImporter{name: "text", exts: []string{".txt"}, results: []domain.ImportResult{bad}})
		results, err := r.Import(context.Background(), "/x.txt", nil)

		var ie *domain.ImportError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, "text", ie.Format)
		assert.Contains(t, ie.Error(), "hashing")
		assert.Nil(t, results)
	})

	t.Run("invalid utf8 is repaired", func(t *testing.T) {
		r := NewRegistry(&mockImporter{name: "text", exts: []string{".txt"}, results: []domain.ImportResult{
			textResult("ok \xff done"),
		}})
		results, err := r.Import(context.Background(), "/x.txt", nil)
		require.NoError(t, err)
		assert.Equal(t, "ok � done", results[0].Sections[0].Text)
	})
}

func TestRegistry_ImportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	imp := &mockImporter{name: "text", exts: []string{".txt"}, results: []domain.ImportResult{textResult("hello")}}
	r := NewRegistry(imp)

	results, err := r.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = r.ImportFile(context.Background(), filepath.Join(dir, "missing.txt"))
	var ie *domain.ImportError
	assert.ErrorAs(t, err, &ie)

	results, err = r.ImportFile(context.Background(), filepath.Join(dir, "skip.bin"))
	assert.NoError(t, err)
	assert.Nil(t, results)
}
