package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// documentRow is the documents table layout.
type documentRow struct {
	ID           string          `db:"id"`
	Path         string          `db:"path"`
	Ordinal      int             `db:"ordinal"`
	Title        string          `db:"title"`
	ContentType  string          `db:"content_type"`
	ContentHash  string          `db:"content_hash"`
	Slug         string          `db:"slug"`
	RouteHint    string          `db:"route_hint"`
	Author       string          `db:"author"`
	Confidence   sql.NullFloat64 `db:"confidence"`
	Partial      bool            `db:"partial"`
	Text         string          `db:"text"`
	SourceKind   string          `db:"source_kind"`
	SourceOrigin string          `db:"source_origin"`
	SourceGrade  string          `db:"source_grade"`
	Tags         string          `db:"tags"`
	Meta         string          `db:"meta"`
	Sections     string          `db:"sections"`
	UpdatedTS    sql.NullInt64   `db:"updated_ts"`
	CreatedAt    int64           `db:"created_at"`
	UpdatedAt    int64           `db:"updated_at"`
}

const documentColumns = `id, path, ordinal, title, content_type, content_hash, slug, route_hint,
	author, confidence, partial, text, source_kind, source_origin, source_grade,
	tags, meta, sections, updated_ts, created_at, updated_at`

const chunkColumns = `id, document_id, document_path, ordinal, heading, text, token_count,
	offset_start, offset_end, page, partial, forced_split`

func toRow(doc *domain.Document) (*documentRow, error) {
	tags, err := json.Marshal(nonNil(doc.Tags))
	if err != nil {
		return nil, fmt.Errorf("marshalling tags: %w", err)
	}
	meta := []byte("{}")
	if len(doc.Meta) > 0 {
		if meta, err = json.Marshal(doc.Meta); err != nil {
			return nil, fmt.Errorf("marshalling meta: %w", err)
		}
	}
	sections, err := json.Marshal(doc.Sections)
	if err != nil {
		return nil, fmt.Errorf("marshalling sections: %w", err)
	}

	row := &documentRow{
		ID:           doc.ID,
		Path:         doc.Path,
		Ordinal:      doc.Ordinal,
		Title:        doc.Title,
		ContentType:  doc.ContentType,
		ContentHash:  doc.ContentHash,
		Slug:         doc.Slug,
		RouteHint:    doc.RouteHint,
		Author:       doc.Author,
		Partial:      doc.Partial,
		Text:         doc.Text,
		SourceKind:   string(doc.Source.Kind),
		SourceOrigin: doc.Source.Origin,
		SourceGrade:  doc.Source.Grade,
		Tags:         string(tags),
		Meta:         string(meta),
		Sections:     string(sections),
		CreatedAt:    doc.CreatedAt.UnixNano(),
		UpdatedAt:    doc.UpdatedAt.UnixNano(),
	}
	if doc.Confidence != nil {
		row.Confidence = sql.NullFloat64{Float64: *doc.Confidence, Valid: true}
	}
	if doc.Updated != nil {
		row.UpdatedTS = sql.NullInt64{Int64: doc.Updated.UnixNano(), Valid: true}
	}
	return row, nil
}

func (r *documentRow) toDocument() (*domain.Document, error) {
	doc := &domain.Document{
		ID:          r.ID,
		Path:        r.Path,
		Ordinal:     r.Ordinal,
		Title:       r.Title,
		ContentType: r.ContentType,
		ContentHash: r.ContentHash,
		Slug:        r.Slug,
		RouteHint:   r.RouteHint,
		Author:      r.Author,
		Partial:     r.Partial,
		Text:        r.Text,
		Source: domain.Source{
			Kind:   domain.SourceKind(r.SourceKind),
			Origin: r.SourceOrigin,
			Grade:  r.SourceGrade,
		},
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
	if r.Confidence.Valid {
		c := r.Confidence.Float64
		doc.Confidence = &c
	}
	if r.UpdatedTS.Valid {
		t := time.Unix(0, r.UpdatedTS.Int64).UTC()
		doc.Updated = &t
	}
	if err := json.Unmarshal([]byte(r.Tags), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags of %s: %w", r.ID, err)
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}
	if r.Meta != "" && r.Meta != "{}" {
		if err := json.Unmarshal([]byte(r.Meta), &doc.Meta); err != nil {
			return nil, fmt.Errorf("unmarshalling meta of %s: %w", r.ID, err)
		}
	}
	if r.Sections != "" && r.Sections != "null" {
		if err := json.Unmarshal([]byte(r.Sections), &doc.Sections); err != nil {
			return nil, fmt.Errorf("unmarshalling sections of %s: %w", r.ID, err)
		}
	}
	return doc, nil
}

// SaveDocument stores a document and replaces its chunk set atomically.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document, chunks []domain.Chunk) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}
	row, err := toRow(doc)
	if err != nil {
		return err
	}

	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_tags WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("clearing tags: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (:id, :path, :ordinal, :title, :content_type, :content_hash, :slug, :route_hint,
			:author, :confidence, :partial, :text, :source_kind, :source_origin, :source_grade,
			:tags, :meta, :sections, :updated_ts, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			ordinal = excluded.ordinal,
			title = excluded.title,
			content_type = excluded.content_type,
			content_hash = excluded.content_hash,
			slug = excluded.slug,
			route_hint = excluded.route_hint,
			author = excluded.author,
			confidence = excluded.confidence,
			partial = excluded.partial,
			text = excluded.text,
			source_kind = excluded.source_kind,
			source_origin = excluded.source_origin,
			source_grade = excluded.source_grade,
			tags = excluded.tags,
			meta = excluded.meta,
			sections = excluded.sections,
			updated_ts = excluded.updated_ts,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	for _, tag := range doc.Tags {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO document_tags (document_id, tag) VALUES (?, ?)", doc.ID, tag); err != nil {
			return fmt.Errorf("saving tag: %w", err)
		}
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO chunks (`+chunkColumns+`)
			VALUES (:id, :document_id, :document_path, :ordinal, :heading, :text, :token_count,
				:offset_start, :offset_end, :page, :partial, :forced_split)
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer stmt.Close()

		for i := range chunks {
			if chunks[i].DocumentID != doc.ID {
				return fmt.Errorf("chunk %s belongs to %s, not %s: %w",
					chunks[i].ID, chunks[i].DocumentID, doc.ID, domain.ErrInvalidInput)
			}
			if _, err := stmt.ExecContext(ctx, &chunks[i]); err != nil {
				return fmt.Errorf("saving chunk: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var row documentRow
	err := s.store.db.GetContext(ctx, &row, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return row.toDocument()
}

// GetChunk retrieves a specific chunk by ID.
func (s *documentStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	var chunk domain.Chunk
	err := s.store.db.GetContext(ctx, &chunk, "SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting chunk: %w", err)
	}
	return &chunk, nil
}

// GetChunks retrieves all chunks for a document ordered by ordinal.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	err := s.store.db.SelectContext(ctx, &chunks,
		"SELECT "+chunkColumns+" FROM chunks WHERE document_id = ? ORDER BY ordinal", documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return chunks, nil
}

// DocumentsByPath returns the documents imported from a file.
func (s *documentStore) DocumentsByPath(ctx context.Context, path string) ([]domain.Document, error) {
	var rows []documentRow
	err := s.store.db.SelectContext(ctx, &rows,
		"SELECT "+documentColumns+" FROM documents WHERE path = ? ORDER BY ordinal", path)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	docs := make([]domain.Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// FindByContentHash returns the document with the given hash.
func (s *documentStore) FindByContentHash(ctx context.Context, hash string) (*domain.Document, error) {
	var row documentRow
	err := s.store.db.GetContext(ctx, &row,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = ? ORDER BY created_at LIMIT 1", hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding document by hash: %w", err)
	}
	return row.toDocument()
}

// DeleteByPath removes every document imported from a file, with their
// chunks and tags, and returns the removed chunk ids.
func (s *documentStore) DeleteByPath(ctx context.Context, path string) ([]string, error) {
	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var ids []string
	err = tx.SelectContext(ctx, &ids, `
		SELECT c.id FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.path = ?
		ORDER BY c.document_id, c.ordinal
	`, path)
	if err != nil {
		return nil, fmt.Errorf("querying chunk ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path); err != nil {
		return nil, fmt.Errorf("deleting documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return ids, nil
}

// FilterChunkIDs returns the ids of chunks whose documents match every filter.
func (s *documentStore) FilterChunkIDs(ctx context.Context, f domain.SearchFilters) (driven.ChunkFilter, error) {
	if f.IsZero() {
		return nil, nil
	}

	var (
		where []string
		args  []any
	)
	if len(f.ContentTypes) > 0 {
		types := make([]string, len(f.ContentTypes))
		for i, t := range f.ContentTypes {
			types[i] = strings.ToLower(strings.TrimSpace(t))
		}
		where = append(where, "LOWER(d.content_type) IN (?)")
		args = append(args, types)
	}
	if f.Author != "" {
		where = append(where, "d.author = ? COLLATE NOCASE")
		args = append(args, strings.TrimSpace(f.Author))
	}
	if f.Slug != "" {
		where = append(where, "d.slug = ?")
		args = append(args, strings.TrimSpace(f.Slug))
	}
	for _, tag := range f.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM document_tags t WHERE t.document_id = d.id AND t.tag = ?)")
		args = append(args, strings.ToLower(strings.TrimSpace(tag)))
	}
	if f.UpdatedAfter != nil {
		where = append(where, "COALESCE(d.updated_ts, d.updated_at) >= ?")
		args = append(args, f.UpdatedAfter.UnixNano())
	}
	if f.UpdatedBefore != nil {
		where = append(where, "COALESCE(d.updated_ts, d.updated_at) <= ?")
		args = append(args, f.UpdatedBefore.UnixNano())
	}

	query, args, err := sqlx.In(`
		SELECT c.id FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("building filter query: %w", err)
	}

	var ids []string
	if err := s.store.db.SelectContext(ctx, &ids, s.store.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("filtering chunks: %w", err)
	}
	filter := make(driven.ChunkFilter, len(ids))
	for _, id := range ids {
		filter[id] = struct{}{}
	}
	return filter, nil
}

// Counts returns the number of documents and chunks stored.
func (s *documentStore) Counts(ctx context.Context) (int, int, error) {
	var docs, chunks int
	if err := s.store.db.GetContext(ctx, &docs, "SELECT COUNT(*) FROM documents"); err != nil {
		return 0, 0, fmt.Errorf("counting documents: %w", err)
	}
	if err := s.store.db.GetContext(ctx, &chunks, "SELECT COUNT(*) FROM chunks"); err != nil {
		return 0, 0, fmt.Errorf("counting chunks: %w", err)
	}
	return docs, chunks, nil
}

// Close is a no-op; the owning Store closes the database.
func (s *documentStore) Close() error {
	return nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	out := append([]string(nil), tags...)
	sort.Strings(out)
	return out
}
