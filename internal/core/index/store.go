// Package index holds the per-course searchable document store. The contract
// is backend-agnostic; this implementation ranks by pgvector cosine
// similarity, normalized so higher is always better.
package index

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/core/errs"
	"github.com/classmate-app/classmate/internal/models"
)

// embedBatchSize bounds one embedding request during upserts.
const embedBatchSize = 16

// Filter narrows a query to one granularity and, optionally, to the parent
// assets or chapters a retrieval stage has already selected.
type Filter struct {
	DocType    models.DocType
	AssetIDs   []string
	ChapterIDs []string
	K          int
}

// Store is one course's index handle.
type Store interface {
	Upsert(ctx context.Context, docs []models.IndexDocument) error
	DeleteByAsset(ctx context.Context, assetID string) error
	PruneAsset(ctx context.Context, assetID string, keep []string) error
	Query(ctx context.Context, text string, f Filter) ([]models.RetrievalHit, error)
}

// PgStore implements Store on the shared Postgres pool, scoped to one course.
type PgStore struct {
	db           *sql.DB
	embedder     core.EmbeddingProvider
	courseID     string
	queryTimeout time.Duration
	embedTimeout time.Duration
}

// Upsert writes documents idempotently by id: re-indexing the same source
// overwrites, never duplicates. Last write wins, so concurrent upserts of one
// id need no cross-asset lock.
func (s *PgStore) Upsert(ctx context.Context, docs []models.IndexDocument) error {
	for start := 0; start < len(docs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = batch[i].Text
		}

		embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
		vecs, err := s.embedder.EmbedTexts(embedCtx, texts)
		cancel()
		if err != nil {
			return &errs.IndexError{CourseID: s.courseID, Err: err}
		}

		if err := s.upsertBatch(ctx, batch, vecs); err != nil {
			return &errs.IndexError{CourseID: s.courseID, Err: err}
		}
	}
	return nil
}

func (s *PgStore) upsertBatch(ctx context.Context, docs []models.IndexDocument, vecs [][]float32) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO index_documents
			(id, course_id, asset_id, chapter_id, doc_type, kind, title, text, start_pos, end_pos, language, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (id) DO UPDATE SET
			chapter_id = EXCLUDED.chapter_id,
			title      = EXCLUDED.title,
			text       = EXCLUDED.text,
			start_pos  = EXCLUDED.start_pos,
			end_pos    = EXCLUDED.end_pos,
			language   = EXCLUDED.language,
			embedding  = EXCLUDED.embedding,
			updated_at = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range docs {
		d := &docs[i]
		vec := pgvector.NewVector(vecs[i])
		if _, err := stmt.ExecContext(ctx,
			d.ID, s.courseID, d.AssetID, d.ChapterID, d.DocType, d.Kind,
			d.Title, d.Text, d.StartPos, d.EndPos, d.Language, vec,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *PgStore) DeleteByAsset(ctx context.Context, assetID string) error {
	const q = `DELETE FROM index_documents WHERE course_id = $1 AND asset_id = $2`
	if _, err := s.db.ExecContext(ctx, q, s.courseID, assetID); err != nil {
		return &errs.IndexError{CourseID: s.courseID, Err: err}
	}
	return nil
}

// PruneAsset drops documents of an asset whose ids are not in keep. Rebuilds
// upsert the fresh set first and prune afterwards, so a failed rebuild leaves
// the previous index readable.
func (s *PgStore) PruneAsset(ctx context.Context, assetID string, keep []string) error {
	const q = `DELETE FROM index_documents WHERE course_id = $1 AND asset_id = $2 AND NOT (id = ANY($3))`
	if _, err := s.db.ExecContext(ctx, q, s.courseID, assetID, keep); err != nil {
		return &errs.IndexError{CourseID: s.courseID, Err: err}
	}
	return nil
}

// Query embeds the text and returns the top-k hits at one granularity,
// optionally scoped to parent assets or chapters. Score is 1 - cosine
// distance; ties break on most recently updated asset.
func (s *PgStore) Query(ctx context.Context, text string, f Filter) ([]models.RetrievalHit, error) {
	if f.K <= 0 {
		return nil, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	vecs, err := s.embedder.EmbedTexts(queryCtx, []string{text})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errs.ErrRetrievalTimeout
		}
		return nil, &errs.IndexError{CourseID: s.courseID, Err: err}
	}
	qvec := pgvector.NewVector(vecs[0])

	q := `
		SELECT d.id, d.doc_type, d.kind, d.asset_id, d.chapter_id, d.title, d.text,
		       d.start_pos, d.end_pos,
		       1 - (d.embedding <=> $1) AS score
		FROM index_documents d
		JOIN course_assets a ON a.id = d.asset_id
		WHERE d.course_id = $2
		  AND d.doc_type = $3
		  AND d.embedding IS NOT NULL
	`
	args := []any{qvec, s.courseID, f.DocType}
	if len(f.AssetIDs) > 0 {
		args = append(args, f.AssetIDs)
		q += ` AND d.asset_id = ANY($4)`
	}
	if len(f.ChapterIDs) > 0 {
		args = append(args, f.ChapterIDs)
		q += ` AND d.chapter_id = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	args = append(args, f.K)
	q += ` ORDER BY score DESC, a.updated_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(queryCtx, q, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || queryCtx.Err() == context.DeadlineExceeded {
			return nil, errs.ErrRetrievalTimeout
		}
		return nil, &errs.IndexError{CourseID: s.courseID, Err: err}
	}
	defer rows.Close()

	var out []models.RetrievalHit
	for rows.Next() {
		var h models.RetrievalHit
		if err := rows.Scan(
			&h.ID, &h.DocType, &h.Kind, &h.AssetID, &h.ChapterID,
			&h.Title, &h.Text, &h.StartPos, &h.EndPos, &h.Score,
		); err != nil {
			return nil, &errs.IndexError{CourseID: s.courseID, Err: err}
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.IndexError{CourseID: s.courseID, Err: err}
	}
	return out, nil
}

