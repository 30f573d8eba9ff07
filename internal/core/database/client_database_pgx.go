package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/classmate-app/classmate/internal/config"
	"github.com/classmate-app/classmate/internal/core"
	"github.com/classmate-app/classmate/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the underlying pool for the per-course index store, which shares
// the same Postgres instance.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Courses

func (c *DatabaseClient) EnsureCourse(ctx context.Context, course *models.Course) error {
	if course == nil {
		return errors.New("nil course")
	}
	const q = `
		INSERT INTO courses (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE courses.name END,
		    description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE courses.description END
	`
	_, err := c.db.ExecContext(ctx, q, course.ID, course.Name, course.Description)
	return err
}

func (c *DatabaseClient) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	const q = `
		SELECT id, name, description, created_at
		FROM courses WHERE id = $1
	`
	var course models.Course
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&course.ID, &course.Name, &course.Description, &course.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (c *DatabaseClient) DeleteCourse(ctx context.Context, id string) error {
	// FK cascades clear assets, units, chapters and index documents.
	_, err := c.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	return err
}

// Course assets

func (c *DatabaseClient) CreateAsset(ctx context.Context, asset *models.CourseAsset) error {
	if asset == nil {
		return errors.New("nil asset")
	}
	const q = `
		INSERT INTO course_assets
			(id, course_id, kind, storage_key, file_name, mime_type, size_bytes, title, description, status)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := c.db.ExecContext(ctx, q,
		asset.ID, asset.CourseID, asset.Kind, asset.StorageKey, asset.FileName,
		asset.MimeType, asset.SizeBytes, asset.Title, asset.Description, asset.Status)
	return err
}

const assetColumns = `
	id, course_id, kind, storage_key, audio_key, file_name, mime_type, size_bytes,
	title, description, status, transcription_job_id, last_error, created_at, updated_at
`

func scanAsset(row interface {
	Scan(dest ...any) error
}) (*models.CourseAsset, error) {
	var a models.CourseAsset
	err := row.Scan(
		&a.ID, &a.CourseID, &a.Kind, &a.StorageKey, &a.AudioKey, &a.FileName,
		&a.MimeType, &a.SizeBytes, &a.Title, &a.Description, &a.Status,
		&a.TranscriptionJobID, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *DatabaseClient) GetAssetByID(ctx context.Context, id string) (*models.CourseAsset, error) {
	q := `SELECT ` + assetColumns + ` FROM course_assets WHERE id = $1`
	a, err := scanAsset(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (c *DatabaseClient) GetAssetByJobID(ctx context.Context, jobID string) (*models.CourseAsset, error) {
	if jobID == "" {
		return nil, nil
	}
	q := `SELECT ` + assetColumns + ` FROM course_assets WHERE transcription_job_id = $1`
	a, err := scanAsset(c.db.QueryRowContext(ctx, q, jobID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (c *DatabaseClient) listAssets(ctx context.Context, where string, args ...any) ([]models.CourseAsset, error) {
	q := `SELECT ` + assetColumns + ` FROM course_assets ` + where
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CourseAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListAssetsByCourse(ctx context.Context, courseID string) ([]models.CourseAsset, error) {
	return c.listAssets(ctx, `WHERE course_id = $1 ORDER BY created_at DESC`, courseID)
}

func (c *DatabaseClient) ListAssetsByStatus(ctx context.Context, status models.AssetStatus) ([]models.CourseAsset, error) {
	return c.listAssets(ctx, `WHERE status = $1 ORDER BY updated_at ASC`, status)
}

// ListStaleAssets returns assets parked in any non-terminal stage for longer
// than the threshold, including those that finished an async step but never
// reached indexed. They are flagged for operators, never auto-failed.
func (c *DatabaseClient) ListStaleAssets(ctx context.Context, olderThan time.Duration) ([]models.CourseAsset, error) {
	return c.listAssets(ctx, `
		WHERE status IN ('processing', 'extracted', 'audio_extracted', 'transcribing', 'transcribed', 'chaptered')
		  AND updated_at < now() - ($1 * interval '1 second')
		ORDER BY updated_at ASC`, olderThan.Seconds())
}

func (c *DatabaseClient) DeleteAsset(ctx context.Context, id string) error {
	// FK cascades clear source units, chapters and index documents.
	res, err := c.db.ExecContext(ctx, `DELETE FROM course_assets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("asset not found: %s", id)
	}
	return nil
}

// TransitionAssetStatus moves the asset from `from` to `to` only if it is
// still in `from`. A false return means another writer (or a duplicate
// delivery) got there first.
func (c *DatabaseClient) TransitionAssetStatus(ctx context.Context, id string, from, to models.AssetStatus) (bool, error) {
	const q = `
		UPDATE course_assets
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	res, err := c.db.ExecContext(ctx, q, id, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *DatabaseClient) MarkAssetFailed(ctx context.Context, id string, msg string) error {
	const q = `
		UPDATE course_assets
		SET status = 'failed', last_error = $2, updated_at = now()
		WHERE id = $1 AND status <> 'indexed'
	`
	_, err := c.db.ExecContext(ctx, q, id, msg)
	return err
}

func (c *DatabaseClient) SetAssetAudioKey(ctx context.Context, id string, audioKey string) error {
	const q = `UPDATE course_assets SET audio_key = $2, updated_at = now() WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, id, audioKey)
	return err
}

func (c *DatabaseClient) SetAssetTranscriptionJob(ctx context.Context, id string, jobID string) error {
	const q = `UPDATE course_assets SET transcription_job_id = $2, updated_at = now() WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, id, jobID)
	return err
}

// Source units

// ReplaceSourceUnits swaps the full unit set for an asset in one transaction,
// so a re-extraction can never leave a partial mix of old and new units.
func (c *DatabaseClient) ReplaceSourceUnits(ctx context.Context, assetID string, units []models.SourceUnit) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM source_units WHERE asset_id = $1`, assetID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO source_units
			(id, asset_id, seq, start_pos, end_pos, text, language, chapter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range units {
		u := &units[i]
		if _, err := stmt.ExecContext(ctx,
			u.ID, assetID, u.Seq, u.StartPos, u.EndPos, u.Text, u.Language, u.ChapterID,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

const unitColumns = `id, asset_id, seq, start_pos, end_pos, text, language, COALESCE(chapter_id, '')`

func (c *DatabaseClient) listUnits(ctx context.Context, where string, args ...any) ([]models.SourceUnit, error) {
	q := `SELECT ` + unitColumns + ` FROM source_units ` + where
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SourceUnit
	for rows.Next() {
		var u models.SourceUnit
		if err := rows.Scan(
			&u.ID, &u.AssetID, &u.Seq, &u.StartPos, &u.EndPos, &u.Text, &u.Language, &u.ChapterID,
		); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListSourceUnits(ctx context.Context, assetID string) ([]models.SourceUnit, error) {
	return c.listUnits(ctx, `WHERE asset_id = $1 ORDER BY seq ASC`, assetID)
}

func (c *DatabaseClient) ListSourceUnitsInRange(ctx context.Context, assetID string, lo, hi float64) ([]models.SourceUnit, error) {
	return c.listUnits(ctx,
		`WHERE asset_id = $1 AND end_pos >= $2 AND start_pos <= $3 ORDER BY seq ASC`,
		assetID, lo, hi)
}

// Chapters

func (c *DatabaseClient) ReplaceChapters(ctx context.Context, assetID string, chapters []models.Chapter) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM video_chapters WHERE asset_id = $1`, assetID); err != nil {
		_ = tx.Rollback()
		return err
	}

	const q = `
		INSERT INTO video_chapters (id, asset_id, start_sec, end_sec, title, source)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range chapters {
		ch := &chapters[i]
		if _, err := tx.ExecContext(ctx, q,
			ch.ID, assetID, ch.StartSec, ch.EndSec, ch.Title, ch.Source,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) ListChapters(ctx context.Context, assetID string) ([]models.Chapter, error) {
	const q = `
		SELECT id, asset_id, start_sec, end_sec, title, source
		FROM video_chapters
		WHERE asset_id = $1
		ORDER BY start_sec ASC
	`
	rows, err := c.db.QueryContext(ctx, q, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chapter
	for rows.Next() {
		var ch models.Chapter
		if err := rows.Scan(&ch.ID, &ch.AssetID, &ch.StartSec, &ch.EndSec, &ch.Title, &ch.Source); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// AssignUnitChapters points each unit at the chapter with the largest time
// overlap, or none when no chapter overlaps it.
func (c *DatabaseClient) AssignUnitChapters(ctx context.Context, assetID string) error {
	const q = `
		UPDATE source_units u
		SET chapter_id = pick.chapter_id
		FROM (
			SELECT u2.id AS unit_id,
			       (SELECT ch.id
			          FROM video_chapters ch
			         WHERE ch.asset_id = u2.asset_id
			           AND LEAST(ch.end_sec, u2.end_pos) - GREATEST(ch.start_sec, u2.start_pos) > 0
			         ORDER BY LEAST(ch.end_sec, u2.end_pos) - GREATEST(ch.start_sec, u2.start_pos) DESC,
			                  ch.start_sec ASC
			         LIMIT 1) AS chapter_id
			FROM source_units u2
			WHERE u2.asset_id = $1
		) pick
		WHERE u.id = pick.unit_id
	`
	_, err := c.db.ExecContext(ctx, q, assetID)
	return err
}

var _ core.DbClient = (*DatabaseClient)(nil)
