package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
)

// PostgresDrawingRepo はPostgreSQLを使用した絵のリポジトリ。
type PostgresDrawingRepo struct {
	db *sql.DB
}

// NewPostgresDrawingRepo はPostgresDrawingRepoを生成する。
func NewPostgresDrawingRepo(db *sql.DB) *PostgresDrawingRepo {
	return &PostgresDrawingRepo{db: db}
}

const drawingColumns = `d.id, d.user_id, d.title, d.image_url, d.storage_path, d.thumbnail_url, d.thumbnail_path,
	d.enhanced_image_url, d.enhanced_storage_path, d.is_enhanced, d.is_gratitude_entry, d.is_public,
	d.gratitude_prompt, d.user_description, d.style_hint, d.star_count, d.snapshot,
	d.enhancement_status, d.enhancement_attempts, d.enhancement_error, d.next_enhance_at,
	d.created_at, d.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDrawing はdrawingColumnsの順で1行を読み取る。extraは末尾の追加カラム。
func scanDrawing(row rowScanner, extra ...any) (*model.Drawing, error) {
	d := &model.Drawing{}
	var thumbURL, thumbPath, enhancedURL, enhancedPath, prompt, description, style, enhErr sql.NullString
	var status string
	var next sql.NullTime

	dest := []any{
		&d.ID, &d.UserID, &d.Title, &d.ImageURL, &d.StoragePath, &thumbURL, &thumbPath,
		&enhancedURL, &enhancedPath, &d.IsEnhanced, &d.IsGratitudeEntry, &d.IsPublic,
		&prompt, &description, &style, &d.StarCount, &d.Snapshot,
		&status, &d.EnhancementAttempts, &enhErr, &next,
		&d.CreatedAt, &d.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	d.ThumbnailURL = nullStringValue(thumbURL)
	d.ThumbnailPath = nullStringValue(thumbPath)
	d.EnhancedImageURL = nullStringValue(enhancedURL)
	d.EnhancedStoragePath = nullStringValue(enhancedPath)
	d.GratitudePrompt = nullStringValue(prompt)
	d.UserDescription = nullStringValue(description)
	d.StyleHint = nullStringValue(style)
	d.EnhancementError = nullStringValue(enhErr)
	d.EnhancementStatus = model.EnhancementStatus(status)
	if next.Valid {
		t := next.Time
		d.NextEnhanceAt = &t
	}
	return d, nil
}

// Create は絵を作成する。
func (r *PostgresDrawingRepo) Create(ctx context.Context, d *model.Drawing) error {
	status := d.EnhancementStatus
	if status == "" {
		status = model.EnhancementNone
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO drawings (id, user_id, title, image_url, storage_path, thumbnail_url, thumbnail_path,
		                       is_gratitude_entry, is_public, gratitude_prompt, user_description, style_hint,
		                       snapshot, enhancement_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.UserID, d.Title, d.ImageURL, d.StoragePath, nullString(d.ThumbnailURL), nullString(d.ThumbnailPath),
		d.IsGratitudeEntry, d.IsPublic, nullString(d.GratitudePrompt), nullString(d.UserDescription), nullString(d.StyleHint),
		nullString(string(d.Snapshot)), string(status), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create drawing: %w", err)
	}
	return nil
}

// FindByID は指定IDの絵を取得する。見つからない場合はnilを返す。
func (r *PostgresDrawingRepo) FindByID(ctx context.Context, id string) (*model.Drawing, error) {
	d, err := scanDrawing(r.db.QueryRowContext(ctx,
		`SELECT `+drawingColumns+` FROM drawings d WHERE d.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find drawing: %w", err)
	}
	return d, nil
}

// ListByUser はユーザーの絵をcreated_at降順で取得する。
func (r *PostgresDrawingRepo) ListByUser(ctx context.Context, userID string, cursor time.Time, limit int) ([]*model.Drawing, error) {
	query := `SELECT ` + drawingColumns + ` FROM drawings d WHERE d.user_id = $1`
	args := []any{userID}
	if !cursor.IsZero() {
		query += ` AND d.created_at < $2 ORDER BY d.created_at DESC LIMIT $3`
		args = append(args, cursor, limit)
	} else {
		query += ` ORDER BY d.created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drawings: %w", err)
	}
	defer rows.Close()

	var drawings []*model.Drawing
	for rows.Next() {
		d, err := scanDrawing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drawing: %w", err)
		}
		drawings = append(drawings, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drawings: %w", err)
	}
	return drawings, nil
}

// ListPublic は公開された絵を閲覧ユーザーのスター状態付きで取得する。
func (r *PostgresDrawingRepo) ListPublic(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.DrawingWithStar, error) {
	query := `SELECT ` + drawingColumns + `, (s.user_id IS NOT NULL) AS starred
		 FROM drawings d
		 LEFT JOIN drawing_stars s ON s.drawing_id = d.id AND s.user_id = $1
		 WHERE d.is_public`
	args := []any{viewerID}
	if !cursor.IsZero() {
		query += ` AND d.created_at < $2 ORDER BY d.created_at DESC LIMIT $3`
		args = append(args, cursor, limit)
	} else {
		query += ` ORDER BY d.created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}
	defer rows.Close()

	var drawings []model.DrawingWithStar
	for rows.Next() {
		var starred bool
		d, err := scanDrawing(rows, &starred)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gallery drawing: %w", err)
		}
		drawings = append(drawings, model.DrawingWithStar{Drawing: *d, IsStarred: starred})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gallery: %w", err)
	}
	return drawings, nil
}

// UpdateVisibility は所有者の絵の公開状態を更新する。
func (r *PostgresDrawingRepo) UpdateVisibility(ctx context.Context, id, userID string, public bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE drawings SET is_public = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		id, userID, public,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update drawing visibility: %w", err)
	}
	return rowsAffected(result)
}

// Delete は所有者の絵を削除する。
func (r *PostgresDrawingRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM drawings WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete drawing: %w", err)
	}
	return rowsAffected(result)
}

// ListStoragePathsByUserID はユーザーの全ての絵のストレージパスを返す。
func (r *PostgresDrawingRepo) ListStoragePathsByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT storage_path, thumbnail_path, enhanced_storage_path FROM drawings WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		d := &model.Drawing{}
		var thumb, enhanced sql.NullString
		if err := rows.Scan(&d.StoragePath, &thumb, &enhanced); err != nil {
			return nil, fmt.Errorf("failed to scan storage paths: %w", err)
		}
		d.ThumbnailPath = nullStringValue(thumb)
		d.EnhancedStoragePath = nullStringValue(enhanced)
		paths = append(paths, d.StoragePaths()...)
	}
	return paths, rows.Err()
}

// ToggleStar はスターを付け外しし、star_countを同一トランザクションで更新する。
func (r *PostgresDrawingRepo) ToggleStar(ctx context.Context, drawingID, userID string) (bool, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM drawing_stars WHERE drawing_id = $1 AND user_id = $2`,
		drawingID, userID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("failed to remove star: %w", err)
	}
	removed, err := rowsAffected(result)
	if err != nil {
		return false, 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	delta := -1
	if !removed {
		delta = 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO drawing_stars (drawing_id, user_id, created_at) VALUES ($1, $2, now())`,
			drawingID, userID,
		); err != nil {
			return false, 0, fmt.Errorf("failed to add star: %w", err)
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`UPDATE drawings SET star_count = GREATEST(star_count + $2, 0) WHERE id = $1 RETURNING star_count`,
		drawingID, delta,
	).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("failed to update star count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return !removed, count, nil
}

// RequestEnhancement は仕上げ処理を要求状態にする。処理待ち・処理中の場合は更新しない。
func (r *PostgresDrawingRepo) RequestEnhancement(ctx context.Context, id, userID, description, styleHint string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE drawings
		 SET enhancement_status = 'pending', enhancement_attempts = 0, enhancement_error = NULL,
		     next_enhance_at = NULL,
		     user_description = COALESCE($3, user_description),
		     style_hint = COALESCE($4, style_hint),
		     updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND enhancement_status NOT IN ('pending', 'processing')`,
		id, userID, nullString(description), nullString(styleHint),
	)
	if err != nil {
		return false, fmt.Errorf("failed to request enhancement: %w", err)
	}
	return rowsAffected(result)
}

// GratitudeEntryTimes はユーザーの感謝エントリの作成日時を昇順で返す。
func (r *PostgresDrawingRepo) GratitudeEntryTimes(ctx context.Context, userID string) ([]time.Time, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT created_at FROM drawings WHERE user_id = $1 AND is_gratitude_entry ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list gratitude entries: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan gratitude entry: %w", err)
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// ClaimDueForEnhancement は処理対象の絵をFOR UPDATE SKIP LOCKEDで取得し、処理中に更新する。
// 30分以上processingのまま残っている行はワーカー停止とみなして再取得する。
func (r *PostgresDrawingRepo) ClaimDueForEnhancement(ctx context.Context, limit int) ([]*model.Drawing, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE drawings d SET enhancement_status = 'processing', updated_at = now()
		 WHERE d.id IN (
		     SELECT id FROM drawings
		     WHERE (enhancement_status = 'pending' AND (next_enhance_at IS NULL OR next_enhance_at <= now()))
		        OR (enhancement_status = 'processing' AND updated_at < now() - interval '30 minutes')
		     ORDER BY created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+drawingColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("仕上げ対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var drawings []*model.Drawing
	for rows.Next() {
		d, err := scanDrawing(rows)
		if err != nil {
			return nil, fmt.Errorf("仕上げ対象の読み取りに失敗しました: %w", err)
		}
		drawings = append(drawings, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("仕上げ対象の読み取りに失敗しました: %w", err)
	}
	return drawings, nil
}

// CompleteEnhancement は仕上げ済み画像を記録する。
func (r *PostgresDrawingRepo) CompleteEnhancement(ctx context.Context, id, enhancedURL, enhancedPath string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE drawings
		 SET enhanced_image_url = $2, enhanced_storage_path = $3, is_enhanced = true,
		     enhancement_status = 'completed', enhancement_error = NULL, next_enhance_at = NULL,
		     updated_at = now()
		 WHERE id = $1`,
		id, enhancedURL, enhancedPath,
	)
	if err != nil {
		return fmt.Errorf("failed to complete enhancement: %w", err)
	}
	return nil
}

// RecordEnhancementFailure は失敗回数と次回実行時刻、状態を記録する。
func (r *PostgresDrawingRepo) RecordEnhancementFailure(ctx context.Context, id string, attempts int, status model.EnhancementStatus, message string, next time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE drawings
		 SET enhancement_attempts = $2, enhancement_status = $3, enhancement_error = $4,
		     next_enhance_at = $5, updated_at = now()
		 WHERE id = $1`,
		id, attempts, string(status), nullString(message), next,
	)
	if err != nil {
		return fmt.Errorf("failed to record enhancement failure: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ DrawingRepository     = (*PostgresDrawingRepo)(nil)
	_ EnhancementRepository = (*PostgresDrawingRepo)(nil)
)
