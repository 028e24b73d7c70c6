package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paintedminds/paintedminds/internal/model"
)

// PostgresLineAccountRepo はPostgreSQLを使用したLINE連携リポジトリ。
type PostgresLineAccountRepo struct {
	db *sql.DB
}

// NewPostgresLineAccountRepo はPostgresLineAccountRepoを生成する。
func NewPostgresLineAccountRepo(db *sql.DB) *PostgresLineAccountRepo {
	return &PostgresLineAccountRepo{db: db}
}

func (r *PostgresLineAccountRepo) findBy(ctx context.Context, column, value string) (*model.LineAccount, error) {
	a := &model.LineAccount{}
	var displayName sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, line_user_id, display_name, created_at FROM line_accounts WHERE `+column+` = $1`,
		value,
	).Scan(&a.ID, &a.UserID, &a.LineUserID, &displayName, &a.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find line account: %w", err)
	}
	a.DisplayName = nullStringValue(displayName)
	return a, nil
}

// FindByLineUserID はLINEユーザーIDで連携を取得する。見つからない場合はnilを返す。
func (r *PostgresLineAccountRepo) FindByLineUserID(ctx context.Context, lineUserID string) (*model.LineAccount, error) {
	return r.findBy(ctx, "line_user_id", lineUserID)
}

// FindByUserID はアプリユーザーIDで連携を取得する。見つからない場合はnilを返す。
func (r *PostgresLineAccountRepo) FindByUserID(ctx context.Context, userID string) (*model.LineAccount, error) {
	return r.findBy(ctx, "user_id", userID)
}

// Create は連携を作成する。user_id、line_user_idのいずれかが重複する場合はErrDuplicateを返す。
func (r *PostgresLineAccountRepo) Create(ctx context.Context, a *model.LineAccount) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO line_accounts (id, user_id, line_user_id, display_name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.UserID, a.LineUserID, nullString(a.DisplayName), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create line account: %w", err)
	}
	return nil
}

// DeleteByUserID はアプリユーザーの連携を削除する。
func (r *PostgresLineAccountRepo) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM line_accounts WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete line account: %w", err)
	}
	return rowsAffected(result)
}

// DeleteByLineUserID はLINEユーザーの連携を削除する。
func (r *PostgresLineAccountRepo) DeleteByLineUserID(ctx context.Context, lineUserID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM line_accounts WHERE line_user_id = $1`, lineUserID)
	if err != nil {
		return false, fmt.Errorf("failed to delete line account: %w", err)
	}
	return rowsAffected(result)
}

// ListReminderTargets は本日（各ユーザーのタイムゾーン）の感謝エントリがない連携ユーザーを返す。
func (r *PostgresLineAccountRepo) ListReminderTargets(ctx context.Context, limit int) ([]ReminderTarget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT la.user_id, la.line_user_id, u.language
		 FROM line_accounts la
		 INNER JOIN users u ON u.id = la.user_id
		 WHERE NOT EXISTS (
		     SELECT 1 FROM drawings d
		     WHERE d.user_id = la.user_id
		       AND d.is_gratitude_entry
		       AND d.created_at >= date_trunc('day', now() + make_interval(mins => u.timezone_offset_minutes))
		                           - make_interval(mins => u.timezone_offset_minutes)
		 )
		 ORDER BY la.created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("リマインダー対象の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var targets []ReminderTarget
	for rows.Next() {
		var t ReminderTarget
		var language string
		if err := rows.Scan(&t.UserID, &t.LineUserID, &language); err != nil {
			return nil, fmt.Errorf("リマインダー対象の読み取りに失敗しました: %w", err)
		}
		t.Language, _ = model.ParseLanguage(language)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// PostgresLinkTokenRepo はPostgreSQLを使用した連携コードリポジトリ。
type PostgresLinkTokenRepo struct {
	db *sql.DB
}

// NewPostgresLinkTokenRepo はPostgresLinkTokenRepoを生成する。
func NewPostgresLinkTokenRepo(db *sql.DB) *PostgresLinkTokenRepo {
	return &PostgresLinkTokenRepo{db: db}
}

// Create は連携コードを保存する。
func (r *PostgresLinkTokenRepo) Create(ctx context.Context, t *model.LinkToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO line_link_tokens (token, user_id, line_user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.Token, nullString(t.UserID), nullString(t.LineUserID), t.ExpiresAt, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create link token: %w", err)
	}
	return nil
}

// Find は連携コードを取得する。期限切れでも返し、判定は呼び出し側で行う。
func (r *PostgresLinkTokenRepo) Find(ctx context.Context, token string) (*model.LinkToken, error) {
	t := &model.LinkToken{}
	var userID, lineUserID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, line_user_id, expires_at, created_at FROM line_link_tokens WHERE token = $1`,
		token,
	).Scan(&t.Token, &userID, &lineUserID, &t.ExpiresAt, &t.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find link token: %w", err)
	}
	t.UserID = nullStringValue(userID)
	t.LineUserID = nullStringValue(lineUserID)
	return t, nil
}

// Delete は連携コードを削除する。
func (r *PostgresLinkTokenRepo) Delete(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM line_link_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete link token: %w", err)
	}
	return rowsAffected(result)
}

// DeleteByIssuer は同じ発行元の既存コードを削除する。空の値は条件に含めない。
func (r *PostgresLinkTokenRepo) DeleteByIssuer(ctx context.Context, userID, lineUserID string) error {
	if userID != "" {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM line_link_tokens WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete link tokens: %w", err)
		}
	}
	if lineUserID != "" {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM line_link_tokens WHERE line_user_id = $1`, lineUserID); err != nil {
			return fmt.Errorf("failed to delete link tokens: %w", err)
		}
	}
	return nil
}

// compile-time interface check
var (
	_ LineAccountRepository = (*PostgresLineAccountRepo)(nil)
	_ LinkTokenRepository   = (*PostgresLinkTokenRepo)(nil)
)
