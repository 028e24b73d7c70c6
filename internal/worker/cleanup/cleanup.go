// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れの連携コードとログインセッションを日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target は削除対象のテーブルと条件。
type target struct {
	name  string
	query string
}

var targets = []target{
	{name: "line_link_tokens", query: `DELETE FROM line_link_tokens WHERE expires_at <= now()`},
	{name: "sessions", query: `DELETE FROM sessions WHERE expires_at <= now()`},
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等で、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	db     Executor
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{db: db, logger: logger}
}

// Start はティッカーでジョブを定期実行する。起動直後にも1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))
	j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// Run は全ての対象を削除する。1つの対象が失敗しても残りの削除を続け、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	var firstErr error
	var total int64

	for _, t := range targets {
		n, err := j.delete(ctx, t)
		if err != nil {
			j.logger.Error("クリーンアップに失敗しました",
				slog.String("table", t.name),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
		j.logger.Info("期限切れデータを削除しました",
			slog.String("table", t.name),
			slog.Int64("deleted_count", n),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return firstErr
}

func (j *CleanupJob) delete(ctx context.Context, t target) (int64, error) {
	result, err := j.db.ExecContext(ctx, t.query)
	if err != nil {
		return 0, fmt.Errorf("%s のクリーンアップの実行に失敗: %w", t.name, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s の削除件数の取得に失敗: %w", t.name, err)
	}
	return n, nil
}
