// Package reminder は連携済みLINEユーザーへの毎日のリマインダー送信ジョブを提供する。
// その日（ユーザーのタイムゾーン）にまだ感謝の絵を描いていないユーザーにのみ送る。
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/paintedminds/paintedminds/internal/line"
	"github.com/paintedminds/paintedminds/internal/repository"
)

// Pusher はプッシュメッセージを送る。
type Pusher interface {
	Push(ctx context.Context, to string, msgs ...line.OutboundMessage) error
}

// Recorder は送信件数を記録する。
type Recorder interface {
	RecordRemindersSent(count int)
}

// Config はリマインダージョブの設定。
type Config struct {
	// MaxPerRun は1回の実行で送る最大件数。
	MaxPerRun int
	// PushesPerSecond はLINE APIへの送信レート。
	PushesPerSecond float64
	// Recorder はnilの場合は記録しない。
	Recorder Recorder
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{MaxPerRun: 5000, PushesPerSecond: 20}
}

// Job はリマインダー送信ジョブ。
type Job struct {
	accounts repository.LineAccountRepository
	pusher   Pusher
	logger   *slog.Logger
	config   Config
	limiter  *rate.Limiter
}

// NewJob はJobを生成する。
func NewJob(accounts repository.LineAccountRepository, pusher Pusher, logger *slog.Logger, config Config) *Job {
	if config.MaxPerRun <= 0 {
		config.MaxPerRun = DefaultConfig().MaxPerRun
	}
	if config.PushesPerSecond <= 0 {
		config.PushesPerSecond = DefaultConfig().PushesPerSecond
	}
	return &Job{
		accounts: accounts,
		pusher:   pusher,
		logger:   logger,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.PushesPerSecond), 1),
	}
}

// Start は毎日hourUTC時にジョブを実行する。コンテキストがキャンセルされるまで継続する。
func (j *Job) Start(ctx context.Context, hourUTC int) {
	j.logger.Info("リマインダージョブを開始しました", slog.Int("hour_utc", hourUTC))
	for {
		wait := time.Until(NextRun(time.Now(), hourUTC))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("リマインダージョブを停止しました")
			return
		case <-timer.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("リマインダージョブの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// NextRun はnow以降で最初のhourUTC時ちょうどの時刻を返す。
func NextRun(now time.Time, hourUTC int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce は対象ユーザーにリマインダーを送り、送信成功件数を返す。
// 個別の送信失敗はログに記録して続行する。
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	targets, err := j.accounts.ListReminderTargets(ctx, j.config.MaxPerRun)
	if err != nil {
		return 0, fmt.Errorf("リマインダー対象の取得に失敗しました: %w", err)
	}

	sent := 0
	for _, t := range targets {
		if err := j.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		msg := line.TextMessage(line.Translate(t.Language, line.MsgReminder))
		if err := j.pusher.Push(ctx, t.LineUserID, msg); err != nil {
			j.logger.Warn("リマインダーの送信に失敗しました",
				slog.String("user_id", t.UserID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}
	if j.config.Recorder != nil {
		j.config.Recorder.RecordRemindersSent(sent)
	}

	j.logger.Info("リマインダージョブが完了しました",
		slog.Int("target_count", len(targets)),
		slog.Int("sent_count", sent),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return sent, nil
}
