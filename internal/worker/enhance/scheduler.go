// Package enhance は絵の仕上げ（画像生成）をバックグラウンドで実行するワーカーを提供する。
// スケジューラ、1件ごとの処理、リトライ/バックオフ戦略を含む。
package enhance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
)

// DrawingProcessor は1枚の絵の仕上げを実行する。
type DrawingProcessor interface {
	Process(ctx context.Context, d *model.Drawing) error
}

// Scheduler は仕上げ待ちの絵を定期的に取得し、並列数を制限して処理する。
type Scheduler struct {
	repo           repository.EnhancementRepository
	processor      DrawingProcessor
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
}

// NewScheduler はSchedulerを生成する。maxConcurrencyが0以下の場合は4を使う。
func NewScheduler(
	repo repository.EnhancementRepository,
	processor DrawingProcessor,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		repo:           repo,
		processor:      processor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      maxConcurrency * 4,
	}
}

// Start はティッカーでスケジューラを起動する。コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("仕上げスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("仕上げスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("仕上げサイクルの実行に失敗しました", slog.String("error", err.Error()))
	}
}

// RunOnce は仕上げ待ちの絵を1回取得し、semaphoreで並列数を制御しながら処理する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	drawings, err := s.repo.ClaimDueForEnhancement(ctx, s.batchSize)
	if err != nil {
		return err
	}
	if len(drawings) == 0 {
		s.logger.Debug("仕上げ対象の絵はありません")
		return nil
	}

	s.logger.Info("仕上げサイクルを開始します", slog.Int("drawing_count", len(drawings)))

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, d := range drawings {
		wg.Add(1)
		sem <- struct{}{}

		go func(d *model.Drawing) {
			defer wg.Done()
			defer func() { <-sem }()

			// 失敗の記録はProcessorが行う
			_ = s.processor.Process(ctx, d)
		}(d)
	}

	wg.Wait()

	s.logger.Info("仕上げサイクルが完了しました",
		slog.Int("drawing_count", len(drawings)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
