package enhance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	enhanceapi "github.com/paintedminds/paintedminds/internal/enhance"
	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
	"github.com/paintedminds/paintedminds/internal/storage"
)

// SSRFValidator は生成画像のダウンロード先を検証する。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Recorder は仕上げ結果を記録する。
type Recorder interface {
	RecordEnhancement(outcome string, duration time.Duration)
}

// 仕上げ結果。メトリクスのラベルに使う。
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

// ProcessorConfig はProcessorの設定。
type ProcessorConfig struct {
	// Timeout は1件の生成を待つ上限。
	Timeout time.Duration
	// DownloadTimeout は生成画像のダウンロードの上限。
	DownloadTimeout time.Duration
	// MaxImageSize は生成画像の最大サイズ。
	MaxImageSize int64
}

// DefaultProcessorConfig はデフォルトの設定を返す。
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Timeout:         3 * time.Minute,
		DownloadTimeout: 30 * time.Second,
		MaxImageSize:    20 * 1024 * 1024,
	}
}

// Processor は1枚の絵を仕上げる。生成APIを呼び、結果をダウンロードしてストレージに保存する。
type Processor struct {
	repo      repository.EnhancementRepository
	enhancer  enhanceapi.Enhancer
	store     storage.Store
	ssrfGuard SSRFValidator
	recorder  Recorder
	logger    *slog.Logger
	config    ProcessorConfig
	now       func() time.Time
}

// NewProcessor はProcessorを生成する。recorderはnilでもよい。
func NewProcessor(
	repo repository.EnhancementRepository,
	enhancer enhanceapi.Enhancer,
	store storage.Store,
	ssrfGuard SSRFValidator,
	recorder Recorder,
	logger *slog.Logger,
	config ProcessorConfig,
) *Processor {
	return &Processor{
		repo:      repo,
		enhancer:  enhancer,
		store:     store,
		ssrfGuard: ssrfGuard,
		recorder:  recorder,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Process は絵を仕上げ、結果に応じて状態を更新する。
// 失敗時はバックオフを適用した状態を記録し、元のエラーを返す。
func (p *Processor) Process(ctx context.Context, d *model.Drawing) error {
	start := time.Now()

	image, err := p.enhance(ctx, d)
	if err == nil {
		key := storage.EnhancedKeyFor(d.StoragePath)
		var publicURL string
		if publicURL, err = p.store.Put(ctx, key, image, "image/png"); err == nil {
			if err = p.repo.CompleteEnhancement(ctx, d.ID, publicURL, key); err == nil {
				p.record(OutcomeCompleted, start)
				p.logger.Info("絵の仕上げが完了しました",
					slog.String("drawing_id", d.ID),
					slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
				)
				return nil
			}
		}
	}

	state := NextFailureState(d.EnhancementAttempts, p.now())
	outcome := OutcomeRetry
	if state.Status == model.EnhancementFailed {
		outcome = OutcomeFailed
	}
	p.logger.Warn("絵の仕上げに失敗しました",
		slog.String("drawing_id", d.ID),
		slog.Int("attempts", state.Attempts),
		slog.String("status", string(state.Status)),
		slog.Time("next_enhance_at", state.NextAt),
		slog.String("error", err.Error()),
	)
	if recErr := p.repo.RecordEnhancementFailure(ctx, d.ID, state.Attempts, state.Status, truncate(err.Error(), 500), state.NextAt); recErr != nil {
		p.logger.Error("仕上げ失敗の記録に失敗しました",
			slog.String("drawing_id", d.ID),
			slog.String("error", recErr.Error()),
		)
	}
	p.record(outcome, start)
	return err
}

// enhance は生成APIを呼び出し、生成画像のバイト列を返す。
func (p *Processor) enhance(ctx context.Context, d *model.Drawing) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resultURL, err := p.enhancer.Enhance(ctx, enhanceapi.Request{
		ImageURL:    d.ImageURL,
		Description: firstNonEmpty(d.UserDescription, d.GratitudePrompt, d.Title),
		StyleHint:   d.StyleHint,
	})
	if err != nil {
		return nil, fmt.Errorf("画像生成に失敗: %w", err)
	}
	return p.download(ctx, resultURL)
}

// download は生成画像をSSRF防止付きクライアントで取得する。
func (p *Processor) download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := p.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := p.ssrfGuard.NewSafeClient(p.config.DownloadTimeout, p.config.MaxImageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("生成画像のダウンロードに失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("生成画像のダウンロードでステータス %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("生成画像のContent-Typeが不正です: %s", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("生成画像の読み取りに失敗: %w", err)
	}
	if int64(len(data)) > p.config.MaxImageSize {
		return nil, errors.New("生成画像がサイズ上限を超えています")
	}
	return data, nil
}

func (p *Processor) record(outcome string, start time.Time) {
	if p.recorder != nil {
		p.recorder.RecordEnhancement(outcome, time.Since(start))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
