// Package drawing は絵（ジャーナルエントリ）の保存、一覧、共有のドメインロジックを提供する。
package drawing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paintedminds/paintedminds/internal/canvas"
	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
	"github.com/paintedminds/paintedminds/internal/security"
	"github.com/paintedminds/paintedminds/internal/storage"
)

const (
	maxTitleRunes       = 100
	maxDescriptionRunes = 500
	maxPromptRunes      = 500
	maxStyleHintRunes   = 50

	// ThumbnailWidth はサムネイル画像の幅（px）。
	ThumbnailWidth = 320

	// DefaultPageSize は一覧の既定件数。
	DefaultPageSize = 20
	// MaxPageSize は一覧の最大件数。
	MaxPageSize = 50
)

// Recorder は保存件数を記録するインターフェース。
type Recorder interface {
	RecordDrawingSaved(gratitude bool)
}

// SaveInput は絵の保存リクエスト。
type SaveInput struct {
	Title            string
	Snapshot         canvas.Snapshot
	IsGratitudeEntry bool
	IsPublic         bool
	GratitudePrompt  string
	UserDescription  string
	StyleHint        string
}

// Service は絵のサービス層。
type Service struct {
	repo      repository.DrawingRepository
	store     storage.Store
	sanitizer security.TextSanitizer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	repo repository.DrawingRepository,
	store storage.Store,
	sanitizer security.TextSanitizer,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// Save はスナップショットを画像化してストレージにアップロードし、絵を作成する。
// 行の作成に失敗した場合はアップロード済みのオブジェクトを削除する。
// 感謝エントリは仕上げ処理待ちとして登録する。
func (s *Service) Save(ctx context.Context, userID string, in SaveInput) (*model.Drawing, error) {
	title := s.sanitizer.Clean(in.Title, maxTitleRunes)
	if title == "" {
		return nil, model.NewInputError("タイトルは必須です")
	}
	if in.Snapshot.Width <= 0 || in.Snapshot.Height <= 0 {
		return nil, model.NewInputError("キャンバスのサイズが不正です")
	}
	if err := in.Snapshot.Validate(); err != nil {
		return nil, model.NewInputError(fmt.Sprintf("スナップショットが上限を超えています（%d×%d以内）", canvas.MaxLogicalSize, canvas.MaxLogicalSize))
	}

	image, err := canvas.Encode(in.Snapshot, canvas.FormatPNG, 0)
	if err != nil {
		return nil, fmt.Errorf("画像の生成に失敗しました: %w", err)
	}
	thumbnail, err := canvas.Thumbnail(in.Snapshot, ThumbnailWidth)
	if err != nil {
		return nil, fmt.Errorf("サムネイルの生成に失敗しました: %w", err)
	}
	snapshot, err := canvas.MarshalSnapshot(in.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("スナップショットのエンコードに失敗しました: %w", err)
	}

	keys := storage.NewDrawingKeys(userID, "png")
	imageURL, err := s.store.Put(ctx, keys.Image, image, canvas.FormatPNG.ContentType())
	if err != nil {
		s.logger.Error("絵のアップロードに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewCollaboratorUnavailableError("storage")
	}
	thumbnailURL, err := s.store.Put(ctx, keys.Thumbnail, thumbnail, canvas.FormatPNG.ContentType())
	if err != nil {
		s.logger.Error("サムネイルのアップロードに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		s.discard(ctx, keys.Image)
		return nil, model.NewCollaboratorUnavailableError("storage")
	}

	now := s.now()
	d := &model.Drawing{
		ID:                uuid.New().String(),
		UserID:            userID,
		Title:             title,
		ImageURL:          imageURL,
		StoragePath:       keys.Image,
		ThumbnailURL:      thumbnailURL,
		ThumbnailPath:     keys.Thumbnail,
		IsGratitudeEntry:  in.IsGratitudeEntry,
		IsPublic:          in.IsPublic,
		GratitudePrompt:   s.sanitizer.Clean(in.GratitudePrompt, maxPromptRunes),
		UserDescription:   s.sanitizer.Clean(in.UserDescription, maxDescriptionRunes),
		StyleHint:         s.sanitizer.Clean(in.StyleHint, maxStyleHintRunes),
		Snapshot:          snapshot,
		EnhancementStatus: model.EnhancementNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if in.IsGratitudeEntry {
		d.EnhancementStatus = model.EnhancementPending
	}

	if err := s.repo.Create(ctx, d); err != nil {
		s.discard(ctx, keys.Image, keys.Thumbnail)
		return nil, fmt.Errorf("絵の作成に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordDrawingSaved(d.IsGratitudeEntry)
	}
	s.logger.Info("絵を保存しました",
		slog.String("drawing_id", d.ID),
		slog.String("user_id", userID),
		slog.Bool("gratitude", d.IsGratitudeEntry),
	)
	return d, nil
}

// discard はアップロード済みのオブジェクトを削除する。失敗はログのみ。
func (s *Service) discard(ctx context.Context, keys ...string) {
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.logger.Warn("アップロード済みオブジェクトの削除に失敗しました",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

// ListJournal はユーザー自身の絵をcreated_at降順で返す。
func (s *Service) ListJournal(ctx context.Context, userID string, cursor time.Time, limit int) ([]*model.Drawing, error) {
	drawings, err := s.repo.ListByUser(ctx, userID, cursor, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("ジャーナルの取得に失敗しました: %w", err)
	}
	return drawings, nil
}

// ListGallery は公開された絵を閲覧ユーザーのスター状態付きで返す。
func (s *Service) ListGallery(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.DrawingWithStar, error) {
	drawings, err := s.repo.ListPublic(ctx, viewerID, cursor, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("ギャラリーの取得に失敗しました: %w", err)
	}
	return drawings, nil
}

// Get は絵を返す。他ユーザーの非公開の絵は見つからないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, drawingID string) (*model.Drawing, error) {
	d, err := s.repo.FindByID(ctx, drawingID)
	if err != nil {
		return nil, fmt.Errorf("絵の取得に失敗しました: %w", err)
	}
	if d == nil || (d.UserID != userID && !d.IsPublic) {
		return nil, model.NewDrawingNotFoundError(drawingID)
	}
	return d, nil
}

// Delete は所有者の絵を削除し、ストレージのオブジェクトも削除する。
func (s *Service) Delete(ctx context.Context, userID, drawingID string) error {
	d, err := s.repo.FindByID(ctx, drawingID)
	if err != nil {
		return fmt.Errorf("絵の取得に失敗しました: %w", err)
	}
	if d == nil || d.UserID != userID {
		return model.NewDrawingNotFoundError(drawingID)
	}

	deleted, err := s.repo.Delete(ctx, drawingID, userID)
	if err != nil {
		return fmt.Errorf("絵の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewDrawingNotFoundError(drawingID)
	}

	// 行の削除後はストレージの失敗を呼び出し側に返さない
	s.discard(ctx, d.StoragePaths()...)
	return nil
}

// SetPublic はギャラリーへの共有状態を切り替える。
func (s *Service) SetPublic(ctx context.Context, userID, drawingID string, public bool) error {
	updated, err := s.repo.UpdateVisibility(ctx, drawingID, userID, public)
	if err != nil {
		return fmt.Errorf("公開設定の更新に失敗しました: %w", err)
	}
	if !updated {
		return model.NewDrawingNotFoundError(drawingID)
	}
	return nil
}

// ToggleStar は公開された絵（または自分の絵）のスターを付け外しする。
func (s *Service) ToggleStar(ctx context.Context, userID, drawingID string) (bool, int, error) {
	if _, err := s.Get(ctx, userID, drawingID); err != nil {
		return false, 0, err
	}
	starred, count, err := s.repo.ToggleStar(ctx, drawingID, userID)
	if err != nil {
		return false, 0, fmt.Errorf("スターの更新に失敗しました: %w", err)
	}
	return starred, count, nil
}

// RequestEnhancement は仕上げ処理を要求する。処理待ち・処理中の場合はENHANCEMENT_IN_PROGRESSを返す。
func (s *Service) RequestEnhancement(ctx context.Context, userID, drawingID, description, styleHint string) error {
	d, err := s.repo.FindByID(ctx, drawingID)
	if err != nil {
		return fmt.Errorf("絵の取得に失敗しました: %w", err)
	}
	if d == nil || d.UserID != userID {
		return model.NewDrawingNotFoundError(drawingID)
	}
	if d.EnhancementStatus.InFlight() {
		return model.NewEnhancementInProgressError()
	}

	requested, err := s.repo.RequestEnhancement(ctx, drawingID, userID,
		s.sanitizer.Clean(description, maxDescriptionRunes),
		s.sanitizer.Clean(styleHint, maxStyleHintRunes),
	)
	if err != nil {
		return fmt.Errorf("仕上げ処理の要求に失敗しました: %w", err)
	}
	if !requested {
		// 確認後に別のリクエストが先に要求した
		return model.NewEnhancementInProgressError()
	}
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
