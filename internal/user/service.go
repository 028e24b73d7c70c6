// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
)

// タイムゾーンオフセットの範囲（UTC-12:00〜UTC+14:00）。
const (
	minTimezoneOffset = -12 * 60
	maxTimezoneOffset = 14 * 60
)

// StoragePathLister はユーザーの絵のストレージパス一覧を返す。
type StoragePathLister interface {
	ListStoragePathsByUserID(ctx context.Context, userID string) ([]string, error)
}

// ObjectDeleter は保存済みオブジェクトを削除する。
type ObjectDeleter interface {
	Delete(ctx context.Context, keys ...string) error
}

// LineUnlinker はLINEアカウント連携を削除する。
type LineUnlinker interface {
	DeleteByUserID(ctx context.Context, userID string) (bool, error)
}

// PreferencesInput は設定変更の入力。nilの項目は変更しない。
type PreferencesInput struct {
	Language              *string `json:"language"`
	TimezoneOffsetMinutes *int    `json:"timezone_offset_minutes"`
}

// Service はユーザー管理のサービス層。
// 設定変更と退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	paths       StoragePathLister
	objects     ObjectDeleter
	line        LineUnlinker
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	paths StoragePathLister,
	objects ObjectDeleter,
	line LineUnlinker,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		paths:       paths,
		objects:     objects,
		line:        line,
		logger:      logger,
	}
}

// Get はユーザーを取得する。存在しない場合はUserNotFoundを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdatePreferences は表示言語とタイムゾーンを更新し、更新後のユーザーを返す。
func (s *Service) UpdatePreferences(ctx context.Context, userID string, in PreferencesInput) (*model.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	language := user.Language
	if in.Language != nil {
		lang, ok := model.ParseLanguage(*in.Language)
		if !ok {
			return nil, model.NewInputError("対応していない言語です")
		}
		language = lang
	}
	offset := user.TimezoneOffsetMinutes
	if in.TimezoneOffsetMinutes != nil {
		offset = *in.TimezoneOffsetMinutes
		if offset < minTimezoneOffset || offset > maxTimezoneOffset {
			return nil, model.NewInputError("タイムゾーンが不正です")
		}
	}

	if err := s.userRepo.UpdatePreferences(ctx, userID, language, offset); err != nil {
		return nil, fmt.Errorf("設定の更新に失敗しました: %w", err)
	}
	user.Language = language
	user.TimezoneOffsetMinutes = offset
	return user, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: LINE連携 → sessions → user（+ CASCADE: identities, drawings, drawing_stars）→ 保存済み画像。
// 画像の削除はDBの削除後に行い、失敗してもログに残して退会自体は完了させる。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	var paths []string
	if s.paths != nil {
		p, err := s.paths.ListStoragePathsByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("保存済み画像の取得に失敗しました: %w", err)
		}
		paths = p
	}

	if s.line != nil {
		if _, err := s.line.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("LINE連携の削除に失敗しました: %w", err)
		}
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	if s.objects != nil && len(paths) > 0 {
		if err := s.objects.Delete(ctx, paths...); err != nil {
			s.logger.Warn("保存済み画像の削除に失敗しました",
				slog.String("user_id", userID),
				slog.Int("object_count", len(paths)),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("object_count", len(paths)),
	)

	return nil
}
