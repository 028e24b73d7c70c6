package handler

import (
	"context"
	"log/slog"

	"github.com/paintedminds/paintedminds/internal/auth"
	"github.com/paintedminds/paintedminds/internal/companion"
	"github.com/paintedminds/paintedminds/internal/drawing"
	"github.com/paintedminds/paintedminds/internal/line"
	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/reward"
	"github.com/paintedminds/paintedminds/internal/sketch"
	"github.com/paintedminds/paintedminds/internal/user"
)

// UserGetter はユーザーを取得する。user.Serviceが実装する。
type UserGetter interface {
	Get(ctx context.Context, userID string) (*model.User, error)
}

// UserLanguageAdapter は user.Service を LanguageResolver に適合させるアダプタ。
type UserLanguageAdapter struct {
	users UserGetter
}

// NewUserLanguageAdapter はUserLanguageAdapterを生成する。
func NewUserLanguageAdapter(users UserGetter) *UserLanguageAdapter {
	return &UserLanguageAdapter{users: users}
}

// LanguageOf はユーザーの表示言語を返す。取得に失敗した場合は既定の言語を返す。
func (a *UserLanguageAdapter) LanguageOf(ctx context.Context, userID string) model.Language {
	u, err := a.users.Get(ctx, userID)
	if err != nil {
		slog.Warn("failed to resolve user language",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return model.DefaultLanguage
	}
	if lang, ok := model.ParseLanguage(string(u.Language)); ok {
		return lang
	}
	return model.DefaultLanguage
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ UserGetter = (*user.Service)(nil)
var _ DrawingServiceInterface = (*drawing.Service)(nil)
var _ SketchManagerInterface = (*sketch.Manager)(nil)
var _ WebhookDispatcher = (*line.Dispatcher)(nil)
var _ LineLinkServiceInterface = (*line.LinkService)(nil)
var _ CompanionServiceInterface = (*companion.Service)(nil)
var _ RewardServiceInterface = (*reward.Service)(nil)
var _ LanguageResolver = (*UserLanguageAdapter)(nil)
