// Package auth はGoogle OAuthによるログインとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
)

var (
	// ErrSessionRequired はセッションIDが空のときに返る。
	ErrSessionRequired = errors.New("session ID is required")
	// ErrSessionNotFound はセッションが存在しないか期限切れのときに返る。
	ErrSessionNotFound = errors.New("session not found or expired")
)

// OAuthUserInfo はIdPから得たプロフィール。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Locale         string // 表示言語の初期値に使う
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダー。
type OAuthProvider interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // 秒
}

// Service はログイン、ログアウト、現在ユーザーの解決を行う。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はstateを埋め込んだ認可URLを返す。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback は認可コードを交換してユーザーを特定し、新しいセッションを発行する。
// 初回ログインではユーザーとidentityを同一トランザクションで作る。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, err := s.resolveUser(ctx, info)
	if err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// resolveUser はidentityから既存ユーザーを引き、無ければ作成してユーザーIDを返す。
func (s *Service) resolveUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		s.backfillLanguage(ctx, identity.UserID, info.Locale)
		slog.Info("既存ユーザーがログイン",
			slog.String("user_id", identity.UserID),
			slog.String("provider", info.Provider),
		)
		return identity.UserID, nil
	}

	now := s.now()
	language, _ := model.ParseLanguage(info.Locale)
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	identity = &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}
	if err := s.userRepo.CreateWithIdentity(ctx, user, identity); err != nil {
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("新規ユーザーを作成",
		slog.String("user_id", user.ID),
		slog.String("language", string(language)),
		slog.String("provider", info.Provider),
	)
	return user.ID, nil
}

// backfillLanguage は表示言語が未設定の既存ユーザーにIdPのlocaleを反映する。
// 失敗してもログインは継続する。
func (s *Service) backfillLanguage(ctx context.Context, userID, locale string) {
	language, ok := model.ParseLanguage(locale)
	if !ok {
		return
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil || user == nil || user.Language != "" {
		return
	}
	if err := s.userRepo.UpdatePreferences(ctx, userID, language, user.TimezoneOffsetMinutes); err != nil {
		slog.Warn("表示言語の補完に失敗",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionRequired
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("ログアウト", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションIDから現在のユーザーを返す。
// セッションが無いか期限切れならErrSessionNotFound、ユーザーが削除済みならUSER_NOT_FOUND。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	// リポジトリの期限判定とは別に、呼び出し時点の時刻でも期限を確認する
	if session == nil || !session.ExpiresAt.After(s.now()) {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
