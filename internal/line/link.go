package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/repository"
)

// maxIssueAttempts はコード衝突時の再生成回数の上限。
const maxIssueAttempts = 5

// LinkService は連携コードの発行・交換とアカウント連携の解除を行う。
//
// 状態遷移: unlinked → token_issued → linked。token_issuedは期限切れになり得るが、
// 再発行は常に可能。コードはサーバー側に保存し、チャットから発行した場合はLINEユーザーIDを、
// 設定画面から発行した場合はアプリユーザーIDを保持する。交換時にもう一方が補われる。
type LinkService struct {
	accounts repository.LineAccountRepository
	tokens   repository.LinkTokenRepository
	logger   *slog.Logger
	now      func() time.Time
	random   io.Reader
	recorder LinkRecorder
	ttl      time.Duration
}

// LinkRecorder は連携コード交換の結果を記録する。
type LinkRecorder interface {
	RecordLinkExchange(outcome string)
}

// LinkOption はLinkServiceの設定を変更する。
type LinkOption func(*LinkService)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) LinkOption {
	return func(s *LinkService) { s.now = now }
}

// WithRandom はコード生成に使う乱数源を差し替える。
func WithRandom(r io.Reader) LinkOption {
	return func(s *LinkService) { s.random = r }
}

// WithTokenTTL は連携コードの有効期間を変更する。0以下の場合はTokenTTLのまま。
func WithTokenTTL(ttl time.Duration) LinkOption {
	return func(s *LinkService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithRecorder は交換結果の記録先を設定する。
func WithRecorder(r LinkRecorder) LinkOption {
	return func(s *LinkService) { s.recorder = r }
}

// NewLinkService はLinkServiceを生成する。
func NewLinkService(accounts repository.LineAccountRepository, tokens repository.LinkTokenRepository, logger *slog.Logger, opts ...LinkOption) *LinkService {
	s := &LinkService{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
		ttl:      TokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueForUser は設定画面から連携コードを発行する。既に連携済みの場合はAlreadyLinkedを返す。
func (s *LinkService) IssueForUser(ctx context.Context, userID string) (*model.LinkToken, error) {
	existing, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check line account: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyLinkedError()
	}
	return s.issue(ctx, userID, "")
}

// IssueForLineUser はチャットから連携コードを発行する。
func (s *LinkService) IssueForLineUser(ctx context.Context, lineUserID string) (*model.LinkToken, error) {
	return s.issue(ctx, "", lineUserID)
}

func (s *LinkService) issue(ctx context.Context, userID, lineUserID string) (*model.LinkToken, error) {
	// 同じ発行元の古いコードは無効化する
	if err := s.tokens.DeleteByIssuer(ctx, userID, lineUserID); err != nil {
		return nil, err
	}

	now := s.now()
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := GenerateToken(s.random)
		if err != nil {
			return nil, err
		}
		token := &model.LinkToken{
			Token:      code,
			UserID:     userID,
			LineUserID: lineUserID,
			ExpiresAt:  now.Add(s.ttl),
			CreatedAt:  now,
		}
		err = s.tokens.Create(ctx, token)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return token, nil
	}
	return nil, fmt.Errorf("failed to issue link token after %d attempts", maxIssueAttempts)
}

// ExchangeForUser はログイン中のアプリユーザーがチャットで受け取ったコードを交換する。
func (s *LinkService) ExchangeForUser(ctx context.Context, code, userID string) (*model.LineAccount, error) {
	account, err := s.exchange(ctx, code, userID, "", "")
	s.record(err)
	return account, err
}

// ExchangeForLineUser はLINEユーザーが設定画面で発行されたコードをボットに送って交換する。
func (s *LinkService) ExchangeForLineUser(ctx context.Context, code, lineUserID, displayName string) (*model.LineAccount, error) {
	account, err := s.exchange(ctx, code, "", lineUserID, displayName)
	s.record(err)
	return account, err
}

// record は交換結果をエラーコード単位で記録する。
func (s *LinkService) record(err error) {
	if s.recorder == nil {
		return
	}
	outcome := "linked"
	if err != nil {
		outcome = "error"
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			outcome = strings.ToLower(apiErr.Code)
		}
	}
	s.recorder.RecordLinkExchange(outcome)
}

// exchange はコードを検証し、欠けている側を補ってアカウント連携を作成する。
// 連携の一意性は事前チェックとDBの一意制約の両方で保証し、
// 同時交換で後から書き込んだ側はAlreadyLinkedまたはInvalidTokenとなる。
func (s *LinkService) exchange(ctx context.Context, raw, userID, lineUserID, displayName string) (*model.LineAccount, error) {
	if raw == "" {
		return nil, model.NewInputError("連携コードを入力してください")
	}
	code, ok := NormalizeToken(raw)
	if !ok {
		return nil, model.NewInvalidTokenError()
	}

	token, err := s.tokens.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, model.NewInvalidTokenError()
	}

	if token.Expired(s.now()) {
		if _, err := s.tokens.Delete(ctx, code); err != nil {
			s.logger.Warn("期限切れ連携コードの削除に失敗しました", slog.String("error", err.Error()))
		}
		return nil, model.NewTokenExpiredError()
	}

	// 発行元と交換者の組み合わせを解決する
	switch {
	case token.IssuedFromChat() && userID != "":
		lineUserID = token.LineUserID
	case !token.IssuedFromChat() && lineUserID != "":
		userID = token.UserID
	default:
		return nil, model.NewInvalidTokenError()
	}

	byLine, err := s.accounts.FindByLineUserID(ctx, lineUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check line account: %w", err)
	}
	if byLine != nil {
		if byLine.UserID == userID {
			// 同じ組み合わせの再試行はそのまま成功とする
			if _, err := s.tokens.Delete(ctx, code); err != nil {
				s.logger.Warn("使用済み連携コードの削除に失敗しました", slog.String("error", err.Error()))
			}
			return byLine, nil
		}
		return nil, model.NewAlreadyLinkedError()
	}
	byUser, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check line account: %w", err)
	}
	if byUser != nil {
		return nil, model.NewAlreadyLinkedError()
	}

	// コードの消費。先に削除できた側だけが連携を作成する
	deleted, err := s.tokens.Delete(ctx, code)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, model.NewInvalidTokenError()
	}

	account := &model.LineAccount{
		ID:          uuid.New().String(),
		UserID:      userID,
		LineUserID:  lineUserID,
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAlreadyLinkedError()
		}
		// 連携を作成できなかった場合はコードを戻し、同じコードで再試行できるようにする
		if restoreErr := s.tokens.Create(ctx, token); restoreErr != nil {
			s.logger.Warn("連携コードの復元に失敗しました", slog.String("error", restoreErr.Error()))
		}
		return nil, fmt.Errorf("failed to create line account: %w", err)
	}

	s.logger.Info("LINEアカウントを連携しました",
		slog.String("user_id", userID),
		slog.Bool("issued_from_chat", token.IssuedFromChat()),
	)
	return account, nil
}

// Unlink はアプリユーザーの連携を解除する。連携がなかった場合はfalseを返す。
func (s *LinkService) Unlink(ctx context.Context, userID string) (bool, error) {
	return s.accounts.DeleteByUserID(ctx, userID)
}

// UnlinkLineUser はLINEユーザー側から連携を解除する（ブロック時）。
func (s *LinkService) UnlinkLineUser(ctx context.Context, lineUserID string) (bool, error) {
	return s.accounts.DeleteByLineUserID(ctx, lineUserID)
}

// Status はアプリユーザーの連携状態を返す。未連携の場合はnil。
func (s *LinkService) Status(ctx context.Context, userID string) (*model.LineAccount, error) {
	return s.accounts.FindByUserID(ctx, userID)
}

// LinkedAccount はLINEユーザーの連携を返す。未連携の場合はnil。
func (s *LinkService) LinkedAccount(ctx context.Context, lineUserID string) (*model.LineAccount, error) {
	return s.accounts.FindByLineUserID(ctx, lineUserID)
}
