package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/paintedminds/paintedminds/internal/model"
)

// maxGratitudeRunes はディープリンクに載せる感謝テキストの最大文字数。
const maxGratitudeRunes = 200

// イベント処理結果。メトリクスのラベルに使う。
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// LinkFlow はWebhookから使うアカウント連携操作。
type LinkFlow interface {
	IssueForLineUser(ctx context.Context, lineUserID string) (*model.LinkToken, error)
	ExchangeForLineUser(ctx context.Context, code, lineUserID, displayName string) (*model.LineAccount, error)
	UnlinkLineUser(ctx context.Context, lineUserID string) (bool, error)
	LinkedAccount(ctx context.Context, lineUserID string) (*model.LineAccount, error)
}

var _ LinkFlow = (*LinkService)(nil)

// UserFinder は連携済みユーザーの言語設定を引くために使う。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Recorder はWebhookイベントの処理結果を記録する。
type Recorder interface {
	RecordWebhookEvent(eventType, outcome string)
}

// DispatcherConfig はDispatcherの依存関係。
type DispatcherConfig struct {
	ChannelSecret string
	BaseURL       string
	Links         LinkFlow
	Users         UserFinder
	Messenger     Messenger
	Deduper       Deduper  // nilの場合は重複排除しない
	Recorder      Recorder // nilの場合は記録しない
	Logger        *slog.Logger
}

// Dispatcher はLINE Webhookを検証し、イベントを種別ごとに処理する。
type Dispatcher struct {
	secret    string
	baseURL   string
	links     LinkFlow
	users     UserFinder
	messenger Messenger
	dedup     Deduper
	recorder  Recorder
	logger    *slog.Logger
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		secret:    cfg.ChannelSecret,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		links:     cfg.Links,
		users:     cfg.Users,
		messenger: cfg.Messenger,
		dedup:     cfg.Deduper,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
	}
}

// Handle は生のリクエストボディと署名ヘッダを受け取り、イベントを順に処理する。
// 署名が一致しない場合はSignatureInvalidを返し、ボディは解析しない。
// 検証後はイベントの処理に失敗してもnilを返す（LINEには常に200を返す）。
func (d *Dispatcher) Handle(ctx context.Context, body []byte, signature string) error {
	if !VerifySignature(d.secret, body, signature) {
		d.logger.Warn("LINE Webhookの署名検証に失敗しました")
		return model.NewSignatureInvalidError()
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		d.logger.Error("LINE Webhookボディのパースに失敗しました", slog.String("error", err.Error()))
		return nil
	}

	for _, ev := range req.Events {
		outcome := d.handleEvent(ctx, ev)
		if d.recorder != nil {
			d.recorder.RecordWebhookEvent(string(ev.Type), outcome)
		}
	}
	return nil
}

// handleEvent は1件のイベントを処理する。エラーやパニックは記録して次のイベントに進む。
func (d *Dispatcher) handleEvent(ctx context.Context, ev Event) (outcome string) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("LINEイベント処理中にパニックが発生しました",
				slog.String("event_type", string(ev.Type)),
				slog.Any("panic", rec),
			)
			outcome = OutcomeFailed
		}
	}()

	if d.dedup != nil && ev.WebhookEventID != "" {
		first, err := d.dedup.MarkProcessed(ctx, ev.WebhookEventID)
		if err != nil {
			// 記録できない場合は処理を優先する
			d.logger.Warn("LINEイベントの重複チェックに失敗しました", slog.String("error", err.Error()))
		} else if !first {
			d.logger.Info("再送されたLINEイベントをスキップしました",
				slog.String("webhook_event_id", ev.WebhookEventID),
			)
			return OutcomeDuplicate
		}
	}

	var err error
	switch ev.Type {
	case EventMessage:
		err = d.handleMessage(ctx, ev)
	case EventFollow:
		err = d.handleFollow(ctx, ev)
	case EventUnfollow:
		err = d.handleUnfollow(ctx, ev)
	case EventJoin, EventLeave:
		d.logger.Info("LINEグループイベントを受信しました",
			slog.String("event_type", string(ev.Type)),
			slog.String("source_type", string(ev.Source.Type)),
		)
		return OutcomeIgnored
	default:
		d.logger.Info("未対応のLINEイベントを受信しました", slog.String("event_type", string(ev.Type)))
		return OutcomeIgnored
	}

	if err != nil {
		d.logger.Error("LINEイベントの処理に失敗しました",
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return OutcomeFailed
	}
	return OutcomeProcessed
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev Event) error {
	lineUserID := ev.Source.UserID
	if lineUserID == "" {
		return nil
	}

	account, err := d.links.LinkedAccount(ctx, lineUserID)
	if err != nil {
		return fmt.Errorf("failed to find line account: %w", err)
	}

	text := ""
	if ev.Message != nil && ev.Message.Type == MessageText {
		text = strings.TrimSpace(ev.Message.Text)
	}

	if account == nil {
		return d.handleUnlinkedMessage(ctx, ev, text)
	}

	lang := d.languageOf(ctx, account.UserID)
	switch strings.ToLower(text) {
	case "", "help", "menu":
		return d.reply(ctx, ev, Translate(lang, MsgHelp))
	case "test reminder":
		return d.reply(ctx, ev, Translate(lang, MsgTestReminder))
	default:
		return d.reply(ctx, ev, Translate(lang, MsgGratitudeLink, d.GratitudeLink(text)))
	}
}

// handleUnlinkedMessage は未連携ユーザーへの応答。設定画面で発行された有効なコードであれば連携し、
// それ以外は新しい連携コードを返す。
func (d *Dispatcher) handleUnlinkedMessage(ctx context.Context, ev Event, text string) error {
	lineUserID := ev.Source.UserID
	// 未連携ユーザーには保存済みの言語設定がないため既定の言語で応答する
	lang := model.DefaultLanguage

	if code, ok := NormalizeToken(text); ok {
		_, err := d.links.ExchangeForLineUser(ctx, code, lineUserID, d.displayNameOf(ctx, lineUserID))
		var apiErr *model.APIError
		switch {
		case err == nil:
			return d.reply(ctx, ev, Translate(lang, MsgLinked))
		case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAlreadyLinked:
			return d.reply(ctx, ev, Translate(lang, MsgAlreadyLinked))
		case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeTokenExpired:
			token, issueErr := d.links.IssueForLineUser(ctx, lineUserID)
			if issueErr != nil {
				return issueErr
			}
			return d.reply(ctx, ev,
				Translate(lang, MsgTokenExpired),
				Translate(lang, MsgLinkCode, token.Token, validMinutes(token)),
			)
		case errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidToken:
			// 一致するコードがなければ通常のメッセージとして扱う
		default:
			return err
		}
	}

	token, err := d.links.IssueForLineUser(ctx, lineUserID)
	if err != nil {
		return err
	}
	return d.reply(ctx, ev, Translate(lang, MsgLinkCode, token.Token, validMinutes(token)))
}

func (d *Dispatcher) handleFollow(ctx context.Context, ev Event) error {
	lang := model.DefaultLanguage
	if account, err := d.links.LinkedAccount(ctx, ev.Source.UserID); err == nil && account != nil {
		lang = d.languageOf(ctx, account.UserID)
	}
	return d.reply(ctx, ev, Translate(lang, MsgWelcome))
}

func (d *Dispatcher) handleUnfollow(ctx context.Context, ev Event) error {
	if ev.Source.UserID == "" {
		return nil
	}
	removed, err := d.links.UnlinkLineUser(ctx, ev.Source.UserID)
	if err != nil {
		return fmt.Errorf("failed to unlink line account: %w", err)
	}
	if removed {
		d.logger.Info("ブロックされたためLINE連携を解除しました")
	}
	return nil
}

// GratitudeLink は感謝テキストを載せた描画画面へのディープリンクを返す。
func (d *Dispatcher) GratitudeLink(text string) string {
	if utf8.RuneCountInString(text) > maxGratitudeRunes {
		text = string([]rune(text)[:maxGratitudeRunes])
	}
	return d.baseURL + "/draw?gratitude=" + url.QueryEscape(text)
}

func (d *Dispatcher) reply(ctx context.Context, ev Event, texts ...string) error {
	if ev.ReplyToken == "" {
		return nil
	}
	msgs := make([]OutboundMessage, 0, len(texts))
	for _, t := range texts {
		msgs = append(msgs, TextMessage(t))
	}
	return d.messenger.Reply(ctx, ev.ReplyToken, msgs...)
}

// languageOf は連携済みユーザーの言語を返す。取得できない場合は既定の言語。
func (d *Dispatcher) languageOf(ctx context.Context, userID string) model.Language {
	if d.users == nil {
		return model.DefaultLanguage
	}
	user, err := d.users.FindByID(ctx, userID)
	if err != nil || user == nil || user.Language == "" {
		return model.DefaultLanguage
	}
	return user.Language
}

// displayNameOf はLINEプロフィールの表示名を返す。取得できなければ空文字。
// 表示名は連携レコードに保存するだけで、応答の言語選択には使わない。
func (d *Dispatcher) displayNameOf(ctx context.Context, lineUserID string) string {
	profile, err := d.messenger.Profile(ctx, lineUserID)
	if err != nil || profile == nil {
		return ""
	}
	return profile.DisplayName
}

// validMinutes は連携コードの有効期間を分で返す。
func validMinutes(token *model.LinkToken) int {
	if token.CreatedAt.IsZero() || !token.ExpiresAt.After(token.CreatedAt) {
		return int(TokenTTL.Minutes())
	}
	return int(token.ExpiresAt.Sub(token.CreatedAt).Round(time.Minute).Minutes())
}
