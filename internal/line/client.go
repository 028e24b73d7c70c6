package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// defaultAPIBase はLINE Messaging APIのベースURL。
const defaultAPIBase = "https://api.line.me"

// maxMessagesPerRequest は1回の送信で指定できるメッセージ数の上限。
const maxMessagesPerRequest = 5

// Messenger はLINEへのメッセージ送信のインターフェース。
type Messenger interface {
	Reply(ctx context.Context, replyToken string, msgs ...OutboundMessage) error
	Push(ctx context.Context, to string, msgs ...OutboundMessage) error
	Profile(ctx context.Context, userID string) (*Profile, error)
}

// Client はLINE Messaging APIのクライアント。
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	endpoint    string // テスト用にエンドポイントを差し替え可能
	accessToken string
}

var _ Messenger = (*Client)(nil)

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, accessToken string) *Client {
	return &Client{
		httpClient:  httpClient,
		logger:      logger,
		endpoint:    defaultAPIBase,
		accessToken: accessToken,
	}
}

// Reply はリプライトークンを使って応答メッセージを送る。
func (c *Client) Reply(ctx context.Context, replyToken string, msgs ...OutboundMessage) error {
	if replyToken == "" {
		return fmt.Errorf("リプライトークンが空です")
	}
	return c.send(ctx, "/v2/bot/message/reply", map[string]any{
		"replyToken": replyToken,
		"messages":   limitMessages(msgs),
	})
}

// Push は指定ユーザーにプッシュメッセージを送る。
func (c *Client) Push(ctx context.Context, to string, msgs ...OutboundMessage) error {
	if to == "" {
		return fmt.Errorf("送信先が空です")
	}
	return c.send(ctx, "/v2/bot/message/push", map[string]any{
		"to":       to,
		"messages": limitMessages(msgs),
	})
}

// Profile はLINEユーザーのプロフィールを取得する。
func (c *Client) Profile(ctx context.Context, userID string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.endpoint+"/v2/bot/profile/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("LINEプロフィールの取得に失敗しました", slog.String("error", err.Error()))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("LINE APIがステータス %d を返しました", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("プロフィールJSONのパースに失敗しました: %w", err)
	}
	return &profile, nil
}

func (c *Client) send(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("LINE Messaging APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("LINE Messaging APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(detail)),
		)
		return fmt.Errorf("LINE APIがステータス %d を返しました", resp.StatusCode)
	}
	return nil
}

func limitMessages(msgs []OutboundMessage) []OutboundMessage {
	if len(msgs) > maxMessagesPerRequest {
		return msgs[:maxMessagesPerRequest]
	}
	if msgs == nil {
		return []OutboundMessage{}
	}
	return msgs
}
