// Package enhance はスケッチを清書されたイラストに変換する外部画像生成APIのクライアントを提供する。
// 生成は非同期で、予測（prediction）を作成したあと終了状態になるまでポーリングする。
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultEndpoint     = "https://api.replicate.com"
	defaultPollInterval = 2 * time.Second
	maxErrorBodySize    = 4096
)

// 予測の状態。
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// ErrPredictionFailed は生成APIが失敗状態を返したことを表す。
var ErrPredictionFailed = errors.New("prediction failed")

// Enhancer は絵の強化処理のインターフェース。
type Enhancer interface {
	Enhance(ctx context.Context, req Request) (string, error)
}

// Request は強化リクエスト。
type Request struct {
	ImageURL    string
	Description string
	StyleHint   string
}

// Config はClientの設定。
type Config struct {
	APIToken string
	// Model は "owner/name:version" 形式の生成モデル。
	Model        string
	PollInterval time.Duration
}

// Client は画像生成APIのクライアント。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	endpoint     string // テスト用にエンドポイントを差し替え可能
	token        string
	model        string
	pollInterval time.Duration
}

var _ Enhancer = (*Client)(nil)

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		endpoint:     defaultEndpoint,
		token:        cfg.APIToken,
		model:        cfg.Model,
		pollInterval: interval,
	}
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Image          string  `json:"image"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Strength       float64 `json:"prompt_strength"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

// Enhance は予測を作成し、終了状態になるまでポーリングして生成画像のURLを返す。
// 待ち時間の上限は呼び出し元のコンテキストで指定する。
func (c *Client) Enhance(ctx context.Context, req Request) (string, error) {
	if req.ImageURL == "" {
		return "", fmt.Errorf("image URL is required")
	}

	body := predictionRequest{
		Version: c.model,
		Input: predictionInput{
			Image:          req.ImageURL,
			Prompt:         BuildPrompt(req.Description, req.StyleHint),
			NegativePrompt: negativePrompt,
			Strength:       0.65,
		},
	}
	pred, err := c.do(ctx, http.MethodPost, "/v1/predictions", body)
	if err != nil {
		return "", err
	}

	c.logger.Info("画像生成を開始しました", slog.String("prediction_id", pred.ID))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		switch pred.Status {
		case StatusSucceeded:
			url, err := outputURL(pred.Output)
			if err != nil {
				return "", err
			}
			return url, nil
		case StatusFailed, StatusCanceled:
			return "", fmt.Errorf("%w: %s: %v", ErrPredictionFailed, pred.Status, pred.Error)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("prediction %s did not finish: %w", pred.ID, ctx.Err())
		case <-ticker.C:
		}

		pred, err = c.do(ctx, http.MethodGet, "/v1/predictions/"+pred.ID, nil)
		if err != nil {
			return "", err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*prediction, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("画像生成APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Error("画像生成APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(detail)),
		)
		return nil, fmt.Errorf("画像生成APIがステータス %d を返しました", resp.StatusCode)
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &pred, nil
}

// outputURL は予測の出力からURLを取り出す。出力は文字列または文字列の配列。
func outputURL(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}
	return "", fmt.Errorf("prediction output has no image URL")
}
