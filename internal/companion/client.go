package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	defaultBaseURL         = "https://api.openai.com"
	defaultChatModel       = "gpt-4o-mini"
	defaultTranscribeModel = "whisper-1"
	defaultSpeechModel     = "tts-1"
	defaultVoice           = "alloy"
	maxErrorBodySize       = 4096
	maxSpeechSize          = 10 << 20
)

// ErrEmptyCompletion はチャットAPIが応答を返さなかったことを表す。
var ErrEmptyCompletion = errors.New("empty completion")

// Completer はチャット補完のインターフェース。
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Speech は音声認識と音声合成のインターフェース。
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, filename string, language string) (string, error)
	Synthesize(ctx context.Context, text string, language string) ([]byte, string, error)
}

// Message はチャットの1発言。Roleは "system"、"user"、"assistant" のいずれか。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config はClientの設定。
type Config struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	TranscribeModel string
	SpeechModel     string
	Voice           string
}

// Client はOpenAI互換APIのクライアント。
type Client struct {
	httpClient      *http.Client
	logger          *slog.Logger
	endpoint        string // テスト用にエンドポイントを差し替え可能
	apiKey          string
	chatModel       string
	transcribeModel string
	speechModel     string
	voice           string
}

var (
	_ Completer = (*Client)(nil)
	_ Speech    = (*Client)(nil)
)

// NewClient はClientの新しいインスタンスを生成する。未指定の項目は既定値を使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	c := &Client{
		httpClient:      httpClient,
		logger:          logger,
		endpoint:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		chatModel:       cfg.ChatModel,
		transcribeModel: cfg.TranscribeModel,
		speechModel:     cfg.SpeechModel,
		voice:           cfg.Voice,
	}
	if c.endpoint == "" {
		c.endpoint = defaultBaseURL
	}
	if c.chatModel == "" {
		c.chatModel = defaultChatModel
	}
	if c.transcribeModel == "" {
		c.transcribeModel = defaultTranscribeModel
	}
	if c.speechModel == "" {
		c.speechModel = defaultSpeechModel
	}
	if c.voice == "" {
		c.voice = defaultVoice
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// Complete はチャット補完を実行し、最初の候補の本文を返す。
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   600,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	resp, err := c.post(ctx, "/v1/chat/completions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe は音声データをmultipartで送信し、書き起こしたテキストを返す。
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string, language string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("multipartの生成に失敗しました: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("multipartの生成に失敗しました: %w", err)
	}
	fields := map[string]string{"model": c.transcribeModel, "response_format": "json"}
	if language != "" {
		fields["language"] = language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("multipartの生成に失敗しました: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("multipartの生成に失敗しました: %w", err)
	}

	resp, err := c.post(ctx, "/v1/audio/transcriptions", w.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize はテキストを音声（mp3）に変換し、データとContent-Typeを返す。
// 言語は入力テキストから推定されるため、languageはログにのみ使う。
func (c *Client) Synthesize(ctx context.Context, text string, language string) ([]byte, string, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          c.speechModel,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, "", fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	resp, err := c.post(ctx, "/v1/audio/speech", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("音声データの読み取りに失敗しました: %w", err)
	}
	if len(data) > maxSpeechSize {
		return nil, "", fmt.Errorf("音声データが上限（%dバイト）を超えています", maxSpeechSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	c.logger.Debug("音声を合成しました",
		slog.String("language", language),
		slog.Int("size", len(data)),
	)
	return data, contentType, nil
}

// post はリクエストを送信し、2xx以外のステータスをエラーとして返す。
// 成功時のレスポンスボディは呼び出し側で閉じる。
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("AI APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Error("AI APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(detail)),
		)
		return nil, fmt.Errorf("AI APIがステータス %d を返しました", resp.StatusCode)
	}
	return resp, nil
}
