// Package companion は2種類のAIコンパニオン（CBTアシスタントと話し相手）との会話、
// および音声の書き起こしと読み上げを提供する。
//
// 会話履歴はサーバーに保存せず、クライアントが毎回送信する。送られた履歴は
// サニタイズしたうえで直近MaxHistoryTurns件に切り詰める。
package companion

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/security"
)

const (
	// MaxHistoryTurns はAPIに送る過去の発言数の上限。
	MaxHistoryTurns = 20
	// MaxMessageRunes は1発言の最大文字数。
	MaxMessageRunes = 2000
	// MaxSpeechTextRunes は読み上げるテキストの最大文字数。
	MaxSpeechTextRunes = 1000
	// MaxAudioSize は書き起こしを受け付ける音声データの最大サイズ。
	MaxAudioSize = 10 << 20
)

var allowedAudioExtensions = map[string]bool{
	".mp3": true, ".mp4": true, ".m4a": true, ".wav": true, ".webm": true, ".ogg": true, ".mpeg": true,
}

// Reply はコンパニオンの返答。
type Reply struct {
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`
}

// Service はコンパニオンのサービス層。
type Service struct {
	completer Completer
	speech    Speech
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(completer Completer, speech Speech, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	return &Service{
		completer: completer,
		speech:    speech,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Chat はユーザーの発言に対するコンパニオンの返答を生成する。
func (s *Service) Chat(ctx context.Context, kind Kind, lang model.Language, history []Message, text string) (*Reply, error) {
	text = s.sanitizer.Clean(text, MaxMessageRunes)
	if text == "" {
		return nil, model.NewInputError("メッセージは必須です")
	}

	messages := make([]Message, 0, MaxHistoryTurns+2)
	messages = append(messages, Message{Role: "system", Content: SystemPrompt(kind, lang)})
	messages = append(messages, s.trimHistory(history)...)
	messages = append(messages, Message{Role: "user", Content: text})

	content, err := s.completer.Complete(ctx, messages)
	if err != nil {
		s.logger.Error("コンパニオンの応答生成に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewCollaboratorUnavailableError("companion")
	}
	return &Reply{Kind: kind, Content: content}, nil
}

// trimHistory はuser/assistant以外の発言と空の発言を除き、直近MaxHistoryTurns件を返す。
func (s *Service) trimHistory(history []Message) []Message {
	cleaned := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		content := s.sanitizer.Clean(m.Content, MaxMessageRunes)
		if content == "" {
			continue
		}
		cleaned = append(cleaned, Message{Role: m.Role, Content: content})
	}
	if len(cleaned) > MaxHistoryTurns {
		cleaned = cleaned[len(cleaned)-MaxHistoryTurns:]
	}
	return cleaned
}

// Transcribe は音声を書き起こす。
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename string, lang model.Language) (string, error) {
	if len(audio) == 0 {
		return "", model.NewInputError("音声データは必須です")
	}
	if len(audio) > MaxAudioSize {
		return "", model.NewInputError("音声データが大きすぎます")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedAudioExtensions[ext] {
		return "", model.NewInputError("対応していない音声形式です")
	}

	text, err := s.speech.Transcribe(ctx, audio, "audio"+ext, string(lang))
	if err != nil {
		s.logger.Error("音声の書き起こしに失敗しました", slog.String("error", err.Error()))
		return "", model.NewCollaboratorUnavailableError("speech")
	}
	return s.sanitizer.Clean(text, MaxMessageRunes), nil
}

// Synthesize はテキストを読み上げた音声データとContent-Typeを返す。
func (s *Service) Synthesize(ctx context.Context, text string, lang model.Language) ([]byte, string, error) {
	text = s.sanitizer.Clean(text, MaxSpeechTextRunes)
	if text == "" {
		return nil, "", model.NewInputError("テキストは必須です")
	}

	audio, contentType, err := s.speech.Synthesize(ctx, text, string(lang))
	if err != nil {
		s.logger.Error("音声の合成に失敗しました", slog.String("error", err.Error()))
		return nil, "", model.NewCollaboratorUnavailableError("speech")
	}
	return audio, contentType, nil
}
