package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/paintedminds/paintedminds/internal/companion"
	"github.com/paintedminds/paintedminds/internal/model"
)

// CompanionServiceInterface はコンパニオンと音声のハンドラーが必要とするサービスインターフェース。
type CompanionServiceInterface interface {
	Chat(ctx context.Context, kind companion.Kind, lang model.Language, history []companion.Message, text string) (*companion.Reply, error)
	Transcribe(ctx context.Context, audio []byte, filename string, lang model.Language) (string, error)
	Synthesize(ctx context.Context, text string, lang model.Language) ([]byte, string, error)
}

// LanguageResolver はユーザーの表示言語を返す。
type LanguageResolver interface {
	LanguageOf(ctx context.Context, userID string) model.Language
}

// CompanionHandler はコンパニオンとの会話、音声の書き起こしと読み上げのHTTPハンドラー。
type CompanionHandler struct {
	service   CompanionServiceInterface
	languages LanguageResolver
}

// NewCompanionHandler はCompanionHandlerを生成する。
func NewCompanionHandler(service CompanionServiceInterface, languages LanguageResolver) *CompanionHandler {
	return &CompanionHandler{service: service, languages: languages}
}

// language はリクエストで指定された言語を優先し、なければユーザー設定の言語を返す。
func (h *CompanionHandler) language(ctx context.Context, userID, requested string) model.Language {
	if requested != "" {
		if lang, ok := model.ParseLanguage(requested); ok {
			return lang
		}
	}
	if h.languages != nil {
		return h.languages.LanguageOf(ctx, userID)
	}
	return model.DefaultLanguage
}

type chatRequest struct {
	Message  string              `json:"message"`
	History  []companion.Message `json:"history"`
	Language string              `json:"language"`
}

// Chat はコンパニオンに発言を送り、返答を返す。会話履歴はクライアントが保持する。
// POST /api/companions/{kind}/messages
func (h *CompanionHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	kind, err := companion.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "COMPANION_NOT_FOUND",
			Message:  "指定されたコンパニオンは存在しません。",
			Category: "validation",
			Action:   "cbt または buddy を指定してください。",
		})
		return
	}

	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.service.Chat(r.Context(), kind, h.language(r.Context(), userID, req.Language), req.History, req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Transcribe はアップロードされた音声を書き起こす。
// multipart/form-data の audio フィールドに音声ファイル、language フィールドに言語を指定する。
// POST /api/speech/transcribe
func (h *CompanionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, companion.MaxAudioSize+(1<<20))
	if err := r.ParseMultipartForm(companion.MaxAudioSize); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInputError("音声は"+strconv.Itoa(companion.MaxAudioSize>>20)+"MB以下のmultipart/form-dataで送信してください"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("audioフィールドは必須です"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, companion.MaxAudioSize+1))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, errInvalidRequest)
		return
	}

	lang := h.language(r.Context(), userID, r.FormValue("language"))
	text, err := h.service.Transcribe(r.Context(), audio, header.Filename, lang)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text, "language": string(lang)})
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Synthesize はテキストを読み上げた音声を返す。
// POST /api/speech/synthesize
func (h *CompanionHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req synthesizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	audio, contentType, err := h.service.Synthesize(r.Context(), req.Text, h.language(r.Context(), userID, req.Language))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}
