package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/paintedminds/paintedminds/internal/line"
	"github.com/paintedminds/paintedminds/internal/model"
)

// maxWebhookBodySize はLINE Webhookのリクエストボディの最大サイズ。
const maxWebhookBodySize = 1 << 20

// WebhookDispatcher はLINE Webhookの検証とイベント処理を行うインターフェース。
type WebhookDispatcher interface {
	Handle(ctx context.Context, body []byte, signature string) error
}

// LineLinkServiceInterface はアプリ側のアカウント連携操作。
type LineLinkServiceInterface interface {
	IssueForUser(ctx context.Context, userID string) (*model.LinkToken, error)
	ExchangeForUser(ctx context.Context, code, userID string) (*model.LineAccount, error)
	Unlink(ctx context.Context, userID string) (bool, error)
	Status(ctx context.Context, userID string) (*model.LineAccount, error)
}

// LineHandler はLINE連携のHTTPハンドラー。
type LineHandler struct {
	dispatcher WebhookDispatcher
	links      LineLinkServiceInterface
}

// NewLineHandler はLineHandlerを生成する。
func NewLineHandler(dispatcher WebhookDispatcher, links LineLinkServiceInterface) *LineHandler {
	return &LineHandler{dispatcher: dispatcher, links: links}
}

// Webhook はLINEプラットフォームからのWebhookを受け付ける。
// 署名が正しければイベントの処理結果にかかわらず200を返す。
// POST /line/webhook
func (h *LineHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Warn("failed to read line webhook body", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, errInvalidRequest)
		return
	}

	if err := h.dispatcher.Handle(r.Context(), body, r.Header.Get(line.SignatureHeader)); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type linkTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type lineStatusResponse struct {
	Linked      bool       `json:"linked"`
	DisplayName string     `json:"display_name,omitempty"`
	LinkedAt    *time.Time `json:"linked_at,omitempty"`
}

func toLineStatusResponse(a *model.LineAccount) lineStatusResponse {
	if a == nil {
		return lineStatusResponse{Linked: false}
	}
	linkedAt := a.CreatedAt
	return lineStatusResponse{Linked: true, DisplayName: a.DisplayName, LinkedAt: &linkedAt}
}

// IssueLinkToken は設定画面からの連携コードを発行する。ユーザーはコードをボットに送信して連携する。
// POST /api/line/link-token
func (h *LineHandler) IssueLinkToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	token, err := h.links.IssueForUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, linkTokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt})
}

type linkRequest struct {
	Code string `json:"code"`
}

// Link はチャットで受け取った連携コードを交換する。
// POST /api/line/link
func (h *LineHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("codeは必須です"))
		return
	}

	account, err := h.links.ExchangeForUser(r.Context(), req.Code, userID)
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			slog.Error("failed to exchange line link token",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineStatusResponse(account))
}

// Status は連携状態を返す。
// GET /api/line/status
func (h *LineHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	account, err := h.links.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineStatusResponse(account))
}

// Unlink は連携を解除する。未連携の場合も204を返す。
// DELETE /api/line/link
func (h *LineHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if _, err := h.links.Unlink(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
