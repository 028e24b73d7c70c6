package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paintedminds/paintedminds/internal/canvas"
	"github.com/paintedminds/paintedminds/internal/drawing"
	"github.com/paintedminds/paintedminds/internal/model"
)

// DrawingServiceInterface は絵ハンドラーが必要とするサービスインターフェース。
type DrawingServiceInterface interface {
	Save(ctx context.Context, userID string, in drawing.SaveInput) (*model.Drawing, error)
	ListJournal(ctx context.Context, userID string, cursor time.Time, limit int) ([]*model.Drawing, error)
	ListGallery(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.DrawingWithStar, error)
	Get(ctx context.Context, userID, drawingID string) (*model.Drawing, error)
	Delete(ctx context.Context, userID, drawingID string) error
	SetPublic(ctx context.Context, userID, drawingID string, public bool) error
	ToggleStar(ctx context.Context, userID, drawingID string) (bool, int, error)
	RequestEnhancement(ctx context.Context, userID, drawingID, description, styleHint string) error
}

// DrawingHandler は絵（ジャーナル、ギャラリー）のHTTPハンドラー。
type DrawingHandler struct {
	service DrawingServiceInterface
}

// NewDrawingHandler はDrawingHandlerを生成する。
func NewDrawingHandler(service DrawingServiceInterface) *DrawingHandler {
	return &DrawingHandler{service: service}
}

// drawingResponse は絵のレスポンス。
type drawingResponse struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Title             string    `json:"title"`
	ImageURL          string    `json:"image_url"`
	ThumbnailURL      string    `json:"thumbnail_url"`
	EnhancedImageURL  string    `json:"enhanced_image_url,omitempty"`
	IsEnhanced        bool      `json:"is_enhanced"`
	IsGratitudeEntry  bool      `json:"is_gratitude_entry"`
	IsPublic          bool      `json:"is_public"`
	GratitudePrompt   string    `json:"gratitude_prompt,omitempty"`
	UserDescription   string    `json:"user_description,omitempty"`
	StyleHint         string    `json:"style_hint,omitempty"`
	StarCount         int       `json:"star_count"`
	IsStarred         *bool     `json:"is_starred,omitempty"`
	EnhancementStatus string    `json:"enhancement_status"`
	CreatedAt         time.Time `json:"created_at"`
}

// drawingDetailResponse はスナップショットを含む絵の詳細レスポンス。
type drawingDetailResponse struct {
	drawingResponse
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// drawingListResponse は一覧レスポンス。次のページはnext_cursorをcursorに指定して取得する。
type drawingListResponse struct {
	Drawings   []drawingResponse `json:"drawings"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func toDrawingResponse(d *model.Drawing) drawingResponse {
	return drawingResponse{
		ID:                d.ID,
		UserID:            d.UserID,
		Title:             d.Title,
		ImageURL:          d.ImageURL,
		ThumbnailURL:      d.ThumbnailURL,
		EnhancedImageURL:  d.EnhancedImageURL,
		IsEnhanced:        d.IsEnhanced,
		IsGratitudeEntry:  d.IsGratitudeEntry,
		IsPublic:          d.IsPublic,
		GratitudePrompt:   d.GratitudePrompt,
		UserDescription:   d.UserDescription,
		StyleHint:         d.StyleHint,
		StarCount:         d.StarCount,
		EnhancementStatus: string(d.EnhancementStatus),
		CreatedAt:         d.CreatedAt,
	}
}

// nextCursor は件数がlimitに達した場合のみ最後の要素の作成日時を返す。
func nextCursor(n, limit int, last time.Time) string {
	if limit <= 0 {
		limit = drawing.DefaultPageSize
	}
	if limit > drawing.MaxPageSize {
		limit = drawing.MaxPageSize
	}
	if n == 0 || n < limit {
		return ""
	}
	return last.UTC().Format(time.RFC3339Nano)
}

// saveDrawingRequest はPOST /api/drawingsのリクエストボディ。
type saveDrawingRequest struct {
	Title            string          `json:"title"`
	Snapshot         json.RawMessage `json:"snapshot"`
	IsGratitudeEntry bool            `json:"is_gratitude_entry"`
	IsPublic         bool            `json:"is_public"`
	GratitudePrompt  string          `json:"gratitude_prompt"`
	Description      string          `json:"description"`
	StyleHint        string          `json:"style_hint"`
}

// Save はクライアントが保持するスナップショットから絵を保存する。
// POST /api/drawings
func (h *DrawingHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req saveDrawingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Snapshot) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("snapshotは必須です"))
		return
	}
	snap, err := canvas.UnmarshalSnapshot(req.Snapshot)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("snapshotの形式が正しくありません"))
		return
	}

	d, err := h.service.Save(r.Context(), userID, drawing.SaveInput{
		Title:            req.Title,
		Snapshot:         snap,
		IsGratitudeEntry: req.IsGratitudeEntry,
		IsPublic:         req.IsPublic,
		GratitudePrompt:  req.GratitudePrompt,
		UserDescription:  req.Description,
		StyleHint:        req.StyleHint,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDrawingResponse(d))
}

// ListJournal はユーザー自身の絵を新しい順に返す。
// GET /api/drawings?cursor=...&limit=...
func (h *DrawingHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	cursor, limit, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	drawings, err := h.service.ListJournal(r.Context(), userID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := drawingListResponse{Drawings: make([]drawingResponse, len(drawings))}
	for i, d := range drawings {
		resp.Drawings[i] = toDrawingResponse(d)
	}
	if n := len(drawings); n > 0 {
		resp.NextCursor = nextCursor(n, limit, drawings[n-1].CreatedAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListGallery は公開された絵を新しい順に返す。
// GET /api/gallery?cursor=...&limit=...
func (h *DrawingHandler) ListGallery(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	cursor, limit, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	drawings, err := h.service.ListGallery(r.Context(), userID, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := drawingListResponse{Drawings: make([]drawingResponse, len(drawings))}
	for i := range drawings {
		d := toDrawingResponse(&drawings[i].Drawing)
		starred := drawings[i].IsStarred
		d.IsStarred = &starred
		resp.Drawings[i] = d
	}
	if n := len(drawings); n > 0 {
		resp.NextCursor = nextCursor(n, limit, drawings[n-1].CreatedAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は絵の詳細を返す。
// GET /api/drawings/{id}
func (h *DrawingHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := drawingDetailResponse{drawingResponse: toDrawingResponse(d)}
	if len(d.Snapshot) > 0 {
		resp.Snapshot = json.RawMessage(d.Snapshot)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete は絵を削除する。
// DELETE /api/drawings/{id}
func (h *DrawingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setPublicRequest struct {
	IsPublic *bool `json:"is_public"`
}

// SetPublic はギャラリーへの共有状態を切り替える。
// PUT /api/drawings/{id}/public
func (h *DrawingHandler) SetPublic(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req setPublicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsPublic == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("is_publicは必須です"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.SetPublic(r.Context(), userID, id, *req.IsPublic); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_public": *req.IsPublic})
}

// ToggleStar はスターを付け外しする。
// POST /api/drawings/{id}/star
func (h *DrawingHandler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	starred, count, err := h.service.ToggleStar(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_starred": starred, "star_count": count})
}

type enhanceRequest struct {
	Description string `json:"description"`
	StyleHint   string `json:"style_hint"`
}

// RequestEnhancement は仕上げ処理を要求する。処理はワーカーが非同期に行う。
// POST /api/drawings/{id}/enhance
func (h *DrawingHandler) RequestEnhancement(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req enhanceRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.service.RequestEnhancement(r.Context(), userID, id, req.Description, req.StyleHint); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":                 id,
		"enhancement_status": string(model.EnhancementPending),
	})
}
