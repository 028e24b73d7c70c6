package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/paintedminds/paintedminds/internal/canvas"
	"github.com/paintedminds/paintedminds/internal/model"
	"github.com/paintedminds/paintedminds/internal/sketch"
)

// maxSnapshotBodySize はスナップショット読み込みのリクエストボディの最大サイズ。
const maxSnapshotBodySize = 8 << 20

// SketchManagerInterface は描画セッションハンドラーが必要とするインターフェース。
type SketchManagerInterface interface {
	Create(userID string, in sketch.CreateInput) (sketch.View, error)
	Get(userID, id string) (sketch.View, error)
	Input(userID, id string, events []sketch.InputEvent) (sketch.View, error)
	SetTool(userID, id, name string) (sketch.View, error)
	SetColor(userID, id, hex string) (sketch.View, error)
	Undo(userID, id string) (sketch.View, bool, error)
	Redo(userID, id string) (sketch.View, bool, error)
	Clear(userID, id string) (sketch.View, canvas.Notice, error)
	Resize(userID, id string, width, height float64, device string) (sketch.View, error)
	Snapshot(userID, id string) (canvas.Snapshot, error)
	Load(userID, id string, snap canvas.Snapshot) (sketch.View, error)
	Export(userID, id, format string, quality float64) ([]byte, canvas.Format, error)
	Save(ctx context.Context, userID, id string, in sketch.SaveInput) (*model.Drawing, error)
	Dispose(userID, id string) error
}

// SketchHandler はサーバー側で保持する描画セッションのHTTPハンドラー。
type SketchHandler struct {
	manager SketchManagerInterface
}

// NewSketchHandler はSketchHandlerを生成する。
func NewSketchHandler(manager SketchManagerInterface) *SketchHandler {
	return &SketchHandler{manager: manager}
}

// historyResponse は元に戻す・やり直しの結果。Changedがfalseの場合は履歴がなかった。
type historyResponse struct {
	Sketch  sketch.View `json:"sketch"`
	Changed bool        `json:"changed"`
}

type clearResponse struct {
	Sketch sketch.View   `json:"sketch"`
	Notice canvas.Notice `json:"notice"`
}

// Create は描画セッションを開始する。
// POST /api/sketches
func (h *SketchHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req sketch.CreateInput
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.manager.Create(userID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Get はセッションの状態を返す。
// GET /api/sketches/{id}
func (h *SketchHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, err := h.manager.Get(userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type inputRequest struct {
	Events []sketch.InputEvent `json:"events"`
}

// Input はタッチ・ポインター入力のバッチを適用する。
// POST /api/sketches/{id}/input
func (h *SketchHandler) Input(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Events) > sketch.MaxEventsPerBatch {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInputError("イベント数が多すぎます: 最大"+strconv.Itoa(sketch.MaxEventsPerBatch)+"件"))
		return
	}

	view, err := h.manager.Input(userID, chi.URLParam(r, "id"), req.Events)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type toolRequest struct {
	Tool string `json:"tool"`
}

// SetTool はツールを切り替える。
// PUT /api/sketches/{id}/tool
func (h *SketchHandler) SetTool(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req toolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := h.manager.SetTool(userID, chi.URLParam(r, "id"), req.Tool)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type colorRequest struct {
	Color string `json:"color"`
}

// SetColor は描画色を変更する。
// PUT /api/sketches/{id}/color
func (h *SketchHandler) SetColor(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req colorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := h.manager.SetColor(userID, chi.URLParam(r, "id"), req.Color)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Undo は直前の操作を取り消す。
// POST /api/sketches/{id}/undo
func (h *SketchHandler) Undo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, changed, err := h.manager.Undo(userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Sketch: view, Changed: changed})
}

// Redo は取り消した操作をやり直す。
// POST /api/sketches/{id}/redo
func (h *SketchHandler) Redo(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, changed, err := h.manager.Redo(userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Sketch: view, Changed: changed})
}

// Clear はキャンバスを消去する。
// POST /api/sketches/{id}/clear
func (h *SketchHandler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	view, notice, err := h.manager.Clear(userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{Sketch: view, Notice: notice})
}

type resizeRequest struct {
	ContainerWidth  float64 `json:"container_width"`
	ContainerHeight float64 `json:"container_height"`
	Device          string  `json:"device"`
}

// Resize はコンテナサイズの変更を反映する。
// PUT /api/sketches/{id}/size
func (h *SketchHandler) Resize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req resizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	view, err := h.manager.Resize(userID, chi.URLParam(r, "id"), req.ContainerWidth, req.ContainerHeight, req.Device)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetSnapshot はセッションの描画内容をスナップショットとして返す。
// GET /api/sketches/{id}/snapshot
func (h *SketchHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	snap, err := h.manager.Snapshot(userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	data, err := canvas.MarshalSnapshot(snap)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// LoadSnapshot はスナップショットでセッションの描画内容を置き換える。
// PUT /api/sketches/{id}/snapshot
func (h *SketchHandler) LoadSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBodySize))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, errInvalidRequest)
		return
	}
	snap, err := canvas.UnmarshalSnapshot(body)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("snapshotの形式が正しくありません"))
		return
	}

	view, err := h.manager.Load(userID, chi.URLParam(r, "id"), snap)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Export は描画内容を画像として返す。
// GET /api/sketches/{id}/export?format=png|jpeg&quality=0.9
func (h *SketchHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	quality := 0.0
	if v := r.URL.Query().Get("quality"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInputError("qualityは数値で指定してください"))
			return
		}
		quality = q
	}

	id := chi.URLParam(r, "id")
	data, format, err := h.manager.Export(userID, id, r.URL.Query().Get("format"), quality)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="drawing`+format.Extension()+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Save はセッションの描画内容を絵として保存する。
// POST /api/sketches/{id}/save
func (h *SketchHandler) Save(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req sketch.SaveInput
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.manager.Save(r.Context(), userID, chi.URLParam(r, "id"), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDrawingResponse(d))
}

// Dispose はセッションを破棄する。
// DELETE /api/sketches/{id}
func (h *SketchHandler) Dispose(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.manager.Dispose(userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
