package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/paintedminds/paintedminds/internal/middleware"
	"github.com/paintedminds/paintedminds/internal/model"
)

// maxJSONBodySize はJSONリクエストボディの最大サイズ。
const maxJSONBodySize = 1 << 20

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

var errUnauthorized = &model.APIError{
	Code:     "UNAUTHORIZED",
	Message:  "認証が必要です。",
	Category: "auth",
	Action:   "ログインしてください。",
}

var errInvalidRequest = &model.APIError{
	Code:     "INVALID_REQUEST",
	Message:  "リクエストボディの解析に失敗しました。",
	Category: "validation",
	Action:   "正しいJSON形式でリクエストしてください。",
}

// requireUserID はコンテキストからユーザーIDを取り出す。
// 取り出せない場合は401を書き込み、okにfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, errUnauthorized)
		return "", false
	}
	return userID, true
}

// decodeJSON はリクエストボディをdstにデコードする。失敗した場合は400を書き込む。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, errInvalidRequest)
		return false
	}
	return true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse はAPIErrorをJSON形式でレスポンスに書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱い、詳細はログにのみ出す
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidInput, model.ErrCodeInvalidToken, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeSignatureInvalid, "UNAUTHORIZED":
		return http.StatusUnauthorized
	case model.ErrCodeDrawingNotFound, model.ErrCodeSketchNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeAlreadyLinked, model.ErrCodeSaveInProgress, model.ErrCodeEnhancementInProgress:
		return http.StatusConflict
	case model.ErrCodeTokenExpired:
		return http.StatusGone
	case model.ErrCodeEnhancementFailed:
		return http.StatusBadGateway
	case model.ErrCodeCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parsePage はcursor（RFC3339）とlimitのクエリパラメータを解析する。
func parsePage(r *http.Request) (time.Time, int, error) {
	var cursor time.Time
	if v := r.URL.Query().Get("cursor"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, 0, model.NewInputError("cursorの形式が正しくありません")
		}
		cursor = t
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return time.Time{}, 0, model.NewInputError("limitは0以上の整数で指定してください")
		}
		limit = n
	}
	return cursor, limit, nil
}
