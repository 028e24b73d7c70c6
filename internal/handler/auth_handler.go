// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paintedminds/paintedminds/internal/model"
)

const (
	sessionCookieName = "session_id"
	oauthStateCookie  = "oauth_state"
	oauthNextCookie   = "oauth_next"

	oauthFlowMaxAge = 600 // ログイン画面での滞在上限（秒）
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string // フロントエンドのURL。ログイン後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // 秒
}

// AuthHandler はGoogleログインとセッションCookieを扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{service: service, config: config}
}

var errOAuthState = &model.APIError{
	Code:     "INVALID_REQUEST",
	Message:  "ログインの有効期限が切れたか、不正なリクエストです。",
	Category: "auth",
	Action:   "もう一度ログインしてください。",
}

var errLoginFailed = &model.APIError{
	Code:     model.ErrCodeInternal,
	Message:  "ログインに失敗しました。",
	Category: "auth",
	Action:   "しばらく待ってから再度お試しください。",
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?next=/draw?gratitude=...
// nextはフロントエンド内の相対パスのみ受け付け、コールバック後にそこへ戻す。
// LINEの返信リンクから未ログインで来たユーザーを描画画面に戻すのに使う。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("OAuth stateの生成に失敗", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, errLoginFailed)
		return
	}

	http.SetCookie(w, h.cookie(oauthStateCookie, state, oauthFlowMaxAge, ""))
	if next := r.URL.Query().Get("next"); isLocalPath(next) {
		http.SetCookie(w, h.cookie(oauthNextCookie, next, oauthFlowMaxAge, ""))
	}

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、セッションCookieを発行する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("OAuth stateが一致しない", slog.String("query_state", state))
		writeAPIErrorResponse(w, http.StatusBadRequest, errOAuthState)
		return
	}
	http.SetCookie(w, h.cookie(oauthStateCookie, "", -1, ""))

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, errOAuthState)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("OAuthコールバックの処理に失敗", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, errLoginFailed)
		return
	}

	http.SetCookie(w, h.cookie(sessionCookieName, session.ID, h.config.SessionMaxAge, h.config.CookieDomain))

	target := h.config.BaseURL
	if next, err := r.Cookie(oauthNextCookie); err == nil && isLocalPath(next.Value) {
		target = strings.TrimRight(h.config.BaseURL, "/") + next.Value
		http.SetCookie(w, h.cookie(oauthNextCookie, "", -1, ""))
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
// サービス側の削除に失敗してもCookieは消す。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			slog.Error("ログアウトに失敗", slog.String("error", err.Error()))
		}
	}
	http.SetCookie(w, h.cookie(sessionCookieName, "", -1, h.config.CookieDomain))
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

func (h *AuthHandler) cookie(name, value string, maxAge int, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// isLocalPath はオープンリダイレクトにならない相対パスかを判定する。
func isLocalPath(p string) bool {
	if p == "" || p[0] != '/' || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return false
	}
	return true
}

// meResponse はGET /auth/meのレスポンス。
type meResponse struct {
	ID                    string `json:"id"`
	Email                 string `json:"email"`
	Name                  string `json:"name"`
	Language              string `json:"language"`
	TimezoneOffsetMinutes int    `json:"timezone_offset_minutes"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, toMeResponse(user))
}

func toMeResponse(u *model.User) meResponse {
	lang := u.Language
	if lang == "" {
		lang = model.DefaultLanguage
	}
	return meResponse{
		ID:                    u.ID,
		Email:                 u.Email,
		Name:                  u.Name,
		Language:              string(lang),
		TimezoneOffsetMinutes: u.TimezoneOffsetMinutes,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
