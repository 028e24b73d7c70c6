// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, drawing, line, collaborator, warning, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	ErrCodeEnhancementFailed       = "ENHANCEMENT_FAILED"
	ErrCodeTokenExpired            = "TOKEN_EXPIRED"
	ErrCodeInvalidToken            = "INVALID_TOKEN"
	ErrCodeAlreadyLinked           = "ALREADY_LINKED"
	ErrCodeSignatureInvalid        = "SIGNATURE_INVALID"
	ErrCodeDrawingNotFound         = "DRAWING_NOT_FOUND"
	ErrCodeSketchNotFound          = "SKETCH_NOT_FOUND"
	ErrCodeSaveInProgress          = "SAVE_IN_PROGRESS"
	ErrCodeEnhancementInProgress   = "ENHANCEMENT_IN_PROGRESS"
	ErrCodeUserNotFound            = "USER_NOT_FOUND"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewInputError は入力値エラーを生成する。状態は変更されない。
func NewInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewCollaboratorUnavailableError は外部サービス（ストレージ、画像生成、チャット、音声）の障害エラーを生成する。
func NewCollaboratorUnavailableError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeCollaboratorUnavailable,
		Message:  fmt.Sprintf("外部サービスが利用できません: %s", service),
		Category: "collaborator",
		Action:   "しばらく待ってから再度お試しください。描いた内容は保持されています。",
	}
}

// NewEnhancementFailedError は保存は成功したが画像の仕上げに失敗した場合の部分成功エラーを生成する。
func NewEnhancementFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeEnhancementFailed,
		Message:  "絵は保存されましたが、仕上げ処理に失敗しました。",
		Category: "warning",
		Action:   "ジャーナルから仕上げを再度リクエストできます。",
	}
}

// NewTokenExpiredError は連携コードの有効期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "連携コードの有効期限が切れています。",
		Category: "line",
		Action:   "新しい連携コードを発行してください。",
	}
}

// NewInvalidTokenError は連携コードが見つからない場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "連携コードが無効です。",
		Category: "line",
		Action:   "コードを確認して再度入力してください。",
	}
}

// NewAlreadyLinkedError は既にアカウント連携済みの場合のエラーを生成する。
func NewAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLinked,
		Message:  "このLINEアカウントまたはユーザーは既に連携されています。",
		Category: "line",
		Action:   "連携を解除してから再度お試しください。",
	}
}

// NewSignatureInvalidError はWebhook署名の検証失敗エラーを生成する。
func NewSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "署名の検証に失敗しました。",
		Category: "auth",
		Action:   "",
	}
}

// NewDrawingNotFoundError は絵が見つからない場合のエラーを生成する。
func NewDrawingNotFoundError(drawingID string) *APIError {
	return &APIError{
		Code:     ErrCodeDrawingNotFound,
		Message:  fmt.Sprintf("指定された絵が見つかりません: %s", drawingID),
		Category: "drawing",
		Action:   "絵のIDを確認してください。",
	}
}

// NewSketchNotFoundError は描画セッションが見つからない場合のエラーを生成する。
func NewSketchNotFoundError(sketchID string) *APIError {
	return &APIError{
		Code:     ErrCodeSketchNotFound,
		Message:  fmt.Sprintf("描画セッションが見つからないか期限切れです: %s", sketchID),
		Category: "drawing",
		Action:   "新しいキャンバスを開いてください。",
	}
}

// NewSaveInProgressError は同じセッションで保存処理が実行中の場合のエラーを生成する。
func NewSaveInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSaveInProgress,
		Message:  "保存処理が実行中です。",
		Category: "drawing",
		Action:   "保存が完了するまでお待ちください。",
	}
}

// NewEnhancementInProgressError は仕上げ処理が既に実行中の場合のエラーを生成する。
func NewEnhancementInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeEnhancementInProgress,
		Message:  "仕上げ処理が既に実行中です。",
		Category: "drawing",
		Action:   "処理が完了するまでお待ちください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInternalError は予期しない内部エラーを生成する。詳細はログにのみ出力する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
