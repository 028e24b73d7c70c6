// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/paintedminds/paintedminds/internal/model"
)

// ErrDuplicate は一意制約違反を表す。呼び出し側でドメインエラーに変換する。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdatePreferences は表示言語とタイムゾーンを更新する。
	UpdatePreferences(ctx context.Context, id string, language model.Language, timezoneOffsetMinutes int) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、drawings、line_accountsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// DrawingRepository は絵（ジャーナルエントリ）の永続化インターフェース。
type DrawingRepository interface {
	// Create は絵を作成する。
	Create(ctx context.Context, drawing *model.Drawing) error

	// FindByID は指定IDの絵を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Drawing, error)

	// ListByUser はユーザーの絵をcreated_at降順で取得する。
	// cursorがゼロ値の場合は先頭から取得する。
	ListByUser(ctx context.Context, userID string, cursor time.Time, limit int) ([]*model.Drawing, error)

	// ListPublic は公開された絵を閲覧ユーザーのスター状態付きでcreated_at降順に取得する。
	ListPublic(ctx context.Context, viewerID string, cursor time.Time, limit int) ([]model.DrawingWithStar, error)

	// UpdateVisibility は所有者の絵の公開状態を更新する。対象がない場合はfalseを返す。
	UpdateVisibility(ctx context.Context, id, userID string, public bool) (bool, error)

	// Delete は所有者の絵を削除する。対象がない場合はfalseを返す。
	Delete(ctx context.Context, id, userID string) (bool, error)

	// ListStoragePathsByUserID はユーザーの全ての絵のストレージパスを返す。
	ListStoragePathsByUserID(ctx context.Context, userID string) ([]string, error)

	// ToggleStar はスターを付け外しし、新しい状態とスター数を返す。
	ToggleStar(ctx context.Context, drawingID, userID string) (starred bool, count int, err error)

	// RequestEnhancement は仕上げ処理を要求状態にする。
	// 既に処理待ち・処理中の場合は更新せずfalseを返す。
	RequestEnhancement(ctx context.Context, id, userID, description, styleHint string) (bool, error)

	// GratitudeEntryTimes はユーザーの感謝エントリの作成日時を昇順で返す。
	GratitudeEntryTimes(ctx context.Context, userID string) ([]time.Time, error)
}

// EnhancementRepository は仕上げワーカーが使う絵の状態操作のインターフェース。
type EnhancementRepository interface {
	// ClaimDueForEnhancement は処理対象の絵をFOR UPDATE SKIP LOCKEDで取得し、処理中に更新する。
	ClaimDueForEnhancement(ctx context.Context, limit int) ([]*model.Drawing, error)

	// CompleteEnhancement は仕上げ済み画像を記録する。
	CompleteEnhancement(ctx context.Context, id, enhancedURL, enhancedPath string) error

	// RecordEnhancementFailure は失敗回数と次回実行時刻、状態を記録する。
	RecordEnhancementFailure(ctx context.Context, id string, attempts int, status model.EnhancementStatus, message string, next time.Time) error
}

// LineAccountRepository はLINEアカウント連携の永続化インターフェース。
type LineAccountRepository interface {
	// FindByLineUserID はLINEユーザーIDで連携を取得する。見つからない場合はnilを返す。
	FindByLineUserID(ctx context.Context, lineUserID string) (*model.LineAccount, error)

	// FindByUserID はアプリユーザーIDで連携を取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.LineAccount, error)

	// Create は連携を作成する。一意制約違反の場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.LineAccount) error

	// DeleteByUserID はアプリユーザーの連携を削除する。対象がない場合はfalseを返す。
	DeleteByUserID(ctx context.Context, userID string) (bool, error)

	// DeleteByLineUserID はLINEユーザーの連携を削除する。対象がない場合はfalseを返す。
	DeleteByLineUserID(ctx context.Context, lineUserID string) (bool, error)

	// ListReminderTargets は本日（各ユーザーのタイムゾーン）の感謝エントリがない連携ユーザーを返す。
	ListReminderTargets(ctx context.Context, limit int) ([]ReminderTarget, error)
}

// LinkTokenRepository は連携コードの永続化インターフェース。
type LinkTokenRepository interface {
	// Create は連携コードを保存する。コードが衝突した場合はErrDuplicateを返す。
	Create(ctx context.Context, token *model.LinkToken) error

	// Find は連携コードを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, token string) (*model.LinkToken, error)

	// Delete は連携コードを削除する。既に削除されていた場合はfalseを返す。
	Delete(ctx context.Context, token string) (bool, error)

	// DeleteByIssuer は同じ発行元（アプリユーザーまたはLINEユーザー）の既存コードを削除する。
	DeleteByIssuer(ctx context.Context, userID, lineUserID string) error
}

// ReminderTarget はリマインダー送信対象を表す。
type ReminderTarget struct {
	UserID     string
	LineUserID string
	Language   model.Language
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
