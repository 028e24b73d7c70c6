package model

import "time"

// LineAccount はアプリユーザーとLINEユーザーの1対1の連携を表す。
type LineAccount struct {
	ID          string
	UserID      string
	LineUserID  string
	DisplayName string
	CreatedAt   time.Time
}

// LinkToken は短命の連携コードを表す。
// チャットから発行した場合はLineUserIDを、設定画面から発行した場合はUserIDを保持する。
type LinkToken struct {
	Token      string
	UserID     string
	LineUserID string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// IssuedFromChat はチャット（LINE側）から発行されたコードかを返す。
func (t *LinkToken) IssuedFromChat() bool {
	return t.LineUserID != ""
}

// Expired は時刻nowの時点で期限切れかを返す。
func (t *LinkToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
