// Package model はドメインモデルを定義する。
package model

import "time"

// Language はユーザーの表示言語を表す。
type Language string

const (
	LanguageEnglish  Language = "en"
	LanguageJapanese Language = "ja"
	LanguageThai     Language = "th"
)

// DefaultLanguage は未設定時の言語。
const DefaultLanguage = LanguageEnglish

// ParseLanguage は言語コードを解析する。"ja-JP"のような地域付きの値も受け付ける。
// 未対応の言語はokがfalseとなる。
func ParseLanguage(s string) (Language, bool) {
	code := s
	if len(code) > 2 {
		code = code[:2]
	}
	switch Language(code) {
	case LanguageEnglish, LanguageJapanese, LanguageThai:
		return Language(code), true
	}
	return DefaultLanguage, false
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID                    string
	Email                 string
	Name                  string
	Language              Language
	TimezoneOffsetMinutes int // UTCからの差（分）。連続記録の日付判定に使う
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
