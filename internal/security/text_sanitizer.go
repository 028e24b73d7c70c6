// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力（絵のタイトル、説明文、コンパニオンとの会話）から
// HTMLを取り除いたプレーンテキストを作る。SSRFGuard は外部から取得する画像のURLを検証する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Clean はタグを除去し、制御文字を空白に置き換えて前後の空白を取り除く。
	// maxRunesが正の場合はその文字数で切り詰める。
	Clean(input string, maxRunes int) string
}

// textSanitizer はbluemondayのStrictPolicyでタグを全て除去する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はプレーンテキストを返す。
// StrictPolicyはテキストをHTMLエスケープして返すため、保存用にエスケープを戻す。
func (s *textSanitizer) Clean(input string, maxRunes int) string {
	if input == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(input))
	text = strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if maxRunes > 0 {
		if r := []rune(text); len(r) > maxRunes {
			text = strings.TrimSpace(string(r[:maxRunes]))
		}
	}
	return text
}
