package line

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// TokenAlphabet は連携コードに使う文字。見間違えやすい0/O/1/Iを含まない。
	TokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// TokenLength は連携コードの文字数。
	TokenLength = 5
	// TokenTTL は連携コードの有効期間。
	TokenTTL = 5 * time.Minute
)

// GenerateToken は乱数源rから連携コードを生成する。rがnilの場合はcrypto/randを使う。
// アルファベットは32文字なので下位5ビットをそのまま使っても偏りは出ない。
func GenerateToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, TokenLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	out := make([]byte, TokenLength)
	for i, b := range buf {
		out[i] = TokenAlphabet[int(b)%len(TokenAlphabet)]
	}
	return string(out), nil
}

// NormalizeToken は入力を大文字化・空白除去し、連携コードの形式であればtrueを返す。
func NormalizeToken(s string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != TokenLength {
		return code, false
	}
	for _, c := range code {
		if !strings.ContainsRune(TokenAlphabet, c) {
			return code, false
		}
	}
	return code, true
}
