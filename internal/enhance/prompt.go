package enhance

import (
	"strings"
	"unicode/utf8"
)

const (
	basePrompt     = "a warm, hand-drawn illustration of a gratitude journal sketch"
	negativePrompt = "text, watermark, signature, blurry, distorted, photo-realistic"
	maxPromptRunes = 500
)

// stylePresets はスタイルヒントごとのプロンプト。未知のヒントはそのまま付け加える。
var stylePresets = map[string]string{
	"watercolor": "soft watercolor painting, gentle washes of color",
	"storybook":  "children's storybook illustration, cozy and whimsical",
	"pastel":     "pastel colors, dreamy soft lighting",
	"crayon":     "crayon drawing, textured strokes, playful",
	"ink":        "clean ink line art with light color fills",
}

// DefaultStyle はスタイル未指定時のプリセット。
const DefaultStyle = "watercolor"

// BuildPrompt は説明文とスタイルヒントから生成プロンプトを組み立てる。
func BuildPrompt(description, styleHint string) string {
	style := strings.ToLower(strings.TrimSpace(styleHint))
	if style == "" {
		style = DefaultStyle
	}
	preset, ok := stylePresets[style]
	if !ok {
		preset = style
	}

	parts := []string{basePrompt}
	if d := strings.TrimSpace(description); d != "" {
		parts = append(parts, "depicting "+d)
	}
	parts = append(parts, preset)

	prompt := strings.Join(parts, ", ")
	if utf8.RuneCountInString(prompt) > maxPromptRunes {
		prompt = string([]rune(prompt)[:maxPromptRunes])
	}
	return prompt
}
