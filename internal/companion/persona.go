package companion

import (
	"fmt"

	"github.com/paintedminds/paintedminds/internal/model"
)

// Kind はコンパニオンの種類。
type Kind string

const (
	// KindCBT は認知行動療法の考え方で気持ちの整理を手伝うアシスタント。
	KindCBT Kind = "cbt"
	// KindBuddy は気軽に話せる話し相手。
	KindBuddy Kind = "buddy"
)

// ParseKind はコンパニオンの種類を解析する。
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCBT, KindBuddy:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown companion: %q", s)
}

var personas = map[Kind]string{
	KindCBT: `You are a warm, supportive companion inside a gratitude-journaling app where people draw what they are thankful for.
Use gentle techniques from cognitive behavioural therapy: reflect feelings back, ask one open question at a time,
help the person notice unhelpful thought patterns, and invite them to reframe with balanced alternatives.
You are not a therapist and do not diagnose. If the person mentions self-harm or danger, encourage them to contact
local emergency services or a crisis line right away. Keep replies under 120 words.`,
	KindBuddy: `You are a cheerful talk buddy inside a gratitude-journaling app where people draw what they are thankful for.
Chat casually and kindly, celebrate small good things, and now and then suggest a simple idea they could sketch today.
Avoid giving medical, legal or financial advice. Keep replies short and friendly, under 80 words.`,
}

var languageInstructions = map[model.Language]string{
	model.LanguageEnglish:  "Always reply in English.",
	model.LanguageJapanese: "必ず自然でやさしい日本語で返答してください。",
	model.LanguageThai:     "โปรดตอบเป็นภาษาไทยเสมอ ด้วยน้ำเสียงที่อบอุ่นและเป็นกันเอง",
}

// SystemPrompt はコンパニオンと言語に応じたシステムプロンプトを返す。
func SystemPrompt(kind Kind, lang model.Language) string {
	instruction, ok := languageInstructions[lang]
	if !ok {
		instruction = languageInstructions[model.DefaultLanguage]
	}
	return personas[kind] + "\n\n" + instruction
}
