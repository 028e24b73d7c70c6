package line

import (
	"fmt"

	"github.com/paintedminds/paintedminds/internal/model"
)

// メッセージテンプレートのキー。
const (
	MsgWelcome       = "welcome"
	MsgLinkCode      = "link_code"
	MsgLinked        = "linked"
	MsgHelp          = "help"
	MsgTestReminder  = "test_reminder"
	MsgReminder      = "reminder"
	MsgGratitudeLink = "gratitude_link"
	MsgAlreadyLinked = "already_linked"
	MsgTokenExpired  = "token_expired"
	MsgError         = "error"
)

var templates = map[model.Language]map[string]string{
	model.LanguageEnglish: {
		MsgWelcome:       "Welcome to Painted Minds! Send any message to get a code for linking your account.",
		MsgLinkCode:      "Your link code is %s. Enter it in the app settings within %d minutes.",
		MsgLinked:        "Your LINE account is now linked. Send me what you are grateful for today!",
		MsgHelp:          "Send me anything you are grateful for and I will reply with a link to draw it. Send \"test reminder\" to preview your daily reminder.",
		MsgTestReminder:  "This is how your daily reminder will look:\n\nWhat are you grateful for today? Take a minute to draw it.",
		MsgReminder:      "What are you grateful for today? Take a minute to draw it.",
		MsgGratitudeLink: "Lovely! Draw it here: %s",
		MsgAlreadyLinked: "This account is already linked. Unlink it in the app settings first.",
		MsgTokenExpired:  "That code has expired.",
		MsgError:         "Something went wrong. Please try again later.",
	},
	model.LanguageJapanese: {
		MsgWelcome:       "Painted Mindsへようこそ！メッセージを送るとアカウント連携用のコードをお届けします。",
		MsgLinkCode:      "連携コードは %s です。%d分以内にアプリの設定画面で入力してください。",
		MsgLinked:        "LINEアカウントの連携が完了しました。今日感謝していることを送ってみてください！",
		MsgHelp:          "感謝していることを送ると、それを描くためのリンクをお返しします。「test reminder」と送るとリマインダーを確認できます。",
		MsgTestReminder:  "毎日のリマインダーはこのように届きます:\n\n今日感謝していることは何ですか？少し時間をとって描いてみましょう。",
		MsgReminder:      "今日感謝していることは何ですか？少し時間をとって描いてみましょう。",
		MsgGratitudeLink: "すてきですね！こちらで描いてみましょう: %s",
		MsgAlreadyLinked: "このアカウントは既に連携されています。先にアプリの設定画面で連携を解除してください。",
		MsgTokenExpired:  "このコードは有効期限が切れています。",
		MsgError:         "エラーが発生しました。しばらくしてから再度お試しください。",
	},
	model.LanguageThai: {
		MsgWelcome:       "ยินดีต้อนรับสู่ Painted Minds! ส่งข้อความใดก็ได้เพื่อรับรหัสเชื่อมต่อบัญชี",
		MsgLinkCode:      "รหัสเชื่อมต่อของคุณคือ %s กรุณากรอกในหน้าตั้งค่าของแอปภายใน %d นาที",
		MsgLinked:        "เชื่อมต่อบัญชี LINE เรียบร้อยแล้ว ส่งสิ่งที่คุณรู้สึกขอบคุณในวันนี้มาได้เลย!",
		MsgReminder:      "วันนี้คุณรู้สึกขอบคุณอะไรบ้าง? ใช้เวลาสักครู่วาดมันออกมา",
		MsgGratitudeLink: "ยอดเยี่ยม! วาดได้ที่นี่: %s",
		MsgTokenExpired:  "รหัสนี้หมดอายุแล้ว",
	},
}

// Translate は言語に応じたメッセージを返す。キーがない場合は英語にフォールバックし、
// 英語にもない場合はキーそのものを返す。
func Translate(lang model.Language, key string, args ...any) string {
	tmpl, ok := templates[lang][key]
	if !ok {
		tmpl, ok = templates[model.DefaultLanguage][key]
		if !ok {
			return key
		}
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
