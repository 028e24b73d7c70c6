// Package line はLINE Messaging API連携を提供する。
// Webhookの署名検証とイベント振り分け、アカウント連携コードの発行と交換、
// 返信・プッシュ送信クライアント、再送イベントの重複排除を含む。
package line

// EventType はWebhookイベントの種別を表す。
type EventType string

const (
	EventMessage  EventType = "message"
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
	EventJoin     EventType = "join"
	EventLeave    EventType = "leave"
	EventPostback EventType = "postback"
)

// MessageType は受信メッセージの種別を表す。
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageSticker MessageType = "sticker"
	MessageAudio   MessageType = "audio"
)

// SourceType はイベント送信元の種別を表す。
type SourceType string

const (
	SourceUser  SourceType = "user"
	SourceGroup SourceType = "group"
	SourceRoom  SourceType = "room"
)

// WebhookRequest はWebhookリクエストボディ。
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event はWebhookイベント。
type Event struct {
	Type            EventType        `json:"type"`
	Mode            string           `json:"mode"`
	Timestamp       int64            `json:"timestamp"`
	WebhookEventID  string           `json:"webhookEventId"`
	ReplyToken      string           `json:"replyToken"`
	Source          Source           `json:"source"`
	Message         *InboundMessage  `json:"message,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
}

// Source はイベントの送信元。
type Source struct {
	Type    SourceType `json:"type"`
	UserID  string     `json:"userId"`
	GroupID string     `json:"groupId,omitempty"`
	RoomID  string     `json:"roomId,omitempty"`
}

// InboundMessage は受信メッセージ。
type InboundMessage struct {
	ID   string      `json:"id"`
	Type MessageType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// DeliveryContext は配信情報。再送の場合IsRedeliveryがtrueとなる。
type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// OutboundMessage は送信メッセージ。
type OutboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextMessage はテキストメッセージを生成する。
func TextMessage(text string) OutboundMessage {
	return OutboundMessage{Type: "text", Text: text}
}

// Profile はLINEユーザーのプロフィール。
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Language    string `json:"language,omitempty"`
}
