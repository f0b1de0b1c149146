package event

import "time"

// 客户端 -> 服务端

type RoomReq struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
}

type SendMessageReq struct {
	ConversationID string       `json:"conversationId" validate:"required,max=64"`
	RecipientID    string       `json:"recipientId" validate:"omitempty,max=64"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty" validate:"omitempty,max=10,dive"`
	ClientRef      string       `json:"clientRef" validate:"omitempty,max=64"`
}

type TypingReq struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	IsTyping       bool   `json:"isTyping"`
	UserName       string `json:"userName" validate:"omitempty,max=64"`
}

type MarkReadReq struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	UptoMessageID  string `json:"uptoMessageId" validate:"required,objectid"`
}

// 服务端 -> 客户端

type Connected struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type Room struct {
	ConversationID string `json:"conversationId"`
}

type Attachment struct {
	Ref      string `json:"ref" validate:"required,max=512"`
	MimeType string `json:"mimeType" validate:"omitempty,max=128"`
}

// Message 对外的消息视图，REST 与 WS 共用
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Seq            uint64       `json:"seq"`
	ReadBy         []string     `json:"readBy"`
	CreatedAt      time.Time    `json:"createdAt"`
}

type MessageAck struct {
	ClientRef string   `json:"clientRef"`
	Message   *Message `json:"message"`
}

type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
	UserName       string `json:"userName,omitempty"`
}

type MarkedRead struct {
	ConversationID  string   `json:"conversationId"`
	ReadBy          string   `json:"readBy"`
	MessageIDs      []string `json:"messageIds"`
	OriginSessionID string   `json:"originSessionId"`
}

type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ClientRef string `json:"clientRef,omitempty"`
}
