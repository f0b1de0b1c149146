package dto

import "time"

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ConversationID string          `json:"conversationId" validate:"required,max=64"`
	RecipientID    string          `json:"recipientId" validate:"omitempty,max=64"`
	Content        string          `json:"content" validate:"required"`
	Attachments    []AttachmentDTO `json:"attachments" validate:"omitempty,max=10,dive"`
}

// AttachmentDTO 不透明的附件引用
type AttachmentDTO struct {
	Ref      string `json:"ref" validate:"required,max=512"`
	MimeType string `json:"mimeType" validate:"omitempty,max=128"`
}

// MarkConversationReadReq 批量已读
type MarkConversationReadReq struct {
	UptoMessageID string `json:"uptoMessageId" validate:"required,objectid"`
}

// ListMessagesQuery 历史消息查询，before 优先于 after
type ListMessagesQuery struct {
	After  uint64 `form:"after"`
	Before uint64 `form:"before"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

// ReadResultDTO 已读推进结果
type ReadResultDTO struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadSeq        uint64   `json:"readSeq"`
	ReadMsgID      string   `json:"readMsgId"`
}

// UnreadDTO 未读总数
type UnreadDTO struct {
	UnreadCount int64 `json:"unreadCount"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID string     `json:"conversationId"`
	CustomerID     string     `json:"customerId"`
	ProviderID     string     `json:"providerId"`
	PeerID         string     `json:"peerId"`
	LastMsgID      string     `json:"lastMsgId,omitempty"`
	LastMsgContent string     `json:"lastMsgContent"`
	LastSenderID   string     `json:"lastSenderId,omitempty"`
	LastMessageAt  *time.Time `json:"lastMessageAt"`
	UnreadCount    int64      `json:"unreadCount"`
	Closed         bool       `json:"closed"`
}
