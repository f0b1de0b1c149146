package mongo

import (
	"time"
)

// Message MongoDB 消息明细模型，创建后除 ReadBy 外不可变
type Message struct {
	ID             string       `bson:"_id" json:"id"`                            // ObjectID 十六进制，入库时由服务端分配
	ConversationID string       `bson:"conversation_id" json:"conversationId"`    // 会话 ID (即预约 ID)
	SenderID       string       `bson:"sender_id" json:"senderId"`                // 发送者
	Content        string       `bson:"content" json:"content"`                   // 文本内容
	Attachments    []Attachment `bson:"attachments,omitempty" json:"attachments"` // 不透明的附件引用
	Seq            uint64       `bson:"seq" json:"seq"`                           // 会话内唯一递增序号 (来自 MySQL)
	ReadBy         []string     `bson:"read_by" json:"readBy"`                    // 已读用户集合，只增不减
	CreatedAt      time.Time    `bson:"created_at" json:"createdAt"`              // 入库时间
}

// Attachment 附件引用，服务端不解析
type Attachment struct {
	Ref      string `bson:"ref" json:"ref"`
	MimeType string `bson:"mime_type" json:"mimeType"`
}

// IsReadBy 指定用户是否已读
func (m *Message) IsReadBy(userID string) bool {
	for _, u := range m.ReadBy {
		if u == userID {
			return true
		}
	}
	return false
}
