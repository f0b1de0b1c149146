package model

import "time"

// Conversation 会话主表，主键即预约 ID
type Conversation struct {
	ID             string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CustomerID     string     `gorm:"type:varchar(64);not null;index" json:"customerId"`
	ProviderID     string     `gorm:"type:varchar(64);not null;index" json:"providerId"`
	MaxMsgSeq      uint64     `gorm:"not null;default:0" json:"maxMsgSeq"` // 序列号
	LastMsgSeq     uint64     `gorm:"not null;default:0" json:"lastMsgSeq"`
	LastMsgID      string     `gorm:"type:varchar(32)" json:"lastMsgId"`
	LastMsgContent string     `gorm:"type:varchar(255)" json:"lastMsgContent"`
	LastSenderID   string     `gorm:"type:varchar(64)" json:"lastSenderId"`
	LastMessageAt  *time.Time `gorm:"index" json:"lastMessageAt"`
	Closed         bool       `gorm:"not null;default:false" json:"closed"` // 预约取消/完成后不可再发送
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func (Conversation) TableName() string { return "conversations" }

// HasParticipant 是否为会话双方之一
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.CustomerID || userID == c.ProviderID)
}

// PeerOf 返回对方 ID，非参与者返回空串
func (c *Conversation) PeerOf(userID string) string {
	switch userID {
	case c.CustomerID:
		return c.ProviderID
	case c.ProviderID:
		return c.CustomerID
	}
	return ""
}

// ReadPointer 用户在会话内的已读进度，只增不减
type ReadPointer struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(64);uniqueIndex:idx_conv_user" json:"conversationId"`
	UserID         string    `gorm:"type:varchar(64);uniqueIndex:idx_conv_user;index" json:"userId"`
	ReadMsgSeq     uint64    `gorm:"not null;default:0" json:"readMsgSeq"`
	ReadMsgID      string    `gorm:"type:varchar(32)" json:"readMsgId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (ReadPointer) TableName() string { return "read_pointers" }
