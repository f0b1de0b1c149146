package repository

import (
	"Rendezvous/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepo interface {
	GetConversation(ctx context.Context, convID string) (*model.Conversation, error)
	EnsureConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]*model.Conversation, error)

	IncrMaxSeq(ctx context.Context, convID string) (uint64, error)
	UpdateLastMessage(ctx context.Context, convID string, seq uint64, msgID, content, senderID string, at time.Time) error
	SetClosed(ctx context.Context, convID string, closed bool) (bool, error)

	DeleteConversation(ctx context.Context, convID string) error
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// GetConversation 根据会话 ID 获取会话
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", convID).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// EnsureConversation 会话不存在时创建，已存在时原样返回 (参与者不会被覆盖)
func (s *conversationRepoImpl) EnsureConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(conv).Error
	if err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, conv.ID)
}

// ListUserConversations 用户参与且已有消息的会话，最近活跃的在前
// 鉴权时落下的空会话行不出现在列表里
func (s *conversationRepoImpl) ListUserConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var list []*model.Conversation
	err := s.db.WithContext(ctx).
		Where("(customer_id = ? OR provider_id = ?) AND max_msg_seq > 0", userID, userID).
		Order("last_message_at DESC").
		Find(&list).Error
	return list, err
}

// IncrMaxSeq 核心定序逻辑：利用 MySQL 行锁确保 Seq 绝对递增
func (s *conversationRepoImpl) IncrMaxSeq(ctx context.Context, convID string) (uint64, error) {
	var maxSeq uint64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Conversation{}).Where("id = ?", convID).
			Update("max_msg_seq", gorm.Expr("max_msg_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		// 行锁仍由本事务持有，读到的就是自己分配的 Seq
		return tx.Model(&model.Conversation{}).Select("max_msg_seq").Where("id = ?", convID).Scan(&maxSeq).Error
	})
	return maxSeq, err
}

// UpdateLastMessage 更新会话预览，乱序到达的旧消息不会覆盖新消息
func (s *conversationRepoImpl) UpdateLastMessage(ctx context.Context, convID string, seq uint64, msgID, content, senderID string, at time.Time) error {
	if len([]rune(content)) > 255 {
		content = string([]rune(content)[:255])
	}
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND last_msg_seq < ?", convID, seq).
		Updates(map[string]interface{}{
			"last_msg_seq":     seq,
			"last_msg_id":      msgID,
			"last_msg_content": content,
			"last_sender_id":   senderID,
			"last_message_at":  at,
		}).Error
}

// SetClosed 预约状态变化时开关会话，返回是否存在该会话
func (s *conversationRepoImpl) SetClosed(ctx context.Context, convID string, closed bool) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", convID).
		Update("closed", closed)
	return res.RowsAffected > 0, res.Error
}

// DeleteConversation 删除会话及所有已读进度
func (s *conversationRepoImpl) DeleteConversation(ctx context.Context, convID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", convID).Delete(&model.ReadPointer{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", convID).Delete(&model.Conversation{}).Error
	})
}
