package repository

import (
	"Rendezvous/internal/model"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReadPointerRepo interface {
	Advance(ctx context.Context, convID, userID string, seq uint64, msgID string) (*model.ReadPointer, error)
	GetReadPointer(ctx context.Context, convID, userID string) (*model.ReadPointer, error)
	GetUserReadSeqs(ctx context.Context, userID string, convIDs []string) (map[string]uint64, error)
}

type readPointerRepoImpl struct {
	db *gorm.DB
}

func NewReadPointerRepo(db *gorm.DB) ReadPointerRepo {
	return &readPointerRepoImpl{db: db}
}

// Advance 单条 upsert 推进已读进度，GREATEST 保证并发下取最大值
func (s *readPointerRepoImpl) Advance(ctx context.Context, convID, userID string, seq uint64, msgID string) (*model.ReadPointer, error) {
	rp := &model.ReadPointer{
		ConversationID: convID,
		UserID:         userID,
		ReadMsgSeq:     seq,
		ReadMsgID:      msgID,
		UpdatedAt:      time.Now(),
	}

	// MySQL 按顺序求值赋值列表，read_msg_id 必须在 read_msg_seq 之前比较
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Set{
			{Column: clause.Column{Name: "read_msg_id"}, Value: gorm.Expr("IF(VALUES(read_msg_seq) > read_msg_seq, VALUES(read_msg_id), read_msg_id)")},
			{Column: clause.Column{Name: "read_msg_seq"}, Value: gorm.Expr("GREATEST(read_msg_seq, VALUES(read_msg_seq))")},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("VALUES(updated_at)")},
		},
	}).Create(rp).Error
	if err != nil {
		return nil, err
	}

	return s.GetReadPointer(ctx, convID, userID)
}

// GetReadPointer 读取已读进度，不存在时返回零值
func (s *readPointerRepoImpl) GetReadPointer(ctx context.Context, convID, userID string) (*model.ReadPointer, error) {
	var rp model.ReadPointer
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&rp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.ReadPointer{ConversationID: convID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

// GetUserReadSeqs 批量获取用户在多个会话中的已读 Seq
func (s *readPointerRepoImpl) GetUserReadSeqs(ctx context.Context, userID string, convIDs []string) (map[string]uint64, error) {
	res := make(map[string]uint64, len(convIDs))
	if len(convIDs) == 0 {
		return res, nil
	}

	var rows []model.ReadPointer
	err := s.db.WithContext(ctx).
		Select("conversation_id, read_msg_seq").
		Where("user_id = ? AND conversation_id IN ?", userID, convIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		res[r.ConversationID] = r.ReadMsgSeq
	}
	return res, nil
}
