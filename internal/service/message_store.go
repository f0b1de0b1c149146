package service

import (
	"Rendezvous/internal/model"
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/mongo"
	"Rendezvous/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"
	"unicode/utf8"

	pkgerrors "github.com/pkg/errors"
	driver "go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

// ReadResult 一次已读推进的结果
type ReadResult struct {
	ConversationID string
	UserID         string
	MessageIDs     []string // 本次新标记为已读的消息
	ReadSeq        uint64   // 推进后的已读指针
	ReadMsgID      string
}

// ConversationSummary 会话列表项
type ConversationSummary struct {
	Conversation *model.Conversation
	Unread       int64
}

// MessageStore 消息持久化与已读状态
type MessageStore interface {
	Persist(ctx context.Context, conversationID, senderID, content string, attachments []mongo.Attachment) (*mongo.Message, error)
	ListMessages(ctx context.Context, conversationID, userID string, afterSeq uint64, limit int) ([]*mongo.Message, error)
	ListMessagesBefore(ctx context.Context, conversationID, userID string, beforeSeq uint64, limit int) ([]*mongo.Message, error)
	MarkRead(ctx context.Context, conversationID, userID, uptoMessageID string) (*ReadResult, error)
	MarkMessageRead(ctx context.Context, messageID, userID string) (*ReadResult, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int64, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)
	Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
}

type messageStoreImpl struct {
	registry    ConversationRegistry
	convRepo    repository.ConversationRepo
	pointerRepo repository.ReadPointerRepo
	messageRepo mongo.MessageRepo
	maxContent  int
	pageSize    int
}

func NewMessageStore(
	registry ConversationRegistry,
	convRepo repository.ConversationRepo,
	pointerRepo repository.ReadPointerRepo,
	messageRepo mongo.MessageRepo,
	maxContent, pageSize int,
) MessageStore {
	if maxContent <= 0 {
		maxContent = 4000
	}
	if pageSize <= 0 || pageSize > consts.MaxHistoryPageSize {
		pageSize = 50
	}
	return &messageStoreImpl{
		registry:    registry,
		convRepo:    convRepo,
		pointerRepo: pointerRepo,
		messageRepo: messageRepo,
		maxContent:  maxContent,
		pageSize:    pageSize,
	}
}

// Persist 校验、定序、落库，返回后消息才算发送成功
func (s *messageStoreImpl) Persist(ctx context.Context, conversationID, senderID, content string, attachments []mongo.Attachment) (*mongo.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, pkgerrors.WithMessage(ErrValidation, "content is empty")
	}
	if utf8.RuneCountInString(content) > s.maxContent {
		return nil, pkgerrors.WithMessage(ErrValidation, "content too long")
	}

	conv, err := s.registry.Authorize(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if conv.Closed {
		return nil, ErrConversationClosed
	}

	// MySQL 原子定序
	seq, err := s.convRepo.IncrMaxSeq(ctx, conversationID)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, "allocate seq: "+err.Error())
	}

	msg := &mongo.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		Seq:            seq,
		ReadBy:         []string{},
		CreatedAt:      time.Now(),
	}
	if err := s.messageRepo.SaveMessage(ctx, msg); err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, "save message: "+err.Error())
	}

	// 预览失败不影响消息本身
	if err := s.convRepo.UpdateLastMessage(ctx, conversationID, seq, msg.ID, content, senderID, msg.CreatedAt); err != nil {
		log.WarnContext(ctx, "会话预览更新失败", "conversationID", conversationID, "seq", seq, "err", err)
	}
	return msg, nil
}

// ListMessages 按 seq 升序返回 afterSeq 之后的消息
func (s *messageStoreImpl) ListMessages(ctx context.Context, conversationID, userID string, afterSeq uint64, limit int) ([]*mongo.Message, error) {
	if _, err := s.registry.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	list, err := s.messageRepo.ListAfter(ctx, conversationID, afterSeq, s.clampLimit(limit))
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	return list, nil
}

// ListMessagesBefore 向前翻页，结果仍为升序
func (s *messageStoreImpl) ListMessagesBefore(ctx context.Context, conversationID, userID string, beforeSeq uint64, limit int) ([]*mongo.Message, error) {
	if _, err := s.registry.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	list, err := s.messageRepo.ListBefore(ctx, conversationID, beforeSeq, s.clampLimit(limit))
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	return list, nil
}

// MarkRead 推进已读指针并标记 uptoMessageID 及之前对方发来的消息
func (s *messageStoreImpl) MarkRead(ctx context.Context, conversationID, userID, uptoMessageID string) (*ReadResult, error) {
	if _, err := s.registry.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msg, err := s.getMessage(ctx, uptoMessageID)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conversationID {
		return nil, ErrNotFound
	}
	return s.markRead(ctx, msg, userID)
}

// MarkMessageRead 只标记这一条，不推进已读指针，之前的未读消息保持未读
func (s *messageStoreImpl) MarkMessageRead(ctx context.Context, messageID, userID string) (*ReadResult, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.Authorize(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}

	added, err := s.messageRepo.AddReader(ctx, msg.ID, userID)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, "mark read: "+err.Error())
	}
	ptr, err := s.pointerRepo.GetReadPointer(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}

	res := &ReadResult{
		ConversationID: msg.ConversationID,
		UserID:         userID,
		MessageIDs:     []string{},
	}
	if added {
		res.MessageIDs = append(res.MessageIDs, msg.ID)
	}
	if ptr != nil {
		res.ReadSeq = ptr.ReadMsgSeq
		res.ReadMsgID = ptr.ReadMsgID
	}
	return res, nil
}

func (s *messageStoreImpl) markRead(ctx context.Context, msg *mongo.Message, userID string) (*ReadResult, error) {
	ptr, err := s.pointerRepo.Advance(ctx, msg.ConversationID, userID, msg.Seq, msg.ID)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, "advance read pointer: "+err.Error())
	}
	ids, err := s.messageRepo.MarkReadUpTo(ctx, msg.ConversationID, userID, msg.Seq)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, "mark read: "+err.Error())
	}
	return &ReadResult{
		ConversationID: msg.ConversationID,
		UserID:         userID,
		MessageIDs:     ids,
		ReadSeq:        ptr.ReadMsgSeq,
		ReadMsgID:      ptr.ReadMsgID,
	}, nil
}

// UnreadCount 单个会话的未读数
func (s *messageStoreImpl) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	if _, err := s.registry.Authorize(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	ptr, err := s.pointerRepo.GetReadPointer(ctx, conversationID, userID)
	if err != nil {
		return 0, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	n, err := s.messageRepo.CountUnread(ctx, conversationID, userID, ptr.ReadMsgSeq)
	if err != nil {
		return 0, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	return n, nil
}

// TotalUnread 用户全部会话未读数之和
func (s *messageStoreImpl) TotalUnread(ctx context.Context, userID string) (int64, error) {
	list, err := s.Conversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range list {
		total += c.Unread
	}
	return total, nil
}

// Conversations 会话列表及各自未读数，未读数并发统计
func (s *messageStoreImpl) Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	convs, err := s.convRepo.ListUserConversations(ctx, userID)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	if len(convs) == 0 {
		return []*ConversationSummary{}, nil
	}

	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	seqs, err := s.pointerRepo.GetUserReadSeqs(ctx, userID, ids)
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}

	out := make([]*ConversationSummary, len(convs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range convs {
		g.Go(func() error {
			n, err := s.messageRepo.CountUnread(gCtx, c.ID, userID, seqs[c.ID])
			if err != nil {
				return err
			}
			out[i] = &ConversationSummary{Conversation: c, Unread: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	return out, nil
}

// DeleteConversation 参与者删除会话，清理消息、已读指针与会话行
func (s *messageStoreImpl) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := s.registry.Authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	n, err := s.messageRepo.DeleteByConversation(ctx, conversationID)
	if err != nil {
		return pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	if err := s.convRepo.DeleteConversation(ctx, conversationID); err != nil {
		return pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	s.registry.Evict(ctx, conversationID)
	log.InfoContext(ctx, "会话已删除", "conversationID", conversationID, "by", userID, "messages", n)
	return nil
}

func (s *messageStoreImpl) getMessage(ctx context.Context, messageID string) (*mongo.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, driver.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	return msg, nil
}

func (s *messageStoreImpl) clampLimit(limit int) int {
	if limit <= 0 {
		return s.pageSize
	}
	if limit > consts.MaxHistoryPageSize {
		return consts.MaxHistoryPageSize
	}
	return limit
}
