package service

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/mongo"
	"context"
	log "log/slog"
	"time"

	"github.com/jinzhu/copier"
)

// Broadcaster 实时推送通道，由房间代理实现
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationID string, ev *event.Event, exceptSessionID string) error
	SendToUser(ctx context.Context, userID string, ev *event.Event, exceptSessionID string) error
	IsMember(sessionID, conversationID string) bool
	Online(userID string) bool
	CloseRoom(conversationID string)
}

// OfflineNotifier 接收方不在线时的离线通知出口
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, recipientID string, msg *event.Message) error
}

// DeliveryState 投递状态
type DeliveryState string

const (
	StateReceived  DeliveryState = "received"
	StatePersisted DeliveryState = "persisted"
	StateBroadcast DeliveryState = "broadcast"
	StateAcked     DeliveryState = "acked"
	StateFailed    DeliveryState = "failed"
)

// SendRequest 一次发送
type SendRequest struct {
	ConversationID  string
	SenderID        string
	RecipientID     string
	Content         string
	Attachments     []event.Attachment
	OriginSessionID string // 发起的 WS 会话，REST 发送时为空
}

// IMService 即时通讯服务接口定义
type IMService interface {
	SendMessage(ctx context.Context, req *SendRequest) (*event.Message, error)
	ListMessages(ctx context.Context, userID, conversationID string, afterSeq, beforeSeq uint64, limit int) ([]*event.Message, error)
	Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error)
	TotalUnread(ctx context.Context, userID string) (int64, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
}

type imServiceImpl struct {
	store       MessageStore
	registry    ConversationRegistry
	broadcaster Broadcaster
	notifier    OfflineNotifier
	timeout     time.Duration
}

// NewIMService notifier 可为 nil
func NewIMService(store MessageStore, registry ConversationRegistry, broadcaster Broadcaster, notifier OfflineNotifier) IMService {
	return &imServiceImpl{
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		notifier:    notifier,
		timeout:     5 * time.Second,
	}
}

// SendMessage 先落库再广播，最后返回给发送方作为 ack
func (s *imServiceImpl) SendMessage(ctx context.Context, req *SendRequest) (*event.Message, error) {
	tr := s.transition(ctx, req)
	tr(StateReceived, nil)

	conv, err := s.registry.Authorize(ctx, req.ConversationID, req.SenderID)
	if err != nil {
		tr(StateFailed, err)
		return nil, err
	}
	recipientID := conv.PeerOf(req.SenderID)
	if req.RecipientID != "" && req.RecipientID != recipientID {
		tr(StateFailed, ErrValidation)
		return nil, ErrValidation
	}

	// 连接断开不影响已受理的发送
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	attachments := make([]mongo.Attachment, 0, len(req.Attachments))
	_ = copier.Copy(&attachments, &req.Attachments)

	stored, err := s.store.Persist(persistCtx, req.ConversationID, req.SenderID, req.Content, attachments)
	if err != nil {
		tr(StateFailed, err)
		return nil, err
	}
	tr(StatePersisted, nil)

	msg := ToMessageView(stored)
	s.broadcast(persistCtx, req.OriginSessionID, msg)
	tr(StateBroadcast, nil)

	if !s.broadcaster.Online(recipientID) {
		s.notifyOffline(persistCtx, recipientID, msg)
	}

	tr(StateAcked, nil)
	return msg, nil
}

func (s *imServiceImpl) broadcast(ctx context.Context, originSessionID string, msg *event.Message) {
	ev, err := event.New(consts.EventNewMessage, msg)
	if err != nil {
		log.ErrorContext(ctx, "new_message 编码失败", "messageID", msg.ID, "err", err)
		return
	}
	if err := s.broadcaster.Broadcast(ctx, msg.ConversationID, ev, originSessionID); err != nil {
		log.WarnContext(ctx, "广播失败", "messageID", msg.ID, "err", err)
	}
}

func (s *imServiceImpl) notifyOffline(ctx context.Context, recipientID string, msg *event.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOffline(ctx, recipientID, msg); err != nil {
		log.WarnContext(ctx, "离线通知发送失败", "recipientID", recipientID, "messageID", msg.ID, "err", err)
	}
}

func (s *imServiceImpl) transition(ctx context.Context, req *SendRequest) func(DeliveryState, error) {
	start := time.Now()
	return func(state DeliveryState, err error) {
		attrs := []any{
			"state", state,
			"conversationID", req.ConversationID,
			"senderID", req.SenderID,
			"cost", time.Since(start).String(),
		}
		if err != nil {
			log.WarnContext(ctx, "消息投递失败", append(attrs, "err", err)...)
			return
		}
		log.DebugContext(ctx, "消息投递状态", attrs...)
	}
}

// ListMessages beforeSeq > 0 时向前翻页，否则拉取 afterSeq 之后的消息
func (s *imServiceImpl) ListMessages(ctx context.Context, userID, conversationID string, afterSeq, beforeSeq uint64, limit int) ([]*event.Message, error) {
	var (
		list []*mongo.Message
		err  error
	)
	if beforeSeq > 0 {
		list, err = s.store.ListMessagesBefore(ctx, conversationID, userID, beforeSeq, limit)
	} else {
		list, err = s.store.ListMessages(ctx, conversationID, userID, afterSeq, limit)
	}
	if err != nil {
		return nil, err
	}

	res := make([]*event.Message, 0, len(list))
	for _, m := range list {
		res = append(res, ToMessageView(m))
	}
	return res, nil
}

// Conversations 获取会话列表
func (s *imServiceImpl) Conversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	return s.store.Conversations(ctx, userID)
}

// TotalUnread 未读总数，客户端角标以此为准
func (s *imServiceImpl) TotalUnread(ctx context.Context, userID string) (int64, error) {
	return s.store.TotalUnread(ctx, userID)
}

// DeleteConversation 删除后通知房间并清空成员
func (s *imServiceImpl) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, conversationID, userID); err != nil {
		return err
	}

	ev, err := event.New(consts.EventConversationDeleted, event.Room{ConversationID: conversationID})
	if err == nil {
		if err := s.broadcaster.Broadcast(ctx, conversationID, ev, ""); err != nil {
			log.WarnContext(ctx, "conversation_deleted 广播失败", "conversationID", conversationID, "err", err)
		}
	}
	s.broadcaster.CloseRoom(conversationID)
	return nil
}

// ToMessageView 存储模型 -> 对外视图
func ToMessageView(m *mongo.Message) *event.Message {
	out := &event.Message{}
	_ = copier.Copy(out, m)
	if out.ReadBy == nil {
		out.ReadBy = []string{}
	}
	return out
}
