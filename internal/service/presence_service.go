package service

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"context"
	log "log/slog"
	"sync"
	"time"
)

// ReadEvent 一次已读推进，供本地观察者使用
type ReadEvent struct {
	ConversationID  string
	ReadBy          string
	MessageIDs      []string
	ReadSeq         uint64
	OriginSessionID string
}

// PresenceService 输入状态与已读回执
type PresenceService interface {
	SetTyping(ctx context.Context, sessionID, userID, conversationID string, isTyping bool, userName string) error
	ExpireTyping(ctx context.Context, now time.Time) int
	ClearSession(ctx context.Context, sessionID string) int
	MarkRead(ctx context.Context, userID, originSessionID, conversationID, uptoMessageID string) (*ReadResult, error)
	MarkMessageRead(ctx context.Context, userID, originSessionID, messageID string) (*ReadResult, error)
	Subscribe(fn func(ReadEvent)) (unsubscribe func())
}

type typingKey struct {
	conversationID string
	userID         string
}

type typingState struct {
	sessionID string
	userName  string
	expiresAt time.Time
}

type presenceServiceImpl struct {
	store       MessageStore
	broadcaster Broadcaster
	ttl         time.Duration

	mu     sync.Mutex
	typing map[typingKey]typingState

	subMu  sync.RWMutex
	subs   map[int]func(ReadEvent)
	nextID int
}

func NewPresenceService(store MessageStore, broadcaster Broadcaster, ttl time.Duration) PresenceService {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &presenceServiceImpl{
		store:       store,
		broadcaster: broadcaster,
		ttl:         ttl,
		typing:      make(map[typingKey]typingState),
		subs:        make(map[int]func(ReadEvent)),
	}
}

// SetTyping 必须已加入房间；true 在 ttl 内未刷新会被自动撤销
func (s *presenceServiceImpl) SetTyping(ctx context.Context, sessionID, userID, conversationID string, isTyping bool, userName string) error {
	if !s.broadcaster.IsMember(sessionID, conversationID) {
		return ErrForbidden
	}

	key := typingKey{conversationID: conversationID, userID: userID}
	s.mu.Lock()
	if isTyping {
		s.typing[key] = typingState{sessionID: sessionID, userName: userName, expiresAt: time.Now().Add(s.ttl)}
	} else {
		delete(s.typing, key)
	}
	s.mu.Unlock()

	s.emitTyping(ctx, conversationID, userID, isTyping, userName, sessionID)
	return nil
}

// ExpireTyping 撤销过期的输入状态，返回撤销数量
func (s *presenceServiceImpl) ExpireTyping(ctx context.Context, now time.Time) int {
	return s.revoke(ctx, func(st typingState) bool { return !now.Before(st.expiresAt) })
}

func (s *presenceServiceImpl) revoke(ctx context.Context, match func(typingState) bool) int {
	type expired struct {
		key   typingKey
		state typingState
	}
	var list []expired

	s.mu.Lock()
	for k, st := range s.typing {
		if match(st) {
			list = append(list, expired{key: k, state: st})
			delete(s.typing, k)
		}
	}
	s.mu.Unlock()

	for _, e := range list {
		s.emitTyping(ctx, e.key.conversationID, e.key.userID, false, e.state.userName, e.state.sessionID)
	}
	return len(list)
}

// ClearSession 会话断开时撤销它留下的输入状态
func (s *presenceServiceImpl) ClearSession(ctx context.Context, sessionID string) int {
	return s.revoke(ctx, func(st typingState) bool { return st.sessionID == sessionID })
}

func (s *presenceServiceImpl) emitTyping(ctx context.Context, conversationID, userID string, isTyping bool, userName, exceptSessionID string) {
	ev, err := event.New(consts.EventTyping, event.Typing{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
		UserName:       userName,
	})
	if err != nil {
		return
	}
	if err := s.broadcaster.Broadcast(ctx, conversationID, ev, exceptSessionID); err != nil {
		log.WarnContext(ctx, "typing 广播失败", "conversationID", conversationID, "err", err)
	}
}

// MarkRead 推进已读后通知读者的所有会话 (不通知对方)
func (s *presenceServiceImpl) MarkRead(ctx context.Context, userID, originSessionID, conversationID, uptoMessageID string) (*ReadResult, error) {
	res, err := s.store.MarkRead(ctx, conversationID, userID, uptoMessageID)
	if err != nil {
		return nil, err
	}
	s.publishRead(ctx, res, originSessionID)
	return res, nil
}

// MarkMessageRead 单条已读
func (s *presenceServiceImpl) MarkMessageRead(ctx context.Context, userID, originSessionID, messageID string) (*ReadResult, error) {
	res, err := s.store.MarkMessageRead(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	s.publishRead(ctx, res, originSessionID)
	return res, nil
}

func (s *presenceServiceImpl) publishRead(ctx context.Context, res *ReadResult, originSessionID string) {
	ev, err := event.New(consts.EventMessagesMarkedRead, event.MarkedRead{
		ConversationID:  res.ConversationID,
		ReadBy:          res.UserID,
		MessageIDs:      res.MessageIDs,
		OriginSessionID: originSessionID,
	})
	if err == nil {
		if err := s.broadcaster.SendToUser(ctx, res.UserID, ev, ""); err != nil {
			log.WarnContext(ctx, "已读回执推送失败", "userID", res.UserID, "err", err)
		}
	}

	re := ReadEvent{
		ConversationID:  res.ConversationID,
		ReadBy:          res.UserID,
		MessageIDs:      res.MessageIDs,
		ReadSeq:         res.ReadSeq,
		OriginSessionID: originSessionID,
	}
	s.subMu.RLock()
	fns := make([]func(ReadEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(re)
	}
}

// Subscribe 注册本地观察者
func (s *presenceServiceImpl) Subscribe(fn func(ReadEvent)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}
