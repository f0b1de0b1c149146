package client

import (
	"Rendezvous/internal/api/dto"
	"Rendezvous/internal/event"
	"context"
	log "log/slog"
	"sync"
	"time"
)

const DefaultPollInterval = 60 * time.Second

// UnreadSource 权威未读数与已读上报
type UnreadSource interface {
	Unread(ctx context.Context) (int64, error)
	MarkConversationRead(ctx context.Context, conversationID, uptoMessageID string) (*dto.ReadResultDTO, error)
}

type countedMessage struct {
	id  string
	seq uint64
}

// Badge 本地缓存的未读总数
// 本地增减只是临时值，Poll 用服务端结果整体替换
type Badge struct {
	mu        sync.Mutex
	userID    string
	sessionID string
	total     int64
	seen      map[string]struct{}
	counted   map[string][]countedMessage
	observers map[int]func(int64)
	nextObs   int
	src       UnreadSource
}

func NewBadge(userID string, src UnreadSource) *Badge {
	return &Badge{
		userID:    userID,
		seen:      make(map[string]struct{}),
		counted:   make(map[string][]countedMessage),
		observers: make(map[int]func(int64)),
		src:       src,
	}
}

// SetSession 重连后会话 ID 会变化
func (b *Badge) SetSession(sessionID string) {
	b.mu.Lock()
	b.sessionID = sessionID
	b.mu.Unlock()
}

func (b *Badge) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// OnNewMessage 非当前查看会话、非自己发送、未计过的消息 +1
func (b *Badge) OnNewMessage(msg *event.Message, viewing bool) bool {
	b.mu.Lock()
	if _, ok := b.seen[msg.ID]; ok || msg.SenderID == b.userID {
		b.mu.Unlock()
		return false
	}
	b.seen[msg.ID] = struct{}{}
	if viewing {
		b.mu.Unlock()
		return false
	}
	b.counted[msg.ConversationID] = append(b.counted[msg.ConversationID], countedMessage{id: msg.ID, seq: msg.Seq})
	b.total++
	total, obs := b.snapshotLocked()
	b.mu.Unlock()

	notify(obs, total)
	return true
}

// MarkViewed 按本会话已计数的条数递减，再上报已读
// uptoMessageID 为空时取已计数中 seq 最大的一条
func (b *Badge) MarkViewed(ctx context.Context, conversationID, uptoMessageID string) error {
	b.mu.Lock()
	counted := b.counted[conversationID]
	delete(b.counted, conversationID)
	b.total -= int64(len(counted))
	if b.total < 0 {
		b.total = 0
	}
	if uptoMessageID == "" {
		var maxSeq uint64
		for _, c := range counted {
			if c.seq >= maxSeq {
				maxSeq, uptoMessageID = c.seq, c.id
			}
		}
	}
	total, obs := b.snapshotLocked()
	b.mu.Unlock()

	if len(counted) > 0 {
		notify(obs, total)
	}
	if uptoMessageID == "" || b.src == nil {
		return nil
	}
	_, err := b.src.MarkConversationRead(ctx, conversationID, uptoMessageID)
	return err
}

// OnReadReceipt 本会话发起的回执忽略；其他会话 (多端) 的回执触发权威重取
func (b *Badge) OnReadReceipt(ctx context.Context, ev *event.MarkedRead) bool {
	b.mu.Lock()
	if ev.OriginSessionID != "" && ev.OriginSessionID == b.sessionID {
		b.mu.Unlock()
		return false
	}
	if len(ev.MessageIDs) > 0 {
		read := make(map[string]struct{}, len(ev.MessageIDs))
		for _, id := range ev.MessageIDs {
			read[id] = struct{}{}
		}
		kept := b.counted[ev.ConversationID][:0]
		for _, c := range b.counted[ev.ConversationID] {
			if _, ok := read[c.id]; !ok {
				kept = append(kept, c)
			}
		}
		b.counted[ev.ConversationID] = kept
	}
	b.mu.Unlock()

	if err := b.Poll(ctx); err != nil {
		log.WarnContext(ctx, "未读数重取失败", "err", err)
	}
	return true
}

// Poll 用服务端权威值替换缓存
func (b *Badge) Poll(ctx context.Context) error {
	if b.src == nil {
		return nil
	}
	n, err := b.src.Unread(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	changed := b.total != n
	b.total = n
	total, obs := b.snapshotLocked()
	b.mu.Unlock()

	if changed {
		notify(obs, total)
	}
	return nil
}

// Run 定时轮询，实时通道断开时依然生效
func (b *Badge) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if err := b.Poll(ctx); err != nil {
		log.WarnContext(ctx, "未读数轮询失败", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil {
				log.WarnContext(ctx, "未读数轮询失败", "err", err)
			}
		}
	}
}

// Subscribe 每次变化都通知
func (b *Badge) Subscribe(fn func(int64)) func() {
	b.mu.Lock()
	id := b.nextObs
	b.nextObs++
	b.observers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

func (b *Badge) snapshotLocked() (int64, []func(int64)) {
	obs := make([]func(int64), 0, len(b.observers))
	for _, fn := range b.observers {
		obs = append(obs, fn)
	}
	return b.total, obs
}

func notify(obs []func(int64), total int64) {
	for _, fn := range obs {
		fn(total)
	}
}
