package hub

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/service"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	log "log/slog"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

const shardCount = 64

// Authorizer 房间准入校验，非参与者返回 ErrForbidden
type Authorizer interface {
	CanJoin(ctx context.Context, conversationID, userID string) error
}

// Relay 跨实例转发，失败只记录不上抛
type Relay interface {
	PublishRoom(ctx context.Context, conversationID string, frame event.Frame, exceptSessionID string)
	PublishUser(ctx context.Context, userID string, frame event.Frame, exceptSessionID string)
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Session
}

// Broker 房间成员与按用户的会话索引
type Broker struct {
	shards [shardCount]*roomBucket

	mu       sync.RWMutex
	sessions map[string]*Session
	users    map[string]map[string]*Session

	auth  Authorizer
	relay Relay
	opts  Options
}

func NewBroker(auth Authorizer, opts Options) *Broker {
	b := &Broker{
		sessions: make(map[string]*Session),
		users:    make(map[string]map[string]*Session),
		auth:     auth,
		opts:     opts.withDefaults(),
	}
	for i := 0; i < shardCount; i++ {
		b.shards[i] = &roomBucket{rooms: make(map[string]map[string]*Session)}
	}
	return b
}

// SetRelay 启用跨实例转发
func (b *Broker) SetRelay(r Relay) {
	b.relay = r
}

func getShard(conversationID string) uint32 {
	if conversationID == "" {
		return 0
	}
	h := sha1.Sum([]byte(conversationID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (b *Broker) attach(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID] = s
	set, ok := b.users[s.UserID]
	if !ok {
		set = make(map[string]*Session)
		b.users[s.UserID] = set
	}
	set[s.ID] = s
}

// detach 移出所有房间与索引，重复调用无副作用
func (b *Broker) detach(sessionID string) *Session {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.sessions, sessionID)
	if set, ok := b.users[s.UserID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(b.users, s.UserID)
		}
	}
	b.mu.Unlock()

	for _, room := range s.Rooms() {
		b.removeMember(room, s)
	}
	return s
}

// Session 按 ID 查找会话
func (b *Broker) Session(sessionID string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[sessionID]
	return s, ok
}

// Online 用户是否还有在线会话
func (b *Broker) Online(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users[userID]) > 0
}

// JoinRoom 校验参与者身份后加入房间，重复加入无副作用
func (b *Broker) JoinRoom(ctx context.Context, sessionID, conversationID string) error {
	s, ok := b.Session(sessionID)
	if !ok {
		return pkgerrors.WithMessage(service.ErrNotFound, "session "+sessionID)
	}
	if s.Joined(conversationID) {
		return nil
	}
	if err := b.auth.CanJoin(ctx, conversationID, s.UserID); err != nil {
		return err
	}

	bucket := b.shards[getShard(conversationID)]
	bucket.Lock()
	room, ok := bucket.rooms[conversationID]
	if !ok {
		room = make(map[string]*Session)
		bucket.rooms[conversationID] = room
	}
	room[s.ID] = s
	bucket.Unlock()

	s.addRoom(conversationID)

	// 与断开并发时回滚
	if _, alive := b.Session(s.ID); !alive {
		s.removeRoom(conversationID)
		b.removeMember(conversationID, s)
	}
	return nil
}

// LeaveRoom 离开房间，未加入时无副作用
func (b *Broker) LeaveRoom(sessionID, conversationID string) {
	s, ok := b.Session(sessionID)
	if !ok {
		return
	}
	if s.removeRoom(conversationID) {
		b.removeMember(conversationID, s)
	}
}

// IsMember 会话是否在房间内
func (b *Broker) IsMember(sessionID, conversationID string) bool {
	s, ok := b.Session(sessionID)
	return ok && s.Joined(conversationID)
}

// CloseRoom 清空房间，会话删除或预约结束后调用
func (b *Broker) CloseRoom(conversationID string) {
	bucket := b.shards[getShard(conversationID)]
	bucket.Lock()
	room := bucket.rooms[conversationID]
	delete(bucket.rooms, conversationID)
	bucket.Unlock()

	for _, s := range room {
		s.removeRoom(conversationID)
	}
}

func (b *Broker) removeMember(conversationID string, s *Session) {
	bucket := b.shards[getShard(conversationID)]
	bucket.Lock()
	defer bucket.Unlock()
	if room, ok := bucket.rooms[conversationID]; ok {
		delete(room, s.ID)
		if len(room) == 0 {
			delete(bucket.rooms, conversationID)
		}
	}
}

// Broadcast 推送给房间内所有会话，返回时每个成员的入队都已有结果
func (b *Broker) Broadcast(ctx context.Context, conversationID string, ev *event.Event, exceptSessionID string) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}
	b.DeliverRoom(ctx, conversationID, frame, exceptSessionID)
	if b.relay != nil {
		b.relay.PublishRoom(ctx, conversationID, frame, exceptSessionID)
	}
	return nil
}

// SendToUser 推送给用户的所有会话
func (b *Broker) SendToUser(ctx context.Context, userID string, ev *event.Event, exceptSessionID string) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}
	b.DeliverUser(ctx, userID, frame, exceptSessionID)
	if b.relay != nil {
		b.relay.PublishUser(ctx, userID, frame, exceptSessionID)
	}
	return nil
}

// DeliverRoom 仅本实例投递
func (b *Broker) DeliverRoom(ctx context.Context, conversationID string, frame event.Frame, exceptSessionID string) {
	bucket := b.shards[getShard(conversationID)]

	bucket.RLock()
	room := bucket.rooms[conversationID]
	members := make([]*Session, 0, len(room))
	for id, s := range room {
		if id != exceptSessionID {
			members = append(members, s)
		}
	}
	bucket.RUnlock()

	b.deliver(ctx, members, frame)
}

// DeliverUser 仅本实例投递
func (b *Broker) DeliverUser(ctx context.Context, userID string, frame event.Frame, exceptSessionID string) {
	b.mu.RLock()
	set := b.users[userID]
	members := make([]*Session, 0, len(set))
	for id, s := range set {
		if id != exceptSessionID {
			members = append(members, s)
		}
	}
	b.mu.RUnlock()

	b.deliver(ctx, members, frame)
}

// deliver 先非阻塞投递一轮，队列满的成员再并发等待
func (b *Broker) deliver(ctx context.Context, members []*Session, frame event.Frame) {
	var full []*Session
	for _, s := range members {
		if res, _ := s.out.offer(frame); res == offerFull {
			full = append(full, s)
		}
	}
	if len(full) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range full {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			err := s.out.push(frame, b.opts.SendTimeout)
			if errors.Is(err, errOutboxFull) {
				log.WarnContext(ctx, "出站队列已满，断开会话",
					"sessionID", s.ID, "userID", s.UserID, "type", frame.Type)
				b.kick(s)
			}
		}(s)
	}
	wg.Wait()
}

// kick 断开慢连接，客户端重连后自行补拉
func (b *Broker) kick(s *Session) {
	b.detach(s.ID)
	s.close()
}
