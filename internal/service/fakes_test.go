package service

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/model"
	"Rendezvous/internal/pkg/booking"
	"Rendezvous/internal/pkg/mongo"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// fakeConvRepo 内存版 ConversationRepo
type fakeConvRepo struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[string]*model.Conversation)}
}

func (r *fakeConvRepo) GetConversation(_ context.Context, convID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeConvRepo) EnsureConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	r.mu.Lock()
	if _, ok := r.convs[conv.ID]; !ok {
		cp := *conv
		r.convs[conv.ID] = &cp
	}
	r.mu.Unlock()
	return r.GetConversation(ctx, conv.ID)
}

func (r *fakeConvRepo) ListUserConversations(_ context.Context, userID string) ([]*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Conversation
	for _, c := range r.convs {
		if c.HasParticipant(userID) && c.MaxMsgSeq > 0 {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeConvRepo) IncrMaxSeq(_ context.Context, convID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	c.MaxMsgSeq++
	return c.MaxMsgSeq, nil
}

func (r *fakeConvRepo) UpdateLastMessage(_ context.Context, convID string, seq uint64, msgID, content, senderID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok || c.LastMsgSeq >= seq {
		return nil
	}
	c.LastMsgSeq, c.LastMsgID, c.LastMsgContent, c.LastSenderID = seq, msgID, content, senderID
	c.LastMessageAt = &at
	return nil
}

func (r *fakeConvRepo) SetClosed(_ context.Context, convID string, closed bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok {
		return false, nil
	}
	c.Closed = closed
	return true, nil
}

func (r *fakeConvRepo) DeleteConversation(_ context.Context, convID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, convID)
	return nil
}

// fakePointerRepo 内存版 ReadPointerRepo，取最大值语义与 GREATEST 一致
type fakePointerRepo struct {
	mu       sync.Mutex
	pointers map[string]*model.ReadPointer
}

func newFakePointerRepo() *fakePointerRepo {
	return &fakePointerRepo{pointers: make(map[string]*model.ReadPointer)}
}

func (r *fakePointerRepo) Advance(_ context.Context, convID, userID string, seq uint64, msgID string) (*model.ReadPointer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := convID + "|" + userID
	p, ok := r.pointers[key]
	if !ok {
		p = &model.ReadPointer{ConversationID: convID, UserID: userID}
		r.pointers[key] = p
	}
	if seq > p.ReadMsgSeq {
		p.ReadMsgSeq, p.ReadMsgID = seq, msgID
	}
	cp := *p
	return &cp, nil
}

func (r *fakePointerRepo) GetReadPointer(_ context.Context, convID, userID string) (*model.ReadPointer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pointers[convID+"|"+userID]; ok {
		cp := *p
		return &cp, nil
	}
	return &model.ReadPointer{ConversationID: convID, UserID: userID}, nil
}

func (r *fakePointerRepo) GetUserReadSeqs(_ context.Context, userID string, convIDs []string) (map[string]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(convIDs))
	for _, id := range convIDs {
		if p, ok := r.pointers[id+"|"+userID]; ok {
			out[id] = p.ReadMsgSeq
		}
	}
	return out, nil
}

// fakeMessageRepo 内存版 MessageRepo
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []*mongo.Message
	saveErr  error
}

func (r *fakeMessageRepo) EnsureIndexes(context.Context) error { return nil }

func (r *fakeMessageRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	cp := *msg
	cp.ReadBy = append([]string{}, msg.ReadBy...)
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, msgID string) (*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == msgID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, driver.ErrNoDocuments
}

func (r *fakeMessageRepo) filter(fn func(m *mongo.Message) bool) []*mongo.Message {
	var out []*mongo.Message
	for _, m := range r.messages {
		if fn(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *fakeMessageRepo) ListAfter(_ context.Context, convID string, afterSeq uint64, limit int) ([]*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(m *mongo.Message) bool { return m.ConversationID == convID && m.Seq > afterSeq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) ListBefore(_ context.Context, convID string, beforeSeq uint64, limit int) ([]*mongo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(m *mongo.Message) bool {
		return m.ConversationID == convID && (beforeSeq == 0 || m.Seq < beforeSeq)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *fakeMessageRepo) MarkReadUpTo(_ context.Context, convID, userID string, uptoSeq uint64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []string{}
	for _, m := range r.messages {
		if m.ConversationID == convID && m.Seq <= uptoSeq && m.SenderID != userID && !m.IsReadBy(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (r *fakeMessageRepo) AddReader(_ context.Context, msgID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == msgID && m.SenderID != userID && !m.IsReadBy(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeMessageRepo) CountUnread(_ context.Context, convID, userID string, afterSeq uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.ConversationID == convID && m.SenderID != userID && m.Seq > afterSeq && !m.IsReadBy(userID) {
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) DeleteByConversation(_ context.Context, convID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	var n int64
	for _, m := range r.messages {
		if m.ConversationID == convID {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.messages = kept
	return n, nil
}

// fakeBookings 预约服务桩
type fakeBookings struct {
	bookings map[string]*booking.Participants
	err      error
}

func (b *fakeBookings) GetParticipants(_ context.Context, bookingID string) (*booking.Participants, error) {
	if b.err != nil {
		return nil, b.err
	}
	p, ok := b.bookings[bookingID]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	cp := *p
	return &cp, nil
}

type sentEvent struct {
	target string // conversation 或 user
	toUser bool
	except string
	ev     *event.Event
}

// fakeBroadcaster 记录所有推送
type fakeBroadcaster struct {
	mu      sync.Mutex
	events  []sentEvent
	members map[string]map[string]bool // sessionID -> conversations
	online  map[string]bool
	closed  []string
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{members: make(map[string]map[string]bool), online: make(map[string]bool)}
}

func (b *fakeBroadcaster) join(sessionID, conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.members[sessionID] == nil {
		b.members[sessionID] = make(map[string]bool)
	}
	b.members[sessionID][conversationID] = true
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, conversationID string, ev *event.Event, except string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{target: conversationID, except: except, ev: ev})
	return nil
}

func (b *fakeBroadcaster) SendToUser(_ context.Context, userID string, ev *event.Event, except string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{target: userID, toUser: true, except: except, ev: ev})
	return nil
}

func (b *fakeBroadcaster) IsMember(sessionID, conversationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.members[sessionID][conversationID]
}

func (b *fakeBroadcaster) Online(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *fakeBroadcaster) CloseRoom(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, conversationID)
}

func (b *fakeBroadcaster) ofType(typ string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, e := range b.events {
		if e.ev.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *fakeNotifier) NotifyOffline(_ context.Context, recipientID string, _ *event.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recipientID)
	return n.err
}

// fixture 组装一套内存依赖
type fixture struct {
	convs    *fakeConvRepo
	pointers *fakePointerRepo
	messages *fakeMessageRepo
	bookings *fakeBookings
	bc       *fakeBroadcaster
	notifier *fakeNotifier
	registry ConversationRegistry
	store    MessageStore
	im       IMService
	presence PresenceService
}

func newFixture() *fixture {
	f := &fixture{
		convs:    newFakeConvRepo(),
		pointers: newFakePointerRepo(),
		messages: &fakeMessageRepo{},
		bookings: &fakeBookings{bookings: map[string]*booking.Participants{
			"bk-1":      {CustomerID: "cust", ProviderID: "prov", Active: true},
			"bk-2":      {CustomerID: "cust", ProviderID: "prov2", Active: true},
			"bk-closed": {CustomerID: "cust", ProviderID: "prov", Active: false},
		}},
		bc:       newFakeBroadcaster(),
		notifier: &fakeNotifier{},
	}
	f.registry = NewConversationRegistry(f.convs, f.bookings, nil)
	f.store = NewMessageStore(f.registry, f.convs, f.pointers, f.messages, 200, 50)
	f.im = NewIMService(f.store, f.registry, f.bc, f.notifier)
	f.presence = NewPresenceService(f.store, f.bc, 50*time.Millisecond)
	return f
}

var errStorageDown = errors.New("connection refused")
