package client

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/logger"
	"Rendezvous/internal/service"
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
)

// State 实时通道状态
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unavailable"
	}
}

var errNotConnected = pkgerrors.WithMessage(service.ErrUnavailable, "realtime channel down")

// refreshOverlap 补拉时回看的 seq 数
const refreshOverlap = 20

type ConnOptions struct {
	URL        string // ws://host/api/im/ws
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	AckTimeout time.Duration
	Dialer     *websocket.Dialer
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

type ackResult struct {
	msg *event.Message
	err error
}

// Conn 带自动重连的实时连接
// 断线期间 State 为 Unavailable，调用方继续走 REST
type Conn struct {
	opts    ConnOptions
	api     *API
	history *History
	badge   *Badge

	writeMu sync.Mutex

	mu        sync.Mutex
	ws        *websocket.Conn
	sessionID string
	userID    string
	state     State
	rooms     map[string]struct{}
	viewing   string
	pending   map[string]chan ackResult
	handlers  []func(*event.Event)
	stateSubs []func(State)
}

func NewConn(opts ConnOptions, api *API, history *History, badge *Badge) *Conn {
	return &Conn{
		opts:    opts.withDefaults(),
		api:     api,
		history: history,
		badge:   badge,
		state:   StateConnecting,
		rooms:   make(map[string]struct{}),
		pending: make(map[string]chan ackResult),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// UserID 服务端确认的用户 ID，首次连上之前为空
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// OnEvent 注册下行事件回调，在读协程中调用
func (c *Conn) OnEvent(fn func(*event.Event)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.stateSubs = append(c.stateSubs, fn)
	c.mu.Unlock()
}

// Run 连接并在断线后指数退避重连，直到 ctx 结束
func (c *Conn) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		started := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateUnavailable)
			return nil
		}
		c.setState(StateUnavailable)
		log.WarnContext(ctx, "实时通道断开，准备重连", "err", err, "backoff", backoff)

		// 稳定运行过一段时间则重置退避
		if time.Since(started) > c.opts.MaxBackoff {
			backoff = c.opts.MinBackoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// session 一次完整连接：握手、重新入房、补拉、读循环
func (c *Conn) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return pkgerrors.WithMessage(service.ErrUnauthenticated, err.Error())
		}
		return err
	}
	defer func() {
		_ = ws.Close()
		c.detach()
	}()

	// 首帧必须是 connected
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.AckTimeout))
	first, err := readEvent(ws)
	if err != nil {
		return err
	}
	_ = ws.SetReadDeadline(time.Time{})
	if first.Type != consts.EventConnected {
		return errors.New("unexpected first event " + first.Type)
	}
	var info event.Connected
	if err := first.Decode(&info); err != nil {
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.sessionID = info.SessionID
	c.userID = info.UserID
	rooms := c.roomsLocked()
	c.mu.Unlock()
	if c.badge != nil {
		c.badge.SetSession(info.SessionID)
	}
	c.setState(StateConnected)

	ctx = logger.WithTrace(ctx, info.SessionID)
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for _, room := range rooms {
		if err := c.write(consts.EventJoinRoom, event.RoomReq{ConversationID: room}); err != nil {
			return err
		}
	}
	go c.catchUp(ctx, rooms)

	for {
		ev, err := readEvent(ws)
		if err != nil {
			return err
		}
		c.dispatch(ctx, ev)
	}
}

// catchUp 补拉断线期间错过的消息，再以轮询结果校准未读
func (c *Conn) catchUp(ctx context.Context, rooms []string) {
	if c.api == nil {
		return
	}
	for _, room := range rooms {
		if err := c.Refresh(ctx, room); err != nil {
			log.WarnContext(ctx, "断线补拉历史失败", "conversationID", room, "err", err)
			continue
		}
		// 断线期间到达正在查看的会话的消息，补拉后即视为已读
		if c.isViewing(room) {
			if last := c.history.Last(room); last != nil {
				c.markViewing(ctx, room, last.ID)
			}
		}
	}
	if c.badge != nil {
		if err := c.badge.Poll(ctx); err != nil {
			log.WarnContext(ctx, "未读数轮询失败", "err", err)
		}
	}
}

// Refresh 拉取本地最后 seq 之后的消息并合并
func (c *Conn) Refresh(ctx context.Context, conversationID string) error {
	// 序号先于落库分配，并发发送时较小的 seq 可能晚到，回看一段窗口补齐空洞
	after := c.history.LastSeq(conversationID)
	if after > refreshOverlap {
		after -= refreshOverlap
	} else {
		after = 0
	}
	for {
		list, err := c.api.History(ctx, conversationID, after, consts.MaxHistoryPageSize)
		if err != nil {
			return err
		}
		c.history.Merge(list...)
		if len(list) < consts.MaxHistoryPageSize {
			return nil
		}
		after = list[len(list)-1].Seq
	}
}

func (c *Conn) dispatch(ctx context.Context, ev *event.Event) {
	switch ev.Type {
	case consts.EventNewMessage:
		var msg event.Message
		if err := ev.Decode(&msg); err != nil {
			log.WarnContext(ctx, "new_message 解析失败", "err", err)
			return
		}
		c.history.Merge(&msg)
		viewing := c.isViewing(msg.ConversationID)
		if c.badge != nil {
			c.badge.OnNewMessage(&msg, viewing)
		}
		if viewing && msg.SenderID != c.UserID() {
			go c.markViewing(ctx, msg.ConversationID, msg.ID)
		}

	case consts.EventMessageAck:
		var ack event.MessageAck
		if err := ev.Decode(&ack); err != nil {
			return
		}
		if ack.Message != nil {
			c.history.Merge(ack.Message)
		}
		c.resolve(ack.ClientRef, ackResult{msg: ack.Message})

	case consts.EventError:
		var e event.Error
		if err := ev.Decode(&e); err != nil {
			return
		}
		if e.ClientRef != "" {
			c.resolve(e.ClientRef, ackResult{err: statusError(e.Code, e.Message)})
		} else {
			log.WarnContext(ctx, "服务端返回错误事件", "code", e.Code, "message", e.Message)
		}

	case consts.EventMessagesMarkedRead:
		var mr event.MarkedRead
		if err := ev.Decode(&mr); err != nil {
			return
		}
		if c.badge != nil {
			c.badge.OnReadReceipt(ctx, &mr)
		}

	case consts.EventConversationDeleted:
		var room event.Room
		if err := ev.Decode(&room); err == nil {
			c.history.Remove(room.ConversationID)
			c.mu.Lock()
			delete(c.rooms, room.ConversationID)
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	handlers := append([]func(*event.Event){}, c.handlers...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Join 记住房间，重连后自动重新加入
func (c *Conn) Join(conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	if c.State() != StateConnected {
		return nil
	}
	return c.write(consts.EventJoinRoom, event.RoomReq{ConversationID: conversationID})
}

func (c *Conn) Leave(conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	if c.viewing == conversationID {
		c.viewing = ""
	}
	c.mu.Unlock()
	if c.State() != StateConnected {
		return nil
	}
	return c.write(consts.EventLeaveRoom, event.RoomReq{ConversationID: conversationID})
}

// View 打开会话：加入房间、补拉、清零该会话未读
func (c *Conn) View(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.viewing = conversationID
	c.mu.Unlock()

	if err := c.Join(conversationID); err != nil {
		return err
	}
	if c.api != nil {
		if err := c.Refresh(ctx, conversationID); err != nil {
			return err
		}
	}
	if c.badge == nil {
		return nil
	}
	upto := ""
	if last := c.history.Last(conversationID); last != nil {
		upto = last.ID
	}
	return c.badge.MarkViewed(ctx, conversationID, upto)
}

// Send 实时通道可用时走 WS 并等待 ack，否则退回 REST
func (c *Conn) Send(ctx context.Context, conversationID, recipientID, content string) (*event.Message, error) {
	if c.State() != StateConnected {
		if c.api == nil {
			return nil, errNotConnected
		}
		msg, err := c.api.Send(ctx, conversationID, recipientID, content)
		if err == nil {
			c.history.Merge(msg)
		}
		return msg, err
	}

	ref := uuid.NewString()
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.pending[ref] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	err := c.write(consts.EventSendMessage, event.SendMessageReq{
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Content:        content,
		ClientRef:      ref,
	})
	if err != nil {
		return nil, pkgerrors.WithMessage(service.ErrUnavailable, err.Error())
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.msg, res.err
	case <-timer.C:
		return nil, pkgerrors.WithMessage(service.ErrTransient, "ack timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Typing 尽力而为
func (c *Conn) Typing(conversationID string, isTyping bool, userName string) {
	if c.State() != StateConnected {
		return
	}
	_ = c.write(consts.EventTyping, event.TypingReq{ConversationID: conversationID, IsTyping: isTyping, UserName: userName})
}

func (c *Conn) write(typ string, data interface{}) error {
	ev, err := event.New(typ, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errNotConnected
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func readEvent(ws *websocket.Conn) (*event.Event, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Conn) resolve(ref string, res ackResult) {
	c.mu.Lock()
	ch, ok := c.pending[ref]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- res:
		default:
		}
	}
}

// detach 断线后未完成的发送全部以 Unavailable 结束
func (c *Conn) detach() {
	c.mu.Lock()
	c.ws = nil
	pending := c.pending
	c.pending = make(map[string]chan ackResult)
	c.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- ackResult{err: errNotConnected}:
		default:
		}
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	subs := append([]func(State){}, c.stateSubs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// markViewing 正在查看的会话收到他人消息时立即上报已读
func (c *Conn) markViewing(ctx context.Context, conversationID, messageID string) {
	var err error
	switch {
	case c.badge != nil:
		err = c.badge.MarkViewed(ctx, conversationID, messageID)
	case c.api != nil:
		_, err = c.api.MarkConversationRead(ctx, conversationID, messageID)
	}
	if err != nil && ctx.Err() == nil {
		log.WarnContext(ctx, "上报已读失败", "conversationID", conversationID, "messageID", messageID, "err", err)
	}
}

func (c *Conn) isViewing(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewing == conversationID
}

func (c *Conn) roomsLocked() []string {
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
