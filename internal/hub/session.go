package hub

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/logger"
	"Rendezvous/internal/pkg/security"
	"context"
	"errors"
	log "log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// InboundHandler 处理客户端上行事件，在读协程上同步执行
type InboundHandler interface {
	HandleEvent(s *Session, ev *event.Event)
}

// Session 单条连接，同一用户可同时持有多个
type Session struct {
	ID            string
	UserID        string
	EmailVerified bool

	out   *outbox
	mu    sync.RWMutex
	rooms map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession(identity *security.Identity, sendBuffer int) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithTrace(context.Background(), id))
	return &Session{
		ID:            id,
		UserID:        identity.UserID,
		EmailVerified: identity.EmailVerified,
		out:           newOutbox(sendBuffer),
		rooms:         make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Context 会话生命周期，携带以会话 ID 为值的 trace_id
func (s *Session) Context() context.Context {
	return s.ctx
}

// Done 会话关闭时关闭
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Joined 是否已加入房间
func (s *Session) Joined(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[conversationID]
	return ok
}

// Rooms 已加入的房间，按 ID 排序
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Send 直接发给本会话 (ack、错误、pong)
func (s *Session) Send(ev *event.Event, timeout time.Duration) error {
	frame, err := ev.Encode()
	if err != nil {
		return err
	}
	return s.out.push(frame, timeout)
}

func (s *Session) addRoom(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[conversationID]; ok {
		return false
	}
	s.rooms[conversationID] = struct{}{}
	return true
}

func (s *Session) removeRoom(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[conversationID]; !ok {
		return false
	}
	delete(s.rooms, conversationID)
	return true
}

func (s *Session) close() {
	s.once.Do(func() {
		s.cancel()
		s.out.close()
	})
}

// next 等待下一帧，会话关闭或超时返回 false
func (s *Session) next(timeout time.Duration) (event.Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if f, ok := s.out.pop(); ok {
			return f, true
		}
		select {
		case <-s.out.ready:
		case <-s.ctx.Done():
			return event.Frame{}, false
		case <-timer.C:
			return event.Frame{}, false
		}
	}
}

// readPump 读循环，上行事件在本协程内处理
func (s *Session) readPump(conn *websocket.Conn, opts Options, handler InboundHandler) {
	defer s.close()

	conn.SetReadLimit(opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				log.InfoContext(s.ctx, "WS 客户端断开", "userID", s.UserID)
			case errors.As(err, &ne) && ne.Timeout():
				log.WarnContext(s.ctx, "WS 心跳超时", "userID", s.UserID)
			case s.ctx.Err() == nil:
				log.WarnContext(s.ctx, "WS 读取失败", "userID", s.UserID, "err", err)
			}
			return
		}

		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			handler.HandleEvent(s, &event.Event{})
			continue
		}
		handler.HandleEvent(s, &ev)
	}
}

// writePump 写循环，负责心跳
func (s *Session) writePump(conn *websocket.Conn, opts Options) {
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		s.close()
		_ = conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(opts.WriteWait))
			return
		case <-s.out.ready:
			for {
				f, ok := s.out.pop()
				if !ok {
					break
				}
				_ = conn.SetWriteDeadline(time.Now().Add(opts.WriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, f.Body); err != nil {
					log.WarnContext(s.ctx, "WS 推送失败", "userID", s.UserID, "err", err)
					return
				}
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(opts.WriteWait)); err != nil {
				return
			}
		}
	}
}
