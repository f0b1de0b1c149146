package hub

import (
	"Rendezvous/internal/pkg/security"
	"Rendezvous/internal/service"
	"context"
	log "log/slog"

	"github.com/gorilla/websocket"
)

// Manager 连接生命周期：鉴权、注册、收发协程、注销
type Manager struct {
	identity security.IdentityProvider
	broker   *Broker
	opts     Options
}

func NewManager(identity security.IdentityProvider, broker *Broker, opts Options) *Manager {
	return &Manager{
		identity: identity,
		broker:   broker,
		opts:     opts.withDefaults(),
	}
}

// Broker 房间代理
func (m *Manager) Broker() *Broker {
	return m.broker
}

// Options 连接参数
func (m *Manager) Options() Options {
	return m.opts
}

// Connect 校验凭据并创建会话，失败时不应升级协议
func (m *Manager) Connect(ctx context.Context, credential string) (*Session, error) {
	identity, err := m.identity.Verify(ctx, credential)
	if err != nil {
		return nil, service.AuthError(err)
	}
	if identity.UserID == "" {
		return nil, service.ErrUnauthenticated
	}

	s := newSession(identity, m.opts.SendBuffer)
	m.broker.attach(s)
	log.InfoContext(s.ctx, "WS 会话建立", "userID", s.UserID)
	return s, nil
}

// Disconnect 移出所有房间并关闭会话，可重复调用
func (m *Manager) Disconnect(sessionID string) {
	s := m.broker.detach(sessionID)
	if s == nil {
		return
	}
	s.close()
	log.InfoContext(s.ctx, "WS 会话关闭", "userID", s.UserID)
}

// Online 用户是否在线 (任一会话存活)
func (m *Manager) Online(userID string) bool {
	return m.broker.Online(userID)
}

// Serve 启动收发协程并阻塞到连接结束
func (m *Manager) Serve(s *Session, conn *websocket.Conn, handler InboundHandler) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(conn, m.opts)
	}()
	s.readPump(conn, m.opts, handler)
	<-done
	m.Disconnect(s.ID)
}
