package handler

import (
	"Rendezvous/internal/api/middleware"
	"Rendezvous/internal/event"
	"Rendezvous/internal/hub"
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/response"
	"Rendezvous/internal/pkg/util"
	"Rendezvous/internal/service"
	"context"
	log "log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
)

type WsHandler struct {
	manager         *hub.Manager
	imService       service.IMService
	presenceService service.PresenceService
	upgrader        websocket.Upgrader
}

// NewWsHandler origins 为 nil 时不校验来源
func NewWsHandler(manager *hub.Manager, im service.IMService, presence service.PresenceService, origins *middleware.OriginPolicy) *WsHandler {
	return &WsHandler{
		manager:         manager,
		imService:       im,
		presenceService: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origins.CheckRequest,
		},
	}
}

// Connect 鉴权通过后才升级协议
func (s *WsHandler) Connect(c *gin.Context) {
	sess, err := s.manager.Connect(c.Request.Context(), middleware.BearerCredential(c))
	if err != nil {
		log.WarnContext(c.Request.Context(), "WS 鉴权失败", "err", err)
		response.Error(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.ErrorContext(sess.Context(), "WS 协议升级失败", "err", err)
		s.manager.Disconnect(sess.ID)
		return
	}

	s.reply(sess, consts.EventConnected, event.Connected{SessionID: sess.ID, UserID: sess.UserID})
	s.manager.Serve(sess, conn, s)

	if n := s.presenceService.ClearSession(context.WithoutCancel(sess.Context()), sess.ID); n > 0 {
		log.InfoContext(sess.Context(), "撤销断开会话的输入状态", "count", n)
	}
}

// HandleEvent 上行事件分发
func (s *WsHandler) HandleEvent(sess *hub.Session, ev *event.Event) {
	ctx := sess.Context()
	broker := s.manager.Broker()

	switch ev.Type {
	case consts.EventJoinRoom:
		var req event.RoomReq
		if err := s.decode(ev, &req); err != nil {
			s.replyError(sess, err, "")
			return
		}
		if err := broker.JoinRoom(ctx, sess.ID, req.ConversationID); err != nil {
			s.replyError(sess, err, "")
			return
		}
		s.reply(sess, consts.EventJoined, event.Room{ConversationID: req.ConversationID})

	case consts.EventLeaveRoom:
		var req event.RoomReq
		if err := s.decode(ev, &req); err != nil {
			s.replyError(sess, err, "")
			return
		}
		broker.LeaveRoom(sess.ID, req.ConversationID)
		s.reply(sess, consts.EventLeft, event.Room{ConversationID: req.ConversationID})

	case consts.EventSendMessage:
		var req event.SendMessageReq
		if err := s.decode(ev, &req); err != nil {
			s.replyError(sess, err, req.ClientRef)
			return
		}
		msg, err := s.imService.SendMessage(ctx, &service.SendRequest{
			ConversationID:  req.ConversationID,
			SenderID:        sess.UserID,
			RecipientID:     req.RecipientID,
			Content:         req.Content,
			Attachments:     req.Attachments,
			OriginSessionID: sess.ID,
		})
		if err != nil {
			s.replyError(sess, err, req.ClientRef)
			return
		}
		s.reply(sess, consts.EventMessageAck, event.MessageAck{ClientRef: req.ClientRef, Message: msg})

	case consts.EventTyping:
		var req event.TypingReq
		if err := s.decode(ev, &req); err != nil {
			s.replyError(sess, err, "")
			return
		}
		if err := s.presenceService.SetTyping(ctx, sess.ID, sess.UserID, req.ConversationID, req.IsTyping, req.UserName); err != nil {
			s.replyError(sess, err, "")
		}

	case consts.EventMarkRead:
		var req event.MarkReadReq
		if err := s.decode(ev, &req); err != nil {
			s.replyError(sess, err, "")
			return
		}
		if _, err := s.presenceService.MarkRead(ctx, sess.UserID, sess.ID, req.ConversationID, req.UptoMessageID); err != nil {
			s.replyError(sess, err, "")
		}

	case consts.EventPing:
		s.reply(sess, consts.EventPong, nil)

	default:
		s.replyError(sess, pkgerrors.WithMessage(service.ErrValidation, "unknown event "+ev.Type), "")
	}
}

func (s *WsHandler) decode(ev *event.Event, v interface{}) error {
	if err := ev.Decode(v); err != nil {
		return pkgerrors.WithMessage(service.ErrValidation, err.Error())
	}
	if err := util.ValidateDTO(v); err != nil {
		return pkgerrors.WithMessage(service.ErrValidation, err.Error())
	}
	return nil
}

func (s *WsHandler) reply(sess *hub.Session, typ string, data interface{}) {
	ev, err := event.New(typ, data)
	if err != nil {
		log.ErrorContext(sess.Context(), "WS 事件编码失败", "type", typ, "err", err)
		return
	}
	if err := sess.Send(ev, s.manager.Options().SendTimeout); err != nil {
		log.WarnContext(sess.Context(), "WS 回复失败，断开会话", "type", typ, "err", err)
		s.manager.Disconnect(sess.ID)
	}
}

// replyError 发送失败时带回 clientRef，客户端据此保留草稿重试
func (s *WsHandler) replyError(sess *hub.Session, err error, clientRef string) {
	code, known := service.CodeOf(err)
	msg := service.UnExpectedError.Error()
	if known {
		msg = err.Error()
	} else {
		log.ErrorContext(sess.Context(), "WS 事件处理异常", "err", err)
	}
	s.reply(sess, consts.EventError, event.Error{Code: code, Message: msg, ClientRef: clientRef})
}
