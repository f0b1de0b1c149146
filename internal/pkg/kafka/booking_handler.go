package kafka

import (
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/logger"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

// BookingEvent 预约服务推送的生命周期事件
type BookingEvent struct {
	BookingID string `json:"bookingId"`
	Type      string `json:"type"`
}

// ConversationCloser 根据预约状态开关会话
type ConversationCloser interface {
	SetClosed(ctx context.Context, conversationID string, closed bool) error
}

// RoomCloser 会话关闭后断开在线成员的房间
type RoomCloser interface {
	CloseRoom(conversationID string)
}

type BookingHandler struct {
	closer ConversationCloser
	rooms  RoomCloser
}

func NewBookingHandler(closer ConversationCloser, rooms RoomCloser) *BookingHandler {
	return &BookingHandler{closer: closer, rooms: rooms}
}

func (s *BookingHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("booking consumer setup")
	return nil
}

func (s *BookingHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("booking consumer cleanup")
	return nil
}

func (s *BookingHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-booking consume claim")
	if err := pullMessageBatch(session, claim, s.logic); err != nil {
		log.Error("topic-booking process batch error", "err", err)
		return err
	}
	log.Info("topic-booking consume claim end")
	return nil
}

// logic 格式错误或未知类型的消息直接跳过，只有存储失败才重试
func (s *BookingHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = logger.WithTrace(ctx, "kafka-booking-"+string(msg.Key))

	var ev BookingEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.BookingID == "" {
		log.WarnContext(ctx, "invalid booking event, skipped", "offset", msg.Offset, "err", err)
		return nil
	}

	var closed bool
	switch ev.Type {
	case consts.BookingEventCancelled, consts.BookingEventCompleted:
		closed = true
	case consts.BookingEventReactivated:
		closed = false
	default:
		log.DebugContext(ctx, "booking event ignored", "bookingID", ev.BookingID, "type", ev.Type)
		return nil
	}

	if err := s.closer.SetClosed(ctx, ev.BookingID, closed); err != nil {
		return err
	}
	if closed && s.rooms != nil {
		s.rooms.CloseRoom(ev.BookingID)
	}
	log.InfoContext(ctx, "booking event applied", "bookingID", ev.BookingID, "type", ev.Type)
	return nil
}
