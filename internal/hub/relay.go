package hub

import (
	"Rendezvous/internal/event"
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/redis"
	"context"
	log "log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// relayEnvelope Redis 频道上的转发载荷
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Except string          `json:"except,omitempty"`
	Type   string          `json:"type"`
	Body   json.RawMessage `json:"body"`
}

// LocalDeliverer 本实例投递
type LocalDeliverer interface {
	DeliverRoom(ctx context.Context, conversationID string, frame event.Frame, exceptSessionID string)
	DeliverUser(ctx context.Context, userID string, frame event.Frame, exceptSessionID string)
}

// RedisRelay 通过 Redis Pub/Sub 在多实例间转发房间与用户事件
type RedisRelay struct {
	instanceID string
}

func NewRedisRelay() *RedisRelay {
	return &RedisRelay{instanceID: uuid.NewString()}
}

// InstanceID 当前实例标识
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

func (r *RedisRelay) PublishRoom(ctx context.Context, conversationID string, frame event.Frame, exceptSessionID string) {
	r.publish(ctx, consts.IMConversationChannel+conversationID, frame, exceptSessionID)
}

func (r *RedisRelay) PublishUser(ctx context.Context, userID string, frame event.Frame, exceptSessionID string) {
	r.publish(ctx, consts.IMUserChannel+userID, frame, exceptSessionID)
}

func (r *RedisRelay) publish(ctx context.Context, channel string, frame event.Frame, except string) {
	data, err := json.Marshal(relayEnvelope{
		Origin: r.instanceID,
		Except: except,
		Type:   frame.Type,
		Body:   frame.Body,
	})
	if err != nil {
		log.ErrorContext(ctx, "relay 编码失败", "channel", channel, "err", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := redis.Publish(pubCtx, channel, data); err != nil {
		log.WarnContext(ctx, "relay 发布失败", "channel", channel, "err", err)
	}
}

// Run 订阅 im:* 并把其他实例的事件投递到本地，ctx 取消后返回
func (r *RedisRelay) Run(ctx context.Context, local LocalDeliverer) error {
	pubsub := redis.PSubscribe(ctx, consts.IMChannelPattern)
	defer func() {
		_ = pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	log.Info("IM relay 已订阅", "instance", r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(ctx, local, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) dispatch(ctx context.Context, local LocalDeliverer, channel string, payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn("relay 载荷解析失败", "channel", channel, "err", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}

	frame := event.Frame{Type: env.Type, Body: env.Body}
	switch {
	case strings.HasPrefix(channel, consts.IMConversationChannel):
		local.DeliverRoom(ctx, strings.TrimPrefix(channel, consts.IMConversationChannel), frame, env.Except)
	case strings.HasPrefix(channel, consts.IMUserChannel):
		local.DeliverUser(ctx, strings.TrimPrefix(channel, consts.IMUserChannel), frame, env.Except)
	}
}
