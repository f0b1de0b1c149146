package service

import (
	"Rendezvous/internal/model"
	"Rendezvous/internal/pkg/booking"
	"Rendezvous/internal/pkg/consts"
	"Rendezvous/internal/pkg/redis"
	"Rendezvous/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// ConversationRegistry 会话与预约参与者的对应关系，负责准入判断
type ConversationRegistry interface {
	// Authorize 返回会话，不存在时按预约信息创建；非参与者返回 ErrForbidden
	Authorize(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	CanJoin(ctx context.Context, conversationID, userID string) error
	SetClosed(ctx context.Context, conversationID string, closed bool) error
	Evict(ctx context.Context, conversationID string)
}

// ParticipantCache 参与者缓存，预约状态变化时失效
type ParticipantCache interface {
	Get(ctx context.Context, conversationID string) (*model.Conversation, bool)
	Set(ctx context.Context, conv *model.Conversation)
	Evict(ctx context.Context, conversationID string)
}

type conversationRegistryImpl struct {
	convRepo repository.ConversationRepo
	bookings booking.Client
	cache    ParticipantCache
}

func NewConversationRegistry(convRepo repository.ConversationRepo, bookings booking.Client, cache ParticipantCache) ConversationRegistry {
	return &conversationRegistryImpl{
		convRepo: convRepo,
		bookings: bookings,
		cache:    cache,
	}
}

// Authorize 缓存 -> MySQL -> 预约服务
func (s *conversationRegistryImpl) Authorize(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	if conversationID == "" || len(conversationID) > 64 {
		return nil, ErrNotFound
	}

	conv, err := s.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// CanJoin 供房间代理调用
func (s *conversationRegistryImpl) CanJoin(ctx context.Context, conversationID, userID string) error {
	_, err := s.Authorize(ctx, conversationID, userID)
	return err
}

// SetClosed 预约取消/完成时关闭会话，重新激活时打开
func (s *conversationRegistryImpl) SetClosed(ctx context.Context, conversationID string, closed bool) error {
	found, err := s.convRepo.SetClosed(ctx, conversationID, closed)
	if err != nil {
		return pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	s.Evict(ctx, conversationID)
	if !found {
		log.InfoContext(ctx, "预约事件对应的会话尚未创建", "conversationID", conversationID)
	}
	return nil
}

func (s *conversationRegistryImpl) Evict(ctx context.Context, conversationID string) {
	if s.cache != nil {
		s.cache.Evict(ctx, conversationID)
	}
}

func (s *conversationRegistryImpl) lookup(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if s.cache != nil {
		if conv, ok := s.cache.Get(ctx, conversationID); ok {
			return conv, nil
		}
	}

	conv, err := s.convRepo.GetConversation(ctx, conversationID)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		conv, err = s.create(ctx, conversationID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}

	if s.cache != nil {
		s.cache.Set(ctx, conv)
	}
	return conv, nil
}

// create 首次触达时根据预约参与者创建会话
func (s *conversationRegistryImpl) create(ctx context.Context, conversationID string) (*model.Conversation, error) {
	p, err := s.bookings.GetParticipants(ctx, conversationID)
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}

	conv, err := s.convRepo.EnsureConversation(ctx, &model.Conversation{
		ID:         conversationID,
		CustomerID: p.CustomerID,
		ProviderID: p.ProviderID,
		Closed:     !p.Active,
	})
	if err != nil {
		return nil, pkgerrors.WithMessage(ErrTransient, err.Error())
	}
	log.InfoContext(ctx, "会话已创建", "conversationID", conversationID,
		"customerID", conv.CustomerID, "providerID", conv.ProviderID)
	return conv, nil
}

// redisParticipantCache 以 JSON 缓存会话参与者与关闭状态
type redisParticipantCache struct {
	ttl time.Duration
}

func NewRedisParticipantCache(ttl time.Duration) ParticipantCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisParticipantCache{ttl: ttl}
}

type cachedParticipants struct {
	CustomerID string `json:"customerId"`
	ProviderID string `json:"providerId"`
	Closed     bool   `json:"closed"`
}

func (c *redisParticipantCache) Get(ctx context.Context, conversationID string) (*model.Conversation, bool) {
	val, err := redis.GetValue(ctx, consts.BookingParticipantsKey+conversationID)
	if err != nil || val == "" {
		return nil, false
	}
	var p cachedParticipants
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, false
	}
	return &model.Conversation{
		ID:         conversationID,
		CustomerID: p.CustomerID,
		ProviderID: p.ProviderID,
		Closed:     p.Closed,
	}, true
}

func (c *redisParticipantCache) Set(ctx context.Context, conv *model.Conversation) {
	data, err := json.Marshal(cachedParticipants{
		CustomerID: conv.CustomerID,
		ProviderID: conv.ProviderID,
		Closed:     conv.Closed,
	})
	if err != nil {
		return
	}
	if err := redis.SetWithExpiration(ctx, consts.BookingParticipantsKey+conv.ID, data, c.ttl); err != nil {
		log.WarnContext(ctx, "参与者缓存写入失败", "conversationID", conv.ID, "err", err)
	}
}

func (c *redisParticipantCache) Evict(ctx context.Context, conversationID string) {
	if err := redis.DeleteKey(ctx, consts.BookingParticipantsKey+conversationID); err != nil {
		log.WarnContext(ctx, "参与者缓存删除失败", "conversationID", conversationID, "err", err)
	}
}
