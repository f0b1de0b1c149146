package wire

import (
	"Rendezvous/internal/api"
	"Rendezvous/internal/api/config"
	"Rendezvous/internal/api/handler"
	"Rendezvous/internal/api/middleware"
	"Rendezvous/internal/hub"
	"Rendezvous/internal/job"
	"Rendezvous/internal/pkg/booking"
	"Rendezvous/internal/pkg/cron"
	"Rendezvous/internal/pkg/kafka"
	"Rendezvous/internal/pkg/mongo"
	"Rendezvous/internal/pkg/redis"
	"Rendezvous/internal/pkg/security"
	"Rendezvous/internal/repository"
	"Rendezvous/internal/service"
	"context"
	"time"

	"github.com/gin-gonic/gin"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router         *gin.Engine
	DB             *gorm.DB
	Broker         *hub.Broker
	Relay          *hub.RedisRelay
	CronMgr        *cron.Manager
	KafkaManager   *kafka.ConsumerManager // 未配置 Kafka 时为 nil
	NotifyProducer *kafka.NotifyProducer  // 未启用离线通知时为 nil
}

func BuildApplication(db *gorm.DB, mongoDB *mgo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	// 存储
	convRepo := repository.NewConversationRepo(db)
	pointerRepo := repository.NewReadPointerRepo(db)
	messageRepo := mongo.NewMessageRepo(mongoDB)
	indexCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := messageRepo.EnsureIndexes(indexCtx); err != nil {
		return nil, err
	}

	// 外部边界
	identity := security.NewJWTProvider(cfg.JWT.Secret, cfg.JWT.Issuer, redis.NewTokenBlacklist())
	bookings := booking.NewClient(cfg.Booking)
	cache := service.NewRedisParticipantCache(time.Duration(cfg.Booking.CacheTTL) * time.Second)

	registry := service.NewConversationRegistry(convRepo, bookings, cache)
	store := service.NewMessageStore(registry, convRepo, pointerRepo, messageRepo,
		cfg.IM.MaxContentLength, cfg.IM.HistoryPageSize)

	// 实时通道
	opts := hub.OptionsFromConfig(cfg.IM)
	broker := hub.NewBroker(registry, opts)
	relay := hub.NewRedisRelay()
	broker.SetRelay(relay)
	manager := hub.NewManager(identity, broker, opts)

	producer, err := kafka.NewNotifyProducer(cfg)
	if err != nil {
		return nil, err
	}
	var notifier service.OfflineNotifier
	if producer != nil {
		notifier = producer
	}

	imService := service.NewIMService(store, registry, broker, notifier)
	presenceService := service.NewPresenceService(store, broker, time.Duration(cfg.IM.TypingTTL)*time.Second)

	origins := middleware.NewOriginPolicy(cfg.Server.AllowedOrigins)
	handlers := &api.HandlersGroup{
		Identity:  identity,
		Origins:   origins,
		IMHandler: handler.NewIMHandler(imService, presenceService),
		WsHandler: handler.NewWsHandler(manager, imService, presenceService, origins),
	}
	router := api.SetupRouter(handlers)

	cronMgr := cron.NewCronManager(job.NewTypingExpireJob(presenceService))

	kafkaMgr, err := kafka.NewConsumerManager(cfg, registry, broker)
	if err != nil {
		return nil, err
	}

	return &ApplicationContainer{
		Router:         router,
		DB:             db,
		Broker:         broker,
		Relay:          relay,
		CronMgr:        cronMgr,
		KafkaManager:   kafkaMgr,
		NotifyProducer: producer,
	}, nil
}
