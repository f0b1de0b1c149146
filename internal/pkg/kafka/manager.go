package kafka

import (
	"Rendezvous/internal/api/config"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// ConsumerManager 管理所有 Kafka 消费者
type ConsumerManager struct {
	bookingConsumer sarama.ConsumerGroup
	bookingHandler  sarama.ConsumerGroupHandler
	bookingTopic    string
}

// NewConsumerManager 未配置 broker 时返回 nil，预约状态仅依赖首次触达时的查询
func NewConsumerManager(cfg *config.Config, closer ConversationCloser, rooms RoomCloser) (*ConsumerManager, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.KafkaBookingConsumer.Topic == "" {
		return nil, nil
	}

	bookingConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaBookingConsumer.GroupID, newSaramaConfig(cfg.Kafka))
	if err != nil {
		return nil, err
	}

	return &ConsumerManager{
		bookingConsumer: bookingConsumer,
		bookingHandler:  NewBookingHandler(closer, rooms),
		bookingTopic:    cfg.KafkaBookingConsumer.Topic,
	}, nil
}

// Start 启动所有消费者，ctx 取消后关闭
func (m *ConsumerManager) Start(ctx context.Context) error {
	go func() {
		for err := range m.bookingConsumer.Errors() {
			log.Error("booking consumer error", "err", err)
		}
	}()

	go func() {
		log.Info("Booking consumer started", "topic", m.bookingTopic)
		for {
			if err := m.bookingConsumer.Consume(ctx, []string{m.bookingTopic}, m.bookingHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info("Kafka Manager shutting down...")

	if err := m.bookingConsumer.Close(); err != nil {
		log.Error("Failed to close booking consumer", "err", err)
	}
	return nil
}
