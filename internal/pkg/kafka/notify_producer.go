package kafka

import (
	"Rendezvous/internal/api/config"
	"Rendezvous/internal/event"
	"context"
	log "log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

const previewLength = 64

// OfflineNotice 接收方离线时投递给通知服务的记录
type OfflineNotice struct {
	RecipientID    string    `json:"recipientId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}

type NotifyProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewNotifyProducer 未启用或未配置 broker 时返回 nil
func NewNotifyProducer(cfg *config.Config) (*NotifyProducer, error) {
	if !cfg.KafkaNotifyProducer.Enabled || len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, newSaramaProducerConfig(cfg.Kafka))
	if err != nil {
		return nil, err
	}
	return NewNotifyProducerWith(producer, cfg.KafkaNotifyProducer.Topic), nil
}

func NewNotifyProducerWith(producer sarama.SyncProducer, topic string) *NotifyProducer {
	return &NotifyProducer{producer: producer, topic: topic}
}

// NotifyOffline 以接收方 ID 为 Key 保证同一用户的通知有序
func (p *NotifyProducer) NotifyOffline(ctx context.Context, recipientID string, msg *event.Message) error {
	body, err := json.Marshal(OfflineNotice{
		RecipientID:    recipientID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		Preview:        preview(msg.Content),
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(recipientID),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return err
	}
	log.DebugContext(ctx, "offline notice sent", "recipientID", recipientID, "partition", partition, "offset", offset)
	return nil
}

func (p *NotifyProducer) Close() error {
	return p.producer.Close()
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return string(r[:previewLength]) + "…"
}
