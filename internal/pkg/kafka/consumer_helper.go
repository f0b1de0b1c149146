package kafka

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

const (
	batchSize    = 32
	batchTimeout = 1 * time.Second
	maxBackoff   = 5 * time.Second
)

type LogicFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

// pullMessageBatch 拉取一批消息并执行业务逻辑
func pullMessageBatch(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim, logic LogicFunc) error {
	batch := make([]*sarama.ConsumerMessage, 0, batchSize)
	ticker := time.NewTicker(batchTimeout)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				if len(batch) > 0 {
					processBatch(session.Context(), session, batch, logic)
				}
				return nil
			}
			batch = append(batch, msg)
			if len(batch) >= batchSize {
				processBatch(session.Context(), session, batch, logic)
				// 清空缓冲区 & 重置定时器
				batch = make([]*sarama.ConsumerMessage, 0, batchSize)
				ticker.Reset(batchTimeout)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				processBatch(session.Context(), session, batch, logic)
				batch = make([]*sarama.ConsumerMessage, 0, batchSize)
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// offsetMarker 提交位点，便于脱离 sarama 会话测试
type offsetMarker interface {
	MarkMessage(msg *sarama.ConsumerMessage, metadata string)
}

// processBatch 按 Key 分组并发处理，同一 Key 内保持顺序
func processBatch(ctx context.Context, marker offsetMarker, messages []*sarama.ConsumerMessage, logic LogicFunc) {
	groups := make(map[string][]*sarama.ConsumerMessage)
	order := make([]string, 0)
	for _, msg := range messages {
		key := string(msg.Key)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], msg)
	}

	var wg sync.WaitGroup
	for _, key := range order {
		wg.Add(1)
		go func(msgs []*sarama.ConsumerMessage) {
			defer wg.Done()
			for _, m := range msgs {
				if !processWithRetry(ctx, m, logic) {
					return
				}
			}
		}(groups[key])
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	if len(messages) > 0 {
		marker.MarkMessage(messages[len(messages)-1], "")
	}
}

// processWithRetry 失败后指数退避重试，上下文取消时返回 false
func processWithRetry(ctx context.Context, m *sarama.ConsumerMessage, logic LogicFunc) bool {
	retryInterval := 100 * time.Millisecond
	for {
		err := logic(ctx, m)
		if err == nil {
			return true
		}
		log.ErrorContext(ctx, "process message error", "topic", m.Topic, "offset", m.Offset, "err", err)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryInterval):
		}

		retryInterval *= 2
		if retryInterval > maxBackoff {
			retryInterval = maxBackoff
		}
	}
}
