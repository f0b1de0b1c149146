package job

import (
	"Rendezvous/internal/pkg/logger"
	"Rendezvous/internal/service"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// TypingExpireJob 清理超时未刷新的输入状态
type TypingExpireJob struct {
	presence service.PresenceService
}

func NewTypingExpireJob(presence service.PresenceService) *TypingExpireJob {
	return &TypingExpireJob{presence: presence}
}

func (s *TypingExpireJob) Run() {
	ctx := logger.WithTrace(context.Background(), "job-typing-"+uuid.NewString())
	if n := s.presence.ExpireTyping(ctx, time.Now()); n > 0 {
		log.DebugContext(ctx, "TypingExpireJob expired", "count", n)
	}
}
