package logger

import (
	"context"
	log "log/slog"
)

// RemoteFilterHandler 远程上报过滤：带 trace_id 的请求/会话日志，以及 Warn 以上的后台日志
// 定时任务每秒运行，不加过滤会淹没 Logstash
type RemoteFilterHandler struct {
	next     log.Handler
	minLevel log.Level
}

// NewRemoteFilterHandler minLevel 及以上的日志无论是否带 trace_id 都会上报
func NewRemoteFilterHandler(next log.Handler, minLevel log.Level) *RemoteFilterHandler {
	return &RemoteFilterHandler{next: next, minLevel: minLevel}
}

func (s *RemoteFilterHandler) Enabled(ctx context.Context, level log.Level) bool {
	return s.next.Enabled(ctx, level)
}

func (s *RemoteFilterHandler) Handle(ctx context.Context, r log.Record) error {
	if r.Level >= s.minLevel || traced(r) {
		return s.next.Handle(ctx, r)
	}
	return nil
}

func (s *RemoteFilterHandler) WithAttrs(attrs []log.Attr) log.Handler {
	return &RemoteFilterHandler{next: s.next.WithAttrs(attrs), minLevel: s.minLevel}
}

func (s *RemoteFilterHandler) WithGroup(name string) log.Handler {
	return &RemoteFilterHandler{next: s.next.WithGroup(name), minLevel: s.minLevel}
}

func traced(r log.Record) bool {
	found := false
	r.Attrs(func(a log.Attr) bool {
		if a.Key == TraceIDKey && a.Value.String() != "" {
			found = true
			return false
		}
		return true
	})
	return found
}
