package logger

import (
	"Rendezvous/internal/api/config"
	"io"
	log "log/slog"
	"net"
	"os"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

var LogWriter io.Writer = os.Stdout

// InitLogger 初始化全局日志：stdout JSON + 可选 Logstash 远程上报
func InitLogger() {
	cfg := config.Cfg.Logstash

	hStdout := log.NewJSONHandler(os.Stdout, &log.HandlerOptions{Level: log.LevelInfo})

	var finalHandler log.Handler = hStdout

	if cfg.Address != "" {
		conn, err := net.DialTimeout("tcp", cfg.Address, 3*time.Second)
		if err == nil {
			hRemote := log.NewJSONHandler(conn, &log.HandlerOptions{Level: log.LevelInfo}).
				WithAttrs([]log.Attr{
					log.String("target_index", cfg.Index),
					log.String("log_token", cfg.Token),
				})

			finalHandler = slogmulti.Fanout(hStdout, NewRemoteFilterHandler(hRemote, log.LevelWarn))
			LogWriter = conn
		} else {
			log.Warn("Failed to connect to Logstash, logging to stdout only", "err", err)
		}
	}

	logger := log.New(&ContextHandler{finalHandler})
	log.SetDefault(logger)
}
