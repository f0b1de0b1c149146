package hub

import (
	"Rendezvous/internal/api/config"
	"time"
)

// Options 连接与出站队列参数
type Options struct {
	SendBuffer     int
	SendTimeout    time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// OptionsFromConfig 从 im 配置段构造
func OptionsFromConfig(cfg config.IMConfig) Options {
	return Options{
		SendBuffer:   cfg.SendBuffer,
		SendTimeout:  time.Duration(cfg.SendTimeout) * time.Millisecond,
		PingInterval: time.Duration(cfg.PingInterval) * time.Second,
		PongWait:     time.Duration(cfg.PongWait) * time.Second,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 2 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 20 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	return o
}
