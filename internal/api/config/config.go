package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// LoadConfig 从文件加载配置并填充到 Cfg，环境变量优先
func LoadConfig() error {
	// .env 可选，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Cfg = &cfg

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("mongo.database", "rendezvous")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.timeout", 10)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 4)
	v.SetDefault("jwt.issuer", "Rendezvous")
	v.SetDefault("booking.timeout", 3)
	v.SetDefault("booking.retry_count", 2)
	v.SetDefault("booking.cache_ttl", 600)
	v.SetDefault("im.send_buffer", 256)
	v.SetDefault("im.send_timeout", 2000)
	v.SetDefault("im.typing_ttl", 5)
	v.SetDefault("im.max_content_length", 4000)
	v.SetDefault("im.ping_interval", 18)
	v.SetDefault("im.pong_wait", 20)
	v.SetDefault("im.history_page_size", 50)
	v.SetDefault("kafka.consumer.session_timeout", 10)
	v.SetDefault("kafka.consumer.heartbeat_interval", 3)
	v.SetDefault("kafka.consumer.rebalance_timeout", 60)
	v.SetDefault("kafka.consumer.max_processing_time", 5)
}
