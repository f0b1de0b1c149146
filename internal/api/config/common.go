package config

// Config 配置主体
type Config struct {
	Server               ServerConfig       `mapstructure:"server"`
	DB                   DBConfig           `mapstructure:"database"`
	Mongo                MongoConfig        `mapstructure:"mongo"`
	Redis                RedisConfig        `mapstructure:"redis"`
	Logstash             LogstashConfig     `mapstructure:"logstash"`
	JWT                  JWTConfig          `mapstructure:"jwt"`
	Booking              BookingConfig      `mapstructure:"booking"`
	IM                   IMConfig           `mapstructure:"im"`
	Kafka                KafkaConfig        `mapstructure:"kafka"`
	KafkaBookingConsumer KafkaTopicConsumer `mapstructure:"kafka_booking_consumer"`
	KafkaNotifyProducer  KafkaTopicProducer `mapstructure:"kafka_notify_producer"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // 为空时不限制，仅用于开发
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
}

type MongoConfig struct {
	URL         string `mapstructure:"url"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	Timeout     int    `mapstructure:"timeout"` // 秒
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}

// JWTConfig 身份提供方签发的 Token 校验参数
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// BookingConfig 预约服务地址
type BookingConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Timeout    int    `mapstructure:"timeout"`
	RetryCount int    `mapstructure:"retry_count"`
	CacheTTL   int    `mapstructure:"cache_ttl"`
}

// IMConfig 即时通讯参数
type IMConfig struct {
	SendBuffer       int `mapstructure:"send_buffer"`
	SendTimeout      int `mapstructure:"send_timeout"` // 毫秒
	TypingTTL        int `mapstructure:"typing_ttl"`   // 秒
	MaxContentLength int `mapstructure:"max_content_length"`
	PingInterval     int `mapstructure:"ping_interval"` // 秒
	PongWait         int `mapstructure:"pong_wait"`     // 秒
	HistoryPageSize  int `mapstructure:"history_page_size"`
}

type KafkaConfig struct {
	Brokers  []string       `mapstructure:"brokers"`
	Sasl     SaslConfig     `mapstructure:"sasl"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ConsumerConfig struct {
	SessionTimeout    int `mapstructure:"session_timeout"`
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	RebalanceTimeout  int `mapstructure:"rebalance_timeout"`
	MaxProcessingTime int `mapstructure:"max_processing_time"`
}

type KafkaTopicConsumer struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type KafkaTopicProducer struct {
	Topic   string `mapstructure:"topic"`
	Enabled bool   `mapstructure:"enabled"`
}
