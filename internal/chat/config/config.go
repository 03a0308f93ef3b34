package config

import (
	"time"

	"orderchat.com/pkg/governance"
	"orderchat.com/pkg/orm"
	"orderchat.com/pkg/ratelimit"
	"orderchat.com/pkg/trace"
	"orderchat.com/pkg/xredis"
)

// 总配置
type Cfg struct {
	Name      string                 `mapstructure:"name"`
	HTTP      HTTPConfig             `mapstructure:"http"`
	Log       LogConfig              `mapstructure:"log"`
	Auth      AuthConfig             `mapstructure:"auth"`
	Storage   StorageConfig          `mapstructure:"storage"`
	MySQL     orm.Config             `mapstructure:"mysql"`
	Redis     RedisConfig            `mapstructure:"redis"`
	Nats      NatsConfig             `mapstructure:"nats"`
	WS        WSConfig               `mapstructure:"ws"`
	Chat      ChatConfig             `mapstructure:"chat"`
	RateLimit RateLimitConfig        `mapstructure:"ratelimit"`
	Breaker   BreakerConfig          `mapstructure:"breaker"`
	Sentinel  governance.SentinelCfg `mapstructure:"sentinel"`
	Trace     trace.Config           `mapstructure:"trace"`
	Seed      []SeedOrder            `mapstructure:"seed"`
}

type HTTPConfig struct {
	Addr            string `mapstructure:"addr"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AuthConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// StorageConfig.Driver: "memory" / "mysql"
type StorageConfig struct {
	Driver  string `mapstructure:"driver"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	CacheTTLSec int    `mapstructure:"cache_ttl_sec"`
}

func (r RedisConfig) Conn() *xredis.Config {
	return &xredis.Config{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

type NatsConfig struct {
	URL    string `mapstructure:"url"` // 为空则单节点，不做跨节点转发
	NodeID string `mapstructure:"node_id"`
}

type WSConfig struct {
	SendBuf       int     `mapstructure:"send_buf"`
	ReadLimit     int64   `mapstructure:"read_limit"`
	PongWaitSec   int     `mapstructure:"pong_wait_sec"`
	PingPeriodSec int     `mapstructure:"ping_period_sec"`
	MsgRPS        float64 `mapstructure:"msg_rps"` // 单用户 sendMessage 限流
	MsgBurst      int     `mapstructure:"msg_burst"`
}

type ChatConfig struct {
	MaxContentLength int `mapstructure:"max_content_length"`
	IdleChannelSec   int `mapstructure:"idle_channel_sec"` // 0 不回收
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type BreakerConfig struct {
	MaxRequests         uint32  `mapstructure:"max_requests"`
	IntervalSec         int     `mapstructure:"interval_sec"`
	TimeoutSec          int     `mapstructure:"timeout_sec"`
	ConsecutiveFailures uint32  `mapstructure:"consecutive_failures"`
	FailureRate         float64 `mapstructure:"failure_rate"`
	MinRequests         uint32  `mapstructure:"min_requests"`
}

// Rule converts the yaml shape into a breaker rule; zero values fall back to the manager defaults.
func (b BreakerConfig) Rule() ratelimit.Rule {
	return ratelimit.Rule{
		MaxRequests:             b.MaxRequests,
		Interval:                time.Duration(b.IntervalSec) * time.Second,
		Timeout:                 time.Duration(b.TimeoutSec) * time.Second,
		TripConsecutiveFailures: b.ConsecutiveFailures,
		TripFailureRate:         b.FailureRate,
		TripMinRequests:         b.MinRequests,
	}
}

// SeedOrder is created at startup when the in-memory store is used.
type SeedOrder struct {
	UserID      int64  `mapstructure:"user_id"`
	Email       string `mapstructure:"email"`
	Description string `mapstructure:"description"`
}
