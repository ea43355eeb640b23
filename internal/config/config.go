package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type AgentConfig struct {
	UserID          string `mapstructure:"user_id"`
	GatewayURL      string `mapstructure:"gateway_url"`
	ReconnectBaseMs int    `mapstructure:"reconnect_base_ms"`
	ReconnectMaxMs  int    `mapstructure:"reconnect_max_ms"`
	MaxPendingSends int    `mapstructure:"max_pending_sends"`
}

type CaptureConfig struct {
	MinSwipeDistancePx float64 `mapstructure:"min_swipe_distance_px"`
}

type BufferConfig struct {
	MinSwipeSamples  int  `mapstructure:"min_swipe_samples"`
	MinTypingSamples int  `mapstructure:"min_typing_samples"`
	ResetAfterEmit   bool `mapstructure:"reset_after_emit"`
}

type RiskConfig struct {
	MediumThreshold int  `mapstructure:"medium_threshold"`
	HighThreshold   int  `mapstructure:"high_threshold"`
	LowThreshold    int  `mapstructure:"low_threshold"`
	LowTierEnabled  bool `mapstructure:"low_tier_enabled"`
}

type GatewayConfig struct {
	ListenAddr            string `mapstructure:"listen_addr"`
	OracleURL             string `mapstructure:"oracle_url"` // ws://host:port/predict
	TrainURL              string `mapstructure:"train_url"`  // http://host:port
	ForwardTimeoutSeconds int    `mapstructure:"forward_timeout_seconds"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	VerdictTopic string   `mapstructure:"verdict_topic"`
}

type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	Capture CaptureConfig `mapstructure:"capture"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	Risk    RiskConfig    `mapstructure:"risk"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// env overrides: SAFESHIELD_GATEWAY_URL etc. (optional)
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("agent.gateway_url", "ws://localhost:9001/stream")
	v.SetDefault("agent.reconnect_base_ms", 500)
	v.SetDefault("agent.reconnect_max_ms", 15000)
	v.SetDefault("agent.max_pending_sends", 64)
	v.SetDefault("capture.min_swipe_distance_px", 5.0)
	v.SetDefault("buffer.min_swipe_samples", 10)
	v.SetDefault("buffer.min_typing_samples", 15)
	v.SetDefault("buffer.reset_after_emit", false)
	v.SetDefault("risk.medium_threshold", 5)
	v.SetDefault("risk.high_threshold", 2)
	v.SetDefault("risk.low_threshold", 10)
	v.SetDefault("risk.low_tier_enabled", false)
	v.SetDefault("gateway.listen_addr", ":9001")
	v.SetDefault("gateway.oracle_url", "ws://localhost:8000/predict")
	v.SetDefault("gateway.train_url", "http://localhost:5000")
	v.SetDefault("gateway.forward_timeout_seconds", 15)
	v.SetDefault("gateway.reconnect_delay_seconds", 3)
	v.SetDefault("kafka.verdict_topic", "safeshield.verdicts")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// quick sanity checks
	if cfg.Buffer.MinSwipeSamples < 1 {
		cfg.Buffer.MinSwipeSamples = 10
	}
	if cfg.Buffer.MinTypingSamples < 1 {
		cfg.Buffer.MinTypingSamples = 15
	}
	if cfg.Gateway.ForwardTimeoutSeconds < 1 {
		cfg.Gateway.ForwardTimeoutSeconds = 15
	}
	if cfg.Gateway.ReconnectDelaySeconds < 1 {
		cfg.Gateway.ReconnectDelaySeconds = 3
	}

	return &cfg, nil
}

func (g GatewayConfig) ForwardTimeout() time.Duration {
	return time.Duration(g.ForwardTimeoutSeconds) * time.Second
}

func (g GatewayConfig) ReconnectDelay() time.Duration {
	return time.Duration(g.ReconnectDelaySeconds) * time.Second
}
