package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Tracker  TrackerConfig  `yaml:"tracker"`
	Sink     SinkConfig     `yaml:"sink"`
	History  HistoryConfig  `yaml:"history"`
	Worker   WorkerConfig   `yaml:"worker"`
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
}

type TrackerConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	VerifyTLS      bool   `yaml:"verify_tls"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SinkConfig struct {
	Port           int  `yaml:"port"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	VerifyTLS      bool `yaml:"verify_tls"`
	BodyLimit      int  `yaml:"body_limit"`
}

type HistoryConfig struct {
	Mode             string `yaml:"mode"` // "helper" | "fake"
	HelperURL        string `yaml:"helper_url"`
	AnisetteLibsPath string `yaml:"anisette_libs_path"`
	StorePath        string `yaml:"store_path"`
	StoreBackend     string `yaml:"store_backend"` // "file" | "redis"
	StoreRedisKey    string `yaml:"store_redis_key"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type WorkerConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	HTTPAddr            string `yaml:"http_addr"`
}

// Database, Kafka and Redis are optional; an empty host disables them.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	PushTopicName string `yaml:"push_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{
			BaseURL:        "http://localhost:8082",
			TimeoutSeconds: 20,
		},
		Sink: SinkConfig{
			Port:           5055,
			TimeoutSeconds: 5,
			BodyLimit:      200,
		},
		History: HistoryConfig{
			Mode:             "helper",
			AnisetteLibsPath: "ani_libs.bin",
			StorePath:        "account.json",
			StoreBackend:     "file",
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: 3600,
		},
		Kafka: KafkaConfig{
			PushTopicName: "fix.forwarded",
		},
	}
}

// LoadConfig reads filename over the defaults. An empty filename returns
// the defaults.
func LoadConfig(filename string) (*Config, error) {
	config := Default()
	if filename == "" {
		return config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return config, nil
}

func (c *Config) PollInterval() time.Duration {
	if c.Worker.PollIntervalSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.Tracker.Token == "" {
		return fmt.Errorf("tracker token is required")
	}
	switch c.History.Mode {
	case "helper":
		if c.History.HelperURL == "" {
			return fmt.Errorf("history helper mode needs history.helper_url")
		}
	case "fake":
	default:
		return fmt.Errorf("unknown history mode %q", c.History.Mode)
	}
	switch c.History.StoreBackend {
	case "file":
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("redis session store needs redis.host")
		}
	default:
		return fmt.Errorf("unknown session store backend %q", c.History.StoreBackend)
	}
	return nil
}
