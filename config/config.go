package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// ProviderConfig holds credentials and overrides for one channel provider.
// DebugRecipient, when set, redirects every send to that address (staging).
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Sender         string `yaml:"sender"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	DebugRecipient string `yaml:"debug_recipient"`
}

func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// DispatchConfig bounds one queue-worker invocation.
type DispatchConfig struct {
	IntervalSeconds  int `yaml:"interval_seconds"`
	BatchSize        int `yaml:"batch_size"`
	WorkerCount      int `yaml:"worker_count"`
	BaseDelaySeconds int `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int `yaml:"max_delay_seconds"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
	BudgetSeconds    int `yaml:"budget_seconds"`
}

func (d DispatchConfig) Interval() time.Duration {
	if d.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.IntervalSeconds) * time.Second
}

func (d DispatchConfig) BaseDelay() time.Duration {
	if d.BaseDelaySeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(d.BaseDelaySeconds) * time.Second
}

func (d DispatchConfig) MaxDelay() time.Duration {
	if d.MaxDelaySeconds <= 0 {
		return time.Hour
	}
	return time.Duration(d.MaxDelaySeconds) * time.Second
}

// Cooldown is how long pending email entries are deferred while a
// reputation alert is active.
func (d DispatchConfig) Cooldown() time.Duration {
	if d.CooldownSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(d.CooldownSeconds) * time.Second
}

// Budget is the hard ceiling for one worker invocation. Claims still in
// flight when it expires are released back to pending.
func (d DispatchConfig) Budget() time.Duration {
	if d.BudgetSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(d.BudgetSeconds) * time.Second
}

// ReputationConfig carries the alert thresholds for the daily rollup.
type ReputationConfig struct {
	BounceRateAlert    float64 `yaml:"bounce_rate_alert"`
	ComplaintRateAlert float64 `yaml:"complaint_rate_alert"`
}

func (r ReputationConfig) BounceThreshold() float64 {
	if r.BounceRateAlert <= 0 {
		return 0.05
	}
	return r.BounceRateAlert
}

func (r ReputationConfig) ComplaintThreshold() float64 {
	if r.ComplaintRateAlert <= 0 {
		return 0.001
	}
	return r.ComplaintRateAlert
}

// LifecycleConfig controls the scheduled request-aging job.
type LifecycleConfig struct {
	StaleAfterDays int `yaml:"stale_after_days"`
	BatchSize      int `yaml:"batch_size"`
}

func (l LifecycleConfig) StaleAfter() time.Duration {
	days := l.StaleAfterDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

type Config struct {
	DB         DBConfig         `yaml:"db"`
	MQ         MQConfig         `yaml:"mq"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
	Email      ProviderConfig   `yaml:"email_provider"`
	SMS        ProviderConfig   `yaml:"sms_provider"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Reputation ReputationConfig `yaml:"reputation"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
}

func Load() *Config {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode %s: %v", path, err)
	}

	overrideFromEnv(&cfg)

	return &cfg
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if key := os.Getenv("EMAIL_PROVIDER_API_KEY"); key != "" {
		cfg.Email.APIKey = key
	}
	if url := os.Getenv("EMAIL_PROVIDER_URL"); url != "" {
		cfg.Email.BaseURL = url
	}
	if addr := os.Getenv("DEBUG_EMAIL"); addr != "" {
		cfg.Email.DebugRecipient = addr
	}

	if key := os.Getenv("SMS_PROVIDER_API_KEY"); key != "" {
		cfg.SMS.APIKey = key
	}
	if url := os.Getenv("SMS_PROVIDER_URL"); url != "" {
		cfg.SMS.BaseURL = url
	}
	if number := os.Getenv("DEBUG_PHONE"); number != "" {
		cfg.SMS.DebugRecipient = number
	}
}
