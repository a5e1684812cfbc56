package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mailtriage/internal/model"
	"mailtriage/internal/priority"
	"mailtriage/pkg/config"
)

// TriageConfig 分流流水线参数
type TriageConfig struct {
	ClassifierVersion string `yaml:"classifier_version"`
	BatchLimit        int    `yaml:"batch_limit"`

	MaxBatchItems int `yaml:"max_batch_items"`
	MaxBatchChars int `yaml:"max_batch_chars"`
	PreviewBudget int `yaml:"preview_budget"`
	FullBudget    int `yaml:"full_budget"`
	MaxAttempts   int `yaml:"max_attempts"`
	BaseDelayMS   int `yaml:"base_delay_ms"`

	StaleAfterMinutes     int `yaml:"stale_after_minutes"`
	HotThreadMin          int `yaml:"hot_thread_min"`
	FeedbackLimit         int `yaml:"feedback_limit"`
	AutoActionWindowHours int `yaml:"auto_action_window_hours"`

	// 阈值自调节
	TuningWindowDays  int     `yaml:"tuning_window_days"`
	TuningMinSamples  int     `yaml:"tuning_min_samples"`
	TuningTrigger     float64 `yaml:"tuning_trigger"`
	TuningFloor       float64 `yaml:"tuning_floor"`
	TuningSensitivity float64 `yaml:"tuning_sensitivity"`

	CompanyDomains []string           `yaml:"company_domains"`
	AutoActions    []model.AutoAction `yaml:"auto_actions"`

	CronIntervalMinutes    int `yaml:"cron_interval_minutes"`
	SyncConcurrency        int `yaml:"sync_concurrency"`
	LeaseTTLSeconds        int `yaml:"lease_ttl_seconds"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	FailureTTLMinutes      int `yaml:"failure_ttl_minutes"`

	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`
	BreakerTimeoutSeconds   int `yaml:"breaker_timeout_seconds"`
}

// Config 服务配置
type Config struct {
	Env      string              `yaml:"-"`
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	JWT      config.JWTConfig    `yaml:"jwt"`
	Server   config.ServerConfig `yaml:"server"`
	LLM      config.LLMConfig    `yaml:"llm"`
	Mail     config.MailConfig   `yaml:"mail"`
	Triage   TriageConfig        `yaml:"triage"`
	Priority priority.Config     `yaml:"priority"`
}

// Load 读取 base.yaml + <env>.yaml，再用环境变量覆盖
func Load(env, dir string) (*Config, error) {
	if env == "" {
		env = config.GetConfigEnv()
	}
	if dir == "" {
		dir = config.GetEnv("CONFIG_DIR", "config")
	}

	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}
	cfg.Env = env

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLLMFromEnv(&cfg.LLM)
	config.OverrideMailFromEnv(&cfg.Mail)
	overrideTriageFromEnv(&cfg.Triage)

	// 未解析的 ${VAR} 视为未配置
	clearUnresolved(&cfg.DB.Password, &cfg.JWT.Secret, &cfg.LLM.APIKey, &cfg.LLM.FallbackAPIKey,
		&cfg.Mail.OAuthClientID, &cfg.Mail.OAuthClientSecret, &cfg.Mail.CredentialKey)

	cfg.applyDefaults()
	return &cfg, nil
}

func clearUnresolved(values ...*string) {
	for _, v := range values {
		if strings.HasPrefix(*v, "${") && strings.HasSuffix(*v, "}") {
			*v = ""
		}
	}
}

func overrideTriageFromEnv(cfg *TriageConfig) {
	if v := os.Getenv("TRIAGE_COMPANY_DOMAINS"); v != "" {
		cfg.CompanyDomains = nil
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.CompanyDomains = append(cfg.CompanyDomains, strings.ToLower(d))
			}
		}
	}
	if v := os.Getenv("TRIAGE_CRON_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CronIntervalMinutes = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}
	if c.DB.SlowQueryMS == 0 {
		c.DB.SlowQueryMS = 200
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Mail.WindowDays == 0 {
		c.Mail.WindowDays = 7
	}
	if c.Mail.MaxMessages == 0 {
		c.Mail.MaxMessages = 500
	}

	t := &c.Triage
	setString(&t.ClassifierVersion, "llm-v1")
	setInt(&t.BatchLimit, 200)
	setInt(&t.MaxBatchItems, 10)
	setInt(&t.MaxBatchChars, 24000)
	setInt(&t.PreviewBudget, 1500)
	setInt(&t.FullBudget, 8000)
	setInt(&t.MaxAttempts, 3)
	setInt(&t.BaseDelayMS, 1000)
	setInt(&t.StaleAfterMinutes, 30)
	setInt(&t.HotThreadMin, 3)
	setInt(&t.FeedbackLimit, 8)
	setInt(&t.AutoActionWindowHours, 24)
	setInt(&t.TuningWindowDays, 30)
	setInt(&t.TuningMinSamples, 10)
	setFloat(&t.TuningTrigger, 0.20)
	setFloat(&t.TuningFloor, 0.40)
	setFloat(&t.TuningSensitivity, 1.0)
	setInt(&t.CronIntervalMinutes, 15)
	setInt(&t.SyncConcurrency, 2)
	setInt(&t.LeaseTTLSeconds, 600)
	setInt(&t.MaxConsecutiveFailures, 5)
	setInt(&t.FailureTTLMinutes, 60)
	setInt(&t.BreakerFailureThreshold, 5)
	setInt(&t.BreakerTimeoutSeconds, 30)

	c.Priority = c.Priority.WithDefaults()
}

// StaleAfter 运行超时判定
func (t TriageConfig) StaleAfter() time.Duration {
	return time.Duration(t.StaleAfterMinutes) * time.Minute
}

func (t TriageConfig) BaseDelay() time.Duration {
	return time.Duration(t.BaseDelayMS) * time.Millisecond
}

func (t TriageConfig) CronInterval() time.Duration {
	return time.Duration(t.CronIntervalMinutes) * time.Minute
}

func (t TriageConfig) LeaseTTL() time.Duration {
	return time.Duration(t.LeaseTTLSeconds) * time.Second
}

func (t TriageConfig) FailureTTL() time.Duration {
	return time.Duration(t.FailureTTLMinutes) * time.Minute
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}
