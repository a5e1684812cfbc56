package pipeline

import (
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/config"
	"mailtriage/internal/model"
)

// Config 编排器参数
type Config struct {
	Version          string
	BatchLimit       int
	StaleAfter       time.Duration
	HotThreadMin     int
	FeedbackLimit    int
	AutoActionWindow time.Duration
	Tuning           TuningConfig
	CompanyDomains   []string
	AutoActions      []model.AutoAction

	SyncConcurrency        int
	MaxConsecutiveFailures int
}

func DefaultConfig() Config {
	return Config{
		Version:                classify.DefaultVersion,
		BatchLimit:             200,
		StaleAfter:             30 * time.Minute,
		HotThreadMin:           3,
		FeedbackLimit:          8,
		AutoActionWindow:       24 * time.Hour,
		Tuning:                 DefaultTuningConfig(),
		SyncConcurrency:        2,
		MaxConsecutiveFailures: 5,
	}
}

// ConfigFrom maps the loaded triage section onto orchestrator settings.
func ConfigFrom(t config.TriageConfig) Config {
	return Config{
		Version:          t.ClassifierVersion,
		BatchLimit:       t.BatchLimit,
		StaleAfter:       t.StaleAfter(),
		HotThreadMin:     t.HotThreadMin,
		FeedbackLimit:    t.FeedbackLimit,
		AutoActionWindow: time.Duration(t.AutoActionWindowHours) * time.Hour,
		Tuning: TuningConfig{
			Window:      time.Duration(t.TuningWindowDays) * 24 * time.Hour,
			MinSamples:  t.TuningMinSamples,
			Trigger:     t.TuningTrigger,
			Floor:       t.TuningFloor,
			Sensitivity: t.TuningSensitivity,
		},
		CompanyDomains:         t.CompanyDomains,
		AutoActions:            t.AutoActions,
		SyncConcurrency:        t.SyncConcurrency,
		MaxConsecutiveFailures: t.MaxConsecutiveFailures,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = d.BatchLimit
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.HotThreadMin <= 0 {
		c.HotThreadMin = d.HotThreadMin
	}
	if c.FeedbackLimit < 0 {
		c.FeedbackLimit = 0
	}
	if c.AutoActionWindow <= 0 {
		c.AutoActionWindow = d.AutoActionWindow
	}
	if c.Tuning.Window <= 0 {
		c.Tuning.Window = d.Tuning.Window
	}
	if c.SyncConcurrency <= 0 {
		c.SyncConcurrency = d.SyncConcurrency
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	return c
}
