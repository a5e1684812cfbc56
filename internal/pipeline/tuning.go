package pipeline

import (
	"math"
	"time"

	"mailtriage/internal/classify"
	"mailtriage/internal/model"
)

// TuningConfig 阈值自调节参数
type TuningConfig struct {
	Window      time.Duration
	MinSamples  int
	Trigger     float64 // 覆盖率超过此值才调节
	Floor       float64
	Sensitivity float64
}

func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		Window:      30 * 24 * time.Hour,
		MinSamples:  10,
		Trigger:     0.20,
		Floor:       0.40,
		Sensitivity: 1.0,
	}
}

// SelfTunedThreshold lowers a category's acceptance threshold in proportion to how
// often users corrected it. Below MinSamples or at a rate up to Trigger the base is
// returned unchanged; otherwise the result is strictly below base and never below Floor.
func SelfTunedThreshold(base float64, total, overrides int, cfg TuningConfig) float64 {
	if total <= 0 || total < cfg.MinSamples {
		return base
	}
	rate := float64(overrides) / float64(total)
	if rate <= cfg.Trigger || base <= cfg.Floor {
		return base
	}
	sensitivity := cfg.Sensitivity
	if sensitivity <= 0 {
		sensitivity = 1
	}
	return math.Max(cfg.Floor, base-(rate-cfg.Trigger)*sensitivity)
}

// TunedThresholds returns only the categories whose threshold moved.
func TunedThresholds(stats []model.CategoryStats, cfg TuningConfig) classify.Thresholds {
	base := classify.DefaultThresholds()
	out := classify.Thresholds{}
	for _, s := range stats {
		if !s.Category.Valid() {
			continue
		}
		b := base.For(s.Category)
		if t := SelfTunedThreshold(b, s.Total, s.Overrides, cfg); t != b {
			out[s.Category] = t
		}
	}
	return out
}
