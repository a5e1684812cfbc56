package priority

// Band maps "within MaxDays" of a deadline to a priority.
type Band struct {
	MaxDays  float64 `yaml:"max_days"`
	Priority int     `yaml:"priority"`
}

// AgeThresholds 未回复邮件的升级阈值（工作日）
type AgeThresholds struct {
	Critical  float64 `yaml:"critical"`
	Important float64 `yaml:"important"`
	Moderate  float64 `yaml:"moderate"`
}

// Config holds the heuristic constants of the engine. Zero fields take defaults.
type Config struct {
	OverdueBands  []Band `yaml:"overdue_bands"`
	UpcomingBands []Band `yaml:"upcoming_bands"`

	DefaultAgeThresholds AgeThresholds `yaml:"default_age_thresholds"`
	// multipliers of the sender's average response time
	ResponseMultipliers AgeThresholds `yaml:"response_multipliers"`
	CalendarFloorRatio  float64       `yaml:"calendar_floor_ratio"`

	FollowUpStep     int `yaml:"follow_up_step"`
	EscalationStep   int `yaml:"escalation_step"`
	AnomalyStep      int `yaml:"anomaly_step"`
	ActiveThreadStep int `yaml:"active_thread_step"`

	VIPCeiling       int `yaml:"vip_ceiling"`
	StarredCeiling   int `yaml:"starred_ceiling"`
	CompanyCeiling   int `yaml:"company_ceiling"`
	ColleagueCeiling int `yaml:"colleague_ceiling"`
	AutomatedFloor   int `yaml:"automated_floor"`
	ResolvedFloor    int `yaml:"resolved_floor"`

	LowConfidence      float64 `yaml:"low_confidence"`
	LowConfidenceFloor int     `yaml:"low_confidence_floor"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		OverdueBands:         []Band{{7, 1}, {30, 2}, {90, 3}},
		UpcomingBands:        []Band{{2, 1}, {6, 2}, {14, 3}},
		DefaultAgeThresholds: AgeThresholds{Critical: 5, Important: 2, Moderate: 1},
		ResponseMultipliers:  AgeThresholds{Critical: 3, Important: 1, Moderate: 0.5},
		CalendarFloorRatio:   0.6,
		FollowUpStep:         1,
		EscalationStep:       2,
		AnomalyStep:          1,
		ActiveThreadStep:     1,
		VIPCeiling:           2,
		StarredCeiling:       2,
		CompanyCeiling:       3,
		ColleagueCeiling:     3,
		AutomatedFloor:       4,
		ResolvedFloor:        4,
		LowConfidence:        0.6,
		LowConfidenceFloor:   3,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if len(c.OverdueBands) == 0 {
		c.OverdueBands = d.OverdueBands
	}
	if len(c.UpcomingBands) == 0 {
		c.UpcomingBands = d.UpcomingBands
	}
	if c.DefaultAgeThresholds == (AgeThresholds{}) {
		c.DefaultAgeThresholds = d.DefaultAgeThresholds
	}
	if c.ResponseMultipliers == (AgeThresholds{}) {
		c.ResponseMultipliers = d.ResponseMultipliers
	}
	setFloat(&c.CalendarFloorRatio, d.CalendarFloorRatio)
	setInt(&c.FollowUpStep, d.FollowUpStep)
	setInt(&c.EscalationStep, d.EscalationStep)
	setInt(&c.AnomalyStep, d.AnomalyStep)
	setInt(&c.ActiveThreadStep, d.ActiveThreadStep)
	setInt(&c.VIPCeiling, d.VIPCeiling)
	setInt(&c.StarredCeiling, d.StarredCeiling)
	setInt(&c.CompanyCeiling, d.CompanyCeiling)
	setInt(&c.ColleagueCeiling, d.ColleagueCeiling)
	setInt(&c.AutomatedFloor, d.AutomatedFloor)
	setInt(&c.ResolvedFloor, d.ResolvedFloor)
	setFloat(&c.LowConfidence, d.LowConfidence)
	setInt(&c.LowConfidenceFloor, d.LowConfidenceFloor)
	return c
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
