// Package config loads chamber configuration from YAML and validates the
// per-session settings entered by the operator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blaisdelllab/operant/internal/planner"
	"github.com/blaisdelllab/operant/internal/session"
)

// Config holds chamber-level configuration.
type Config struct {
	Chamber  string        `yaml:"chamber"`
	Subjects []string      `yaml:"subjects"`
	Paths    PathsConfig   `yaml:"paths"`
	Device   DeviceConfig  `yaml:"device"`
	Timing   TimingConfig  `yaml:"timing"`
	Hopper   HopperConfig  `yaml:"hopper"`
	Trials   TrialsConfig  `yaml:"trials"`
	Design   DesignConfig  `yaml:"design"`
	Display  DisplayConfig `yaml:"display"`
	Logging  LoggingConfig `yaml:"logging"`
}

// PathsConfig locates the database, stimulus folder and data sheets.
type PathsConfig struct {
	Database   string `yaml:"database"`
	StimuliDir string `yaml:"stimuli_dir"`
	DataDir    string `yaml:"data_dir"`
	LedgerDir  string `yaml:"ledger_dir"` // CSV ledger; empty uses the database
}

// DeviceConfig selects the hopper implementation.
type DeviceConfig struct {
	Mode            string `yaml:"mode"` // sim, grpc, mdns
	Addr            string `yaml:"addr"`
	DiscoverTimeout string `yaml:"discover_timeout"`
}

// TimingConfig holds session durations as Go duration strings.
type TimingConfig struct {
	FirstITI        string `yaml:"first_iti"`
	ITI             string `yaml:"iti"`
	TestITI         string `yaml:"test_iti"` // ITI used for the TEST subject
	PostSampleDelay string `yaml:"post_sample_delay"`
	AutoReinforce   string `yaml:"auto_reinforce"`
	SessionLimit    string `yaml:"session_limit"`
}

// HopperConfig sets food access duration, optionally per subject.
type HopperConfig struct {
	Default  string            `yaml:"default"`
	Subjects map[string]string `yaml:"subjects"`
}

// TrialsConfig holds per-session trial limits and ratio bounds.
type TrialsConfig struct {
	Autoshaping int `yaml:"autoshaping"` // phase 0 session length
	Default     int `yaml:"default"`
	Probes      int `yaml:"probes"`
	RatioMin    int `yaml:"ratio_min"`
	RatioMax    int `yaml:"ratio_max"`
}

// DesignConfig holds stimulus-set specific trial structure.
type DesignConfig struct {
	// FoilGroups restricts training foils by sample pair, e.g. FF/FN/NF/NN.
	FoilGroups []planner.FoilGroup `yaml:"foil_groups,omitempty"`
	// FamiliarPairs marks comparisons in this pair range familiar (F).
	FamiliarPairs planner.PairRange `yaml:"familiar_pairs,omitempty"`
	Association   AssociationConfig `yaml:"association"`
}

// AssociationConfig shapes association sessions.
type AssociationConfig struct {
	TrainingBlocks int `yaml:"training_blocks"`
	TestBlocks     int `yaml:"test_blocks"`
	InterleaveMin  int `yaml:"interleave_min"`
	InterleaveMax  int `yaml:"interleave_max"`
}

// DisplayConfig controls the operator-facing text overlays.
type DisplayConfig struct {
	ShowText bool `yaml:"show_text"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json, or empty for auto
}

// TestSubject is the bench-test subject with short timings.
const TestSubject = "TEST"

// DefaultConfig returns the default chamber configuration.
func DefaultConfig() *Config {
	return &Config{
		Chamber:  "box1",
		Subjects: []string{TestSubject},
		Paths: PathsConfig{
			Database:   "data/operant.db",
			StimuliDir: "stimuli",
			DataDir:    "data",
		},
		Device: DeviceConfig{
			Mode:            "sim",
			DiscoverTimeout: "3s",
		},
		Timing: TimingConfig{
			FirstITI:      "30s",
			ITI:           "15s",
			TestITI:       "1s",
			AutoReinforce: "10s",
			SessionLimit:  "90m",
		},
		Hopper: HopperConfig{
			Default:  "6s",
			Subjects: map[string]string{TestSubject: "2s"},
		},
		Trials: TrialsConfig{
			Autoshaping: 90,
			Default:     96,
			Probes:      4,
			RatioMin:    3,
			RatioMax:    8,
		},
		Design: DesignConfig{
			Association: AssociationConfig{
				TrainingBlocks: 6,
				TestBlocks:     4,
				InterleaveMin:  1,
				InterleaveMax:  2,
			},
		},
		Display: DisplayConfig{ShowText: true},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPERANT_DB"); v != "" {
		c.Paths.Database = v
	}
	if v := os.Getenv("OPERANT_STIMULI_DIR"); v != "" {
		c.Paths.StimuliDir = v
	}
	if v := os.Getenv("OPERANT_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("OPERANT_DEVICE_ADDR"); v != "" {
		c.Device.Addr = v
		if c.Device.Mode == "" || c.Device.Mode == "sim" {
			c.Device.Mode = "grpc"
		}
	}
}

// Validate checks durations and bounds.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"timing.first_iti":         c.Timing.FirstITI,
		"timing.iti":               c.Timing.ITI,
		"timing.test_iti":          c.Timing.TestITI,
		"timing.post_sample_delay": c.Timing.PostSampleDelay,
		"timing.auto_reinforce":    c.Timing.AutoReinforce,
		"timing.session_limit":     c.Timing.SessionLimit,
		"hopper.default":           c.Hopper.Default,
		"device.discover_timeout":  c.Device.DiscoverTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	for subject, v := range c.Hopper.Subjects {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid hopper duration for %s %q: %w", subject, v, err)
		}
	}
	if c.Trials.RatioMin < 1 || c.Trials.RatioMax < c.Trials.RatioMin {
		return fmt.Errorf("invalid ratio bounds %d..%d", c.Trials.RatioMin, c.Trials.RatioMax)
	}
	for _, g := range c.Design.FoilGroups {
		if g.Name == "" {
			return fmt.Errorf("design.foil_groups: group without a name")
		}
		if err := g.Samples.Validate(); err != nil {
			return fmt.Errorf("design.foil_groups %s samples: %w", g.Name, err)
		}
		if err := g.Foils.Validate(); err != nil {
			return fmt.Errorf("design.foil_groups %s foils: %w", g.Name, err)
		}
	}
	if fp := c.Design.FamiliarPairs; fp != (planner.PairRange{}) {
		if err := fp.Validate(); err != nil {
			return fmt.Errorf("design.familiar_pairs: %w", err)
		}
	}
	if a := c.Design.Association; a.TrainingBlocks < 0 || a.TestBlocks < 0 || a.InterleaveMin < 0 || a.InterleaveMax < a.InterleaveMin {
		return fmt.Errorf("invalid design.association %+v", a)
	}
	switch c.Device.Mode {
	case "", "sim", "grpc", "mdns":
	default:
		return fmt.Errorf("unknown device mode %q (valid: sim, grpc, mdns)", c.Device.Mode)
	}
	if c.Device.Mode == "grpc" && c.Device.Addr == "" {
		return fmt.Errorf("device mode grpc needs device.addr (or OPERANT_DEVICE_ADDR)")
	}
	return nil
}

// HopperDuration returns food access time for subject.
func (c *Config) HopperDuration(subject string) time.Duration {
	if v, ok := c.Hopper.Subjects[subject]; ok {
		return parseDuration(v, 0)
	}
	return parseDuration(c.Hopper.Default, 6*time.Second)
}

// SessionTiming builds the state machine timing for subject.
func (c *Config) SessionTiming(subject string) session.Timing {
	def := session.DefaultTiming()
	t := session.Timing{
		FirstITI:        parseDuration(c.Timing.FirstITI, def.FirstITI),
		ITI:             parseDuration(c.Timing.ITI, def.ITI),
		PostSampleDelay: parseDuration(c.Timing.PostSampleDelay, def.PostSampleDelay),
		Hopper:          c.HopperDuration(subject),
		AutoReinforce:   parseDuration(c.Timing.AutoReinforce, def.AutoReinforce),
		SessionLimit:    parseDuration(c.Timing.SessionLimit, def.SessionLimit),
	}
	if subject == TestSubject && c.Timing.TestITI != "" {
		t.ITI = parseDuration(c.Timing.TestITI, t.ITI)
	}
	return t
}

// TrialLimit returns the planned session length for a training phase.
func (c *Config) TrialLimit(phase int) int {
	if phase == 0 {
		return c.Trials.Autoshaping
	}
	return c.Trials.Default
}

// KnownSubject reports whether subject is configured.
func (c *Config) KnownSubject(subject string) bool {
	for _, s := range c.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
