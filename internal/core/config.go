// Package core contains the recorder's application services: configuration
// loading and validation, and the finalizer check that exercises the
// recorder end to end.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// ConfigFileName is the name of the configuration file, without extension,
// looked up in the base path.
const ConfigFileName = ".recconfig"

// ConfigurationManager defines the interface for loading and validating the
// .recconfig file.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	ValidateConfig(config *models.GlobalConfig) error
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading YAML configuration files.
type viperConfigManager struct {
	// basePath is the root directory where .recconfig resides.
	basePath string
}

// NewConfigurationManager creates a new ConfigurationManager that reads
// configuration files relative to basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// defaultGlobalConfig returns a GlobalConfig populated with sensible defaults.
func defaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Recorder: models.RecorderConfig{
			InboxDrainInterval: recorder.DefaultDrainInterval,
			EventLog:           ".rec_events.jsonl",
		},
		Dump: models.DumpConfig{
			Dir: "dumps",
		},
		Alerts: models.AlertConfig{
			RunningHours:  24,
			UnclosedHours: 1,
		},
	}
}

// LoadGlobalConfig reads the .recconfig file from the base path using Viper.
// If the file does not exist, sensible defaults are returned.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := defaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	v.SetDefault("recorder.inbox_drain_interval", cfg.Recorder.InboxDrainInterval)
	v.SetDefault("recorder.event_log", cfg.Recorder.EventLog)
	v.SetDefault("dump.dir", cfg.Dump.Dir)
	v.SetDefault("alerts.running_hours", cfg.Alerts.RunningHours)
	v.SetDefault("alerts.unclosed_hours", cfg.Alerts.UnclosedHours)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
	}

	cfg.Recorder.InboxDrainInterval = v.GetDuration("recorder.inbox_drain_interval")
	cfg.Recorder.EventLog = v.GetString("recorder.event_log")
	cfg.Dump.Dir = v.GetString("dump.dir")
	cfg.Alerts.RunningHours = v.GetInt("alerts.running_hours")
	cfg.Alerts.UnclosedHours = v.GetInt("alerts.unclosed_hours")

	if err := v.UnmarshalKey("events", &cfg.Events); err != nil {
		return nil, fmt.Errorf("parsing events in %s: %w", ConfigFileName, err)
	}

	return cfg, nil
}

// validPeriods is the set of allowed EventSettings.Period values.
var validPeriods = map[string]bool{
	models.PeriodNone:     true,
	models.PeriodEndChunk: true,
}

// ValidateConfig checks the configuration for invalid values and returns an
// error listing every problem found.
func (cm *viperConfigManager) ValidateConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.Recorder.InboxDrainInterval <= 0 {
		errs = append(errs, fmt.Sprintf(
			"recorder.inbox_drain_interval must be positive, got %s",
			cfg.Recorder.InboxDrainInterval,
		))
	} else if cfg.Recorder.InboxDrainInterval > time.Minute {
		errs = append(errs, fmt.Sprintf(
			"recorder.inbox_drain_interval %s is too long, must be at most 1m",
			cfg.Recorder.InboxDrainInterval,
		))
	}

	if cfg.Recorder.EventLog == "" {
		errs = append(errs, "recorder.event_log must not be empty")
	}

	if cfg.Dump.Dir == "" {
		errs = append(errs, "dump.dir must not be empty")
	}

	if cfg.Alerts.RunningHours <= 0 {
		errs = append(errs, fmt.Sprintf("alerts.running_hours must be positive, got %d", cfg.Alerts.RunningHours))
	}
	if cfg.Alerts.UnclosedHours <= 0 {
		errs = append(errs, fmt.Sprintf("alerts.unclosed_hours must be positive, got %d", cfg.Alerts.UnclosedHours))
	}

	seen := make(map[models.EventType]bool)
	for i, ev := range cfg.Events {
		if ev.Name == "" {
			errs = append(errs, fmt.Sprintf("events[%d].name must not be empty", i))
			continue
		}
		if seen[ev.Name] {
			errs = append(errs, fmt.Sprintf("events[%d]: duplicate event %q", i, ev.Name))
		}
		seen[ev.Name] = true
		if !validPeriods[ev.Period] {
			errs = append(errs, fmt.Sprintf(
				"events[%d].period %q is invalid, must be empty or %q",
				i, ev.Period, models.PeriodEndChunk,
			))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
