package models

import "time"

// RecorderConfig holds the recorder section of .recconfig.
type RecorderConfig struct {
	InboxDrainInterval time.Duration `yaml:"inbox_drain_interval" mapstructure:"inbox_drain_interval"`
	EventLog           string        `yaml:"event_log" mapstructure:"event_log"`
}

// DumpConfig holds the dump section of .recconfig.
type DumpConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// AlertConfig holds the alert thresholds, in hours.
type AlertConfig struct {
	RunningHours  int `yaml:"running_hours" mapstructure:"running_hours"`
	UnclosedHours int `yaml:"unclosed_hours" mapstructure:"unclosed_hours"`
}

// GlobalConfig holds system-wide settings read from .recconfig via Viper.
type GlobalConfig struct {
	Recorder RecorderConfig  `yaml:"recorder" mapstructure:"recorder"`
	Dump     DumpConfig      `yaml:"dump" mapstructure:"dump"`
	Alerts   AlertConfig     `yaml:"alerts" mapstructure:"alerts"`
	Events   []EventSettings `yaml:"events,omitempty" mapstructure:"events"`
}
