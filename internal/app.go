// Package internal provides the App struct that wires the recorder's
// components together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/valter-silva-au/flight-recorder/internal/cli"
	"github.com/valter-silva-au/flight-recorder/internal/core"
	"github.com/valter-silva-au/flight-recorder/internal/observability"
	"github.com/valter-silva-au/flight-recorder/internal/storage"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// App holds all service dependencies of the recorder tooling.
type App struct {
	BasePath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.GlobalConfig

	// Storage layer
	DumpStore storage.DumpStoreManager

	// Core services
	FinalizerCheck *core.FinalizerCheck

	// Observability
	EventLog    observability.EventLog
	Logger      *observability.Logger
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
}

// NewApp creates and wires all components. basePath is the root directory
// holding .recconfig, the lifecycle event log and, by default, the dumps.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Storage layer ---
	app.DumpStore = storage.NewDumpStore(resolvePath(basePath, cfg.Dump.Dir))

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(resolvePath(basePath, cfg.Recorder.EventLog))
	if err != nil {
		// Non-fatal: run without the lifecycle log.
		app.EventLog = nil
	}
	var logger core.EventLogger
	if app.EventLog != nil {
		app.Logger = observability.NewLogger(app.EventLog)
		logger = app.Logger
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, observability.AlertThresholds{
			RunningHours:  cfg.Alerts.RunningHours,
			UnclosedHours: cfg.Alerts.UnclosedHours,
		})
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}

	// --- Core services ---
	app.FinalizerCheck = core.NewFinalizerCheck(logger, app.DumpStore, cfg)

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.DumpStore = app.DumpStore
	cli.FinalizerCheck = app.FinalizerCheck
	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the base directory. It checks the REC_HOME env
// var, then walks up from the current directory looking for .recconfig, and
// falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("REC_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		for _, name := range []string{core.ConfigFileName, core.ConfigFileName + ".yaml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

// resolvePath joins p onto base unless p is already absolute.
func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
