package cli

import (
	"context"

	"github.com/valter-silva-au/flight-recorder/internal/observability"
	"github.com/valter-silva-au/flight-recorder/internal/storage"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// FinalizerChecker runs the finalizer check. Implemented by *core.FinalizerCheck.
type FinalizerChecker interface {
	Run(ctx context.Context, dump bool) (*models.FinalizerReport, error)
}

// BasePath is the resolved base directory, set during app initialization.
var BasePath string

// Service instances, set during app initialization in app.go.
var (
	DumpStore      storage.DumpStoreManager
	FinalizerCheck FinalizerChecker
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)
