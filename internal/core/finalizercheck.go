package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valter-silva-au/flight-recorder/internal/classes"
	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/internal/storage"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// Classes loaded by the check. The first stays loaded for the whole run; the
// second is defined by a loader that is released and collected.
const (
	ClassOverridingFinalize           = "check.OverridingFinalize"
	ClassUnloadableOverridingFinalize = "check.UnloadableOverridingFinalize"
)

// ErrCheckFailed is returned when a recording is missing a Finalizer event
// for one of the check's classes.
var ErrCheckFailed = errors.New("finalizer check failed")

// FinalizerCheck runs two overlapping recordings against a fresh broker and
// class runtime and verifies that both see a Finalizer event for a class
// that stays loaded and for one that is unloaded while they run.
type FinalizerCheck struct {
	logger        EventLogger
	dumps         storage.DumpStoreManager
	settings      []models.EventSettings
	drainInterval time.Duration
}

// NewFinalizerCheck creates a check. dumps may be nil when the check is never
// run with dumping enabled. settings are registered on the check's broker in
// addition to the defaults.
func NewFinalizerCheck(logger EventLogger, dumps storage.DumpStoreManager, cfg *models.GlobalConfig) *FinalizerCheck {
	if logger == nil {
		logger = nopLogger{}
	}
	c := &FinalizerCheck{
		logger:        logger,
		dumps:         dumps,
		drainInterval: recorder.DefaultDrainInterval,
	}
	if cfg != nil {
		c.settings = cfg.Events
		if cfg.Recorder.InboxDrainInterval > 0 {
			c.drainInterval = cfg.Recorder.InboxDrainInterval
		}
	}
	return c
}

// Run executes the check. With dump set, both recordings are written to the
// dump store once stopped. The report is returned even when the check fails.
func (c *FinalizerCheck) Run(ctx context.Context, dump bool) (*models.FinalizerReport, error) {
	if dump && c.dumps == nil {
		return nil, fmt.Errorf("running finalizer check: dumping requested but no dump store configured")
	}

	report := &models.FinalizerReport{StartedAt: time.Now().UTC()}
	err := c.run(ctx, dump, report)
	report.FinishedAt = time.Now().UTC()
	report.Passed = err == nil

	data := map[string]any{
		"passed":     report.Passed,
		"recordings": len(report.Recordings),
		"unloaded":   report.Unloaded,
		"duration":   report.FinishedAt.Sub(report.StartedAt).String(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	_ = c.logger.LogEvent("check.finished", data)

	if err != nil {
		return report, err
	}
	return report, nil
}

func (c *FinalizerCheck) run(ctx context.Context, dump bool, report *models.FinalizerReport) error {
	broker := recorder.NewBroker(
		recorder.WithLogger(c.logger),
		recorder.WithEventSettings(c.settings...),
		recorder.WithDrainInterval(c.drainInterval),
	)
	rt := classes.NewRuntime(broker, classes.WithLogger(c.logger))

	drainCtx, stopDrain := context.WithCancel(ctx)
	var eg errgroup.Group
	eg.Go(func() error {
		if err := broker.Run(drainCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	r1 := broker.NewRecording("finalizer-check-1")
	r2 := broker.NewRecording("finalizer-check-2")
	defer func() {
		_ = r1.Close()
		_ = r2.Close()
	}()

	unloaded, err := c.scenario(ctx, rt, r1, r2)
	stopDrain()
	if waitErr := eg.Wait(); err == nil {
		err = waitErr
	}
	if err != nil {
		return err
	}
	report.Unloaded = unloaded

	want := []string{ClassOverridingFinalize, ClassUnloadableOverridingFinalize}
	var failed []string
	for _, r := range []*recorder.Recording{r1, r2} {
		rc, err := inspect(r, want)
		report.Recordings = append(report.Recordings, rc)
		if err != nil {
			return err
		}
		if len(rc.Missing) > 0 {
			failed = append(failed, fmt.Sprintf("%s missing %s", rc.Name, strings.Join(rc.Missing, ", ")))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrCheckFailed, strings.Join(failed, "; "))
	}

	if !dump {
		return nil
	}
	for i, r := range []*recorder.Recording{r1, r2} {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := c.dumps.Dump(r)
		if err != nil {
			return fmt.Errorf("dumping %s: %w", r.Name(), err)
		}
		report.Recordings[i].DumpDir = d.Dir
		_ = c.logger.LogEvent("recording.dumped", map[string]any{
			"recording_id": r.ID(),
			"name":         r.Name(),
			"dump_id":      d.Index.DumpID,
			"dir":          d.Dir,
			"chunks":       len(d.Index.Chunks),
		})
	}
	return nil
}

// scenario drives the two recordings and the class runtime: r1 starts and
// sees a finalizer class load, r2 starts and rotates r1, a second finalizer
// class is unloaded by a forced collection while both run, then r2 and r1
// stop in that order.
func (c *FinalizerCheck) scenario(ctx context.Context, rt *classes.Runtime, r1, r2 *recorder.Recording) (int, error) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"enable r1", func() error { return r1.Enable(models.EventFinalizer) }},
		{"start r1", r1.Start},
		{"load " + ClassOverridingFinalize, func() error {
			_, err := rt.NewLoader("app").Load(ClassOverridingFinalize, true)
			return err
		}},
		{"enable r2", func() error { return r2.Enable(models.EventFinalizer) }},
		{"start r2", r2.Start},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.fn(); err != nil {
			return 0, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	loader := rt.NewLoader("unloadable")
	if _, err := loader.Load(ClassUnloadableOverridingFinalize, true); err != nil {
		return 0, fmt.Errorf("load %s: %w", ClassUnloadableOverridingFinalize, err)
	}
	rt.Release(loader)
	unloaded := rt.Collect()

	if err := r2.Stop(); err != nil {
		return 0, fmt.Errorf("stop r2: %w", err)
	}
	if err := r1.Stop(); err != nil {
		return 0, fmt.Errorf("stop r1: %w", err)
	}
	return unloaded, nil
}

// inspect reads r back and reports which of the wanted classes appear as the
// overriding class of a Finalizer event. A recording that holds no events
// fails the check outright.
func inspect(r *recorder.Recording, want []string) (models.RecordingCheck, error) {
	rc := models.RecordingCheck{ID: r.ID(), Name: r.Name(), Chunks: r.ChunkCount()}

	records, err := recorder.FromRecording(r)
	if errors.Is(err, recorder.ErrEmptyResult) {
		rc.Missing = append(rc.Missing, want...)
		return rc, fmt.Errorf("%w: %s: %w", ErrCheckFailed, r.Name(), err)
	}
	if err != nil {
		return rc, fmt.Errorf("reading %s: %w", r.Name(), err)
	}
	rc.Records = len(records)

	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.Type != models.EventFinalizer {
			continue
		}
		cd, err := rec.Class(models.FieldOverridingClass)
		if err != nil {
			return rc, fmt.Errorf("reading %s: record #%d: %w", r.Name(), rec.Seq, err)
		}
		seen[cd.GetName()] = true
	}

	for _, name := range want {
		if seen[name] {
			rc.Found = append(rc.Found, name)
		} else {
			rc.Missing = append(rc.Missing, name)
		}
	}
	sort.Strings(rc.Found)
	return rc, nil
}
