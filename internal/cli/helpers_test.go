package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/flight-recorder/internal/recorder"
	"github.com/valter-silva-au/flight-recorder/internal/storage"
	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

// newTestDump records two chunks and dumps them. The first chunk holds two
// Finalizer events, the second one Finalizer event for an unloaded class and
// one "Marker" event.
func newTestDump(t *testing.T) (storage.DumpStoreManager, *storage.Dump) {
	t.Helper()

	b := recorder.NewBroker()
	r := b.NewRecording("cli-test")
	sibling := b.NewRecording("sibling")
	for _, et := range []models.EventType{models.EventFinalizer, "Marker"} {
		if err := r.Enable(et); err != nil {
			t.Fatalf("enable %s: %v", et, err)
		}
	}
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	emitClass := func(name string, unloaded bool) {
		b.Emit(models.EventFinalizer, map[string]models.Value{
			models.FieldOverridingClass: models.ClassValue(models.ClassDescriptor{Name: name, LoaderID: 1, Unloaded: unloaded}),
		})
	}
	emitClass("test.A", false)
	emitClass("test.B", false)

	// Starting a sibling rotates r.
	if err := sibling.Start(); err != nil {
		t.Fatalf("start sibling: %v", err)
	}
	emitClass("test.C", true)
	b.Emit("Marker", map[string]models.Value{"n": models.IntValue(1)})

	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = sibling.Close()
	})

	store := storage.NewDumpStore(t.TempDir())
	d, err := store.Dump(r)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	return store, d
}

// withDumpStore installs store as the package dump store for the test.
func withDumpStore(t *testing.T, store storage.DumpStoreManager) {
	t.Helper()
	orig := DumpStore
	DumpStore = store
	t.Cleanup(func() { DumpStore = orig })
}

// captureOutput redirects cmd's output into a buffer for the test.
func captureOutput(t *testing.T, cmd *cobra.Command) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	t.Cleanup(func() { cmd.SetOut(nil) })
	return &buf
}
