package recorder

import (
	"errors"
	"fmt"

	"github.com/valter-silva-au/flight-recorder/pkg/models"
)

var (
	// ErrInvalidState is wrapped by every lifecycle misuse, e.g. starting a
	// recording twice or enabling an event on a stopped recording.
	ErrInvalidState = errors.New("invalid recording state")

	// ErrEmptyResult is returned when a recording is read back and holds no events.
	ErrEmptyResult = errors.New("no events recorded")
)

// StateError reports an operation attempted on a recording in the wrong state.
type StateError struct {
	Recording string
	Op        string
	State     models.RecordingState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s recording %q: not allowed in state %s", e.Op, e.Recording, e.State)
}

// Unwrap makes errors.Is(err, ErrInvalidState) hold for every StateError.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
