package pipeline

import (
	"errors"
	"fmt"

	"github.com/zen-systems/viewforge/pkg/artifact"
)

var (
	// ErrNoSourceImage rejects a run before any step is touched.
	ErrNoSourceImage = errors.New("please upload an image first")
	// ErrUnsupportedImage is returned for source payloads that are not a known image type.
	ErrUnsupportedImage = artifact.ErrUnsupportedImage
	// ErrStaleRun marks a transition tagged with a generation that is no longer current.
	ErrStaleRun = errors.New("stale run generation")
	// ErrRunSuperseded is returned by a run that was replaced by a newer run or a reset.
	ErrRunSuperseded = errors.New("run superseded")
	// ErrInvalidTransition is returned for moves the step state machine forbids.
	ErrInvalidTransition = errors.New("invalid step transition")
	// ErrUnknownStep is returned for step IDs not in the registry.
	ErrUnknownStep = errors.New("unknown step")
)

// StepError is the run-level summary of a halted run.
type StepError struct {
	Step StepDefinition
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("failed at step: %s. %v", e.Step.Title, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
