package pipeline

import (
	"regexp"
	"strings"

	"github.com/zen-systems/viewforge/pkg/artifact"
)

// StepDefinition is one requested view. ID defines the canonical order.
type StepDefinition struct {
	ID     int    `yaml:"id" json:"id"`
	Title  string `yaml:"title" json:"title"`
	Prompt string `yaml:"prompt" json:"-"`
}

// OriginalTitle is reserved for the user's source image in exports and evidence.
const OriginalTitle = "Original View"

var nonSlug = regexp.MustCompile(`[^a-z0-9]`)

// Slug converts a title to a file stem: lowercase, every other character
// replaced by an underscore. Step images are stored under their slug, so
// slugs must be unique within a registry.
func Slug(title string) string {
	return nonSlug.ReplaceAllString(strings.ToLower(title), "_")
}

// Status is the lifecycle position of a step within a run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is allowed within the run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// StepState is the per-run state of a step. Result is set only when
// completed and Error only when errored.
type StepState struct {
	Step   StepDefinition     `json:"step"`
	Status Status             `json:"status"`
	Result *artifact.Artifact `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Snapshot is an ordered, point-in-time copy of every step's state.
type Snapshot struct {
	RunID      string      `json:"run_id,omitempty"`
	Generation uint64      `json:"generation"`
	Steps      []StepState `json:"steps"`
}

// AllCompleted reports whether every step finished successfully.
func (s Snapshot) AllCompleted() bool {
	if len(s.Steps) == 0 {
		return false
	}
	for _, st := range s.Steps {
		if st.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Count returns how many steps are in the given status.
func (s Snapshot) Count(status Status) int {
	n := 0
	for _, st := range s.Steps {
		if st.Status == status {
			n++
		}
	}
	return n
}

// Step returns the state for a step ID.
func (s Snapshot) Step(id int) (StepState, bool) {
	for _, st := range s.Steps {
		if st.Step.ID == id {
			return st, true
		}
	}
	return StepState{}, false
}
