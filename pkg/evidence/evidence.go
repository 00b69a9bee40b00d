package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/zen-systems/viewforge/pkg/archive"
	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/pipeline"
)

// RunRecord captures run-level metadata.
type RunRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Adapter        string            `json:"adapter"`
	StepsFile      string            `json:"steps_file,omitempty"`
	SourceHash     string            `json:"source_hash"`
	SourceMIME     string            `json:"source_mime"`
	Outcome        string            `json:"outcome"`
	FailedStep     string            `json:"failed_step,omitempty"`
	Error          string            `json:"error,omitempty"`
	DurationMillis int64             `json:"duration_ms"`
	ToolVersions   map[string]string `json:"tool_versions,omitempty"`
}

// StepRecord captures evidence for a single step.
type StepRecord struct {
	ID         int             `json:"id"`
	Title      string          `json:"title"`
	Status     pipeline.Status `json:"status"`
	PromptHash string          `json:"prompt_hash"`
	Adapter    string          `json:"adapter,omitempty"`
	Model      string          `json:"model,omitempty"`
	ImageFile  string          `json:"image_file,omitempty"`
	ImageHash  string          `json:"image_hash,omitempty"`
	MIMEType   string          `json:"mime_type,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Writer writes evidence bundles to disk.
type Writer struct {
	baseDir string
	runDir  string
}

// NewWriter creates a new evidence writer rooted at baseDir/runID.
func NewWriter(baseDir, runID string) (*Writer, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	runDir := filepath.Join(baseDir, runID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "steps"), filepath.Join(runDir, "images")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return &Writer{baseDir: baseDir, runDir: runDir}, nil
}

// RunDir returns the run directory path.
func (w *Writer) RunDir() string {
	return w.runDir
}

// WriteRun writes run metadata to run.json.
func (w *Writer) WriteRun(record RunRecord) error {
	return writeJSON(filepath.Join(w.runDir, "run.json"), record)
}

// WriteStep writes a step record to steps/<id>.json.
func (w *Writer) WriteStep(record StepRecord) error {
	path := filepath.Join(w.runDir, "steps", fmt.Sprintf("%02d.json", record.ID))
	return writeJSON(path, record)
}

// WriteImage writes an image to images/<name> and returns its path relative to the run directory.
func (w *Writer) WriteImage(name string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("image name is required")
	}
	rel := filepath.Join("images", name)
	if err := os.WriteFile(filepath.Join(w.runDir, rel), data, 0644); err != nil {
		return "", err
	}
	return rel, nil
}

// WriteOutcome records a finished run: the source image, every step and the run summary.
func (w *Writer) WriteOutcome(source *artifact.Artifact, adapterName, stepsFile string, outcome *pipeline.Outcome) error {
	if outcome == nil {
		return fmt.Errorf("outcome is required")
	}

	if source != nil {
		name := archive.Slug(archive.OriginalTitle) + source.Extension()
		if _, err := w.WriteImage(name, source.Data); err != nil {
			return err
		}
	}

	for _, st := range outcome.Snapshot.Steps {
		record := StepRecord{
			ID:         st.Step.ID,
			Title:      st.Step.Title,
			Status:     st.Status,
			PromptHash: hashString(st.Step.Prompt),
			Error:      st.Error,
		}
		if st.Result != nil {
			rel, err := w.WriteImage(archive.Slug(st.Step.Title)+st.Result.Extension(), st.Result.Data)
			if err != nil {
				return err
			}
			record.ImageFile = rel
			record.ImageHash = st.Result.Hash
			record.MIMEType = st.Result.MIMEType
			record.Adapter = st.Result.Adapter
			record.Model = st.Result.Model
		}
		if err := w.WriteStep(record); err != nil {
			return err
		}
	}

	run := RunRecord{
		ID:             outcome.RunID,
		Timestamp:      time.Now().UTC(),
		Adapter:        adapterName,
		StepsFile:      stepsFile,
		Outcome:        outcome.Summary(),
		DurationMillis: outcome.Duration.Milliseconds(),
		ToolVersions:   map[string]string{"go": runtime.Version()},
	}
	if source != nil {
		run.SourceHash = source.Hash
		run.SourceMIME = source.MIMEType
	}
	if outcome.FailedStep != nil {
		run.FailedStep = outcome.FailedStep.Title
	}
	if outcome.Err != nil {
		run.Error = outcome.Err.Error()
	}
	return w.WriteRun(run)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func hashString(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}
