package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zen-systems/viewforge/pkg/evidence"
	"github.com/zen-systems/viewforge/pkg/pipeline"
)

// Schema identifies the attestation format.
const Schema = "viewforge.attestation.v1"

// Attestation binds a run's claimed outcome to the hashes of its evidence files.
type Attestation struct {
	Schema    string            `json:"schema"`
	Subject   Subject           `json:"subject"`
	Claim     Claim             `json:"claim"`
	Evidence  Evidence          `json:"evidence"`
	Hashes    map[string]string `json:"hashes"`
	Signature *Signature        `json:"signature,omitempty"`
}

// Subject identifies the attested run.
type Subject struct {
	RunID      string `json:"run_id"`
	Adapter    string `json:"adapter"`
	StepsFile  string `json:"steps_file,omitempty"`
	SourceHash string `json:"source_hash"`
}

// Claim summarizes what the run produced.
type Claim struct {
	Completed  bool        `json:"completed"`
	Outcome    string      `json:"outcome"`
	FailedStep string      `json:"failed_step,omitempty"`
	Views      []ViewClaim `json:"views"`
}

// ViewClaim is the claimed final state of one step.
type ViewClaim struct {
	ID     int             `json:"id"`
	Title  string          `json:"title"`
	Status pipeline.Status `json:"status"`
	Image  string          `json:"image,omitempty"`
}

// Evidence references run files, relative to the run directory.
type Evidence struct {
	RunJSON string   `json:"run_json"`
	Steps   []string `json:"steps"`
	Images  []string `json:"images"`
}

// BuildAttestation builds an attestation for the run recorded in runDir.
func BuildAttestation(runDir string) (*Attestation, error) {
	if runDir == "" {
		return nil, fmt.Errorf("runDir is required")
	}

	var run evidence.RunRecord
	if err := readJSON(runDir, "run.json", &run); err != nil {
		return nil, err
	}

	stepFiles, steps, err := readSteps(runDir)
	if err != nil {
		return nil, err
	}
	images, err := listDir(runDir, "images")
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, 1+len(stepFiles)+len(images))
	for _, rel := range append(append([]string{"run.json"}, stepFiles...), images...) {
		sum, err := hashFile(runDir, rel)
		if err != nil {
			return nil, err
		}
		hashes[rel] = sum
	}

	return &Attestation{
		Schema: Schema,
		Subject: Subject{
			RunID:      run.ID,
			Adapter:    run.Adapter,
			StepsFile:  run.StepsFile,
			SourceHash: run.SourceHash,
		},
		Claim:    claimFor(run, steps),
		Evidence: Evidence{RunJSON: "run.json", Steps: stepFiles, Images: images},
		Hashes:   hashes,
	}, nil
}

func claimFor(run evidence.RunRecord, steps []evidence.StepRecord) Claim {
	claim := Claim{
		Completed:  len(steps) > 0 && run.Error == "" && run.FailedStep == "",
		Outcome:    run.Outcome,
		FailedStep: run.FailedStep,
		Views:      make([]ViewClaim, 0, len(steps)),
	}
	for _, st := range steps {
		if st.Status != pipeline.StatusCompleted {
			claim.Completed = false
		}
		claim.Views = append(claim.Views, ViewClaim{
			ID:     st.ID,
			Title:  st.Title,
			Status: st.Status,
			Image:  filepath.ToSlash(st.ImageFile),
		})
	}
	sort.Slice(claim.Views, func(i, j int) bool { return claim.Views[i].ID < claim.Views[j].ID })
	return claim
}

func readSteps(runDir string) ([]string, []evidence.StepRecord, error) {
	files, err := listDir(runDir, "steps")
	if err != nil {
		return nil, nil, err
	}
	records := make([]evidence.StepRecord, 0, len(files))
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".json") {
			continue
		}
		var record evidence.StepRecord
		if err := readJSON(runDir, rel, &record); err != nil {
			return nil, nil, err
		}
		records = append(records, record)
	}
	return files, records, nil
}

func listDir(runDir, sub string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(runDir, sub))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, sub+"/"+entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func readJSON(runDir, rel string, v any) error {
	path, err := safeJoin(runDir, rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}
	return nil
}

func hashFile(runDir, rel string) (string, error) {
	path, err := safeJoin(runDir, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func safeJoin(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed")
	}
	normalized := filepath.FromSlash(rel)
	for _, seg := range strings.Split(normalized, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("path traversal detected")
		}
	}
	clean := filepath.Clean(normalized)
	if clean == "." {
		return "", fmt.Errorf("invalid path")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	targetAbs, err := filepath.Abs(filepath.Join(rootAbs, clean))
	if err != nil {
		return "", err
	}
	if targetAbs != rootAbs && !strings.HasPrefix(targetAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes run dir")
	}
	return targetAbs, nil
}
