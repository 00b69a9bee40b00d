package main

import (
	"archive/zip"
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/zen-systems/viewforge/pkg/adapter"
	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/config"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

func TestCreateGeneratorMock(t *testing.T) {
	cfg := config.Default()
	gen, err := createGenerator(cfg, "MOCK", "", zap.NewNop())
	if err != nil {
		t.Fatalf("create mock: %v", err)
	}
	if gen.Name() != "mock" {
		t.Fatalf("expected mock adapter, got %s", gen.Name())
	}
	if _, ok := gen.(*adapter.RateLimited); !ok {
		t.Fatalf("expected generator to be rate limited")
	}
}

func TestCreateGeneratorRequiresKeys(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{"google", "openai"} {
		if _, err := createGenerator(cfg, name, "", zap.NewNop()); err == nil {
			t.Fatalf("expected %s to require an API key", name)
		}
	}
	if _, err := createGenerator(cfg, "midjourney", "", zap.NewNop()); err == nil {
		t.Fatalf("expected unknown adapter error")
	}
}

func TestTaskLine(t *testing.T) {
	prompt := pipeline.DefaultSteps()[1].Prompt
	got := taskLine(prompt)
	if got == "" || len([]rune(got)) > 70 {
		t.Fatalf("unexpected task line %q", got)
	}
	if taskLine("no task here") != "no task here" {
		t.Fatalf("expected prompt fallback")
	}
}

func TestWriteBundleIntoDirectory(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	source, err := artifact.FromBytes(buf.Bytes(), "")
	if err != nil {
		t.Fatalf("source: %v", err)
	}

	snap := pipeline.Snapshot{RunID: "run"}
	for _, def := range pipeline.DefaultSteps() {
		snap.Steps = append(snap.Steps, pipeline.StepState{
			Step:   def,
			Status: pipeline.StatusCompleted,
			Result: artifact.New(buf.Bytes(), "image/png", "mock", "mock-1", def.Prompt),
		})
	}

	dir := t.TempDir()
	if err := writeBundle(dir, source, snap, "obj", "Hero"); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	path := filepath.Join(dir, "modeling_kit_obj.zip")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("missing bundle: %v", err)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 8 || zr.File[1].Name != "original_view.obj" {
		t.Fatalf("unexpected bundle contents: %d files", len(zr.File))
	}
}
