package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zen-systems/viewforge/cmd/viewforge/ui"
	"github.com/zen-systems/viewforge/pkg/archive"
	"github.com/zen-systems/viewforge/pkg/artifact"
	"github.com/zen-systems/viewforge/pkg/evidence"
	"github.com/zen-systems/viewforge/pkg/materialize"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

func generateCmd() *cobra.Command {
	var (
		outFlag         string
		zipFlag         string
		kitFlag         string
		nameFlag        string
		materializeFlag bool
	)

	cmd := &cobra.Command{
		Use:   "generate [image]",
		Short: "Generate every view for a character image",
		Long: `Runs the view steps in order against the image, one model call at a
	time, and stops at the first failure. Evidence for the run (source image,
	generated views and step records) is written under --out.

	With --zip, a completed run is bundled into a modeling kit. With
	--materialize, the completed views are passed through the model
	materialization stage before export.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kit, err := archive.ParseKit(kitFlag)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := newLogger(zap.NewAtomicLevelAt(zap.WarnLevel))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			stepsFile := firstNonEmpty(stepsFlag, cfg.StepsFile)
			registry, err := pipeline.LoadRegistry(stepsFile)
			if err != nil {
				return err
			}

			source, err := artifact.FromFile(args[0])
			if err != nil {
				return err
			}

			gen, err := createGenerator(cfg, adapterFlag, modelFlag, logger)
			if err != nil {
				return fmt.Errorf("failed to create adapter: %w", err)
			}

			runner, err := pipeline.NewRunner(gen, registry.Steps, pipeline.WithLogger(logger))
			if err != nil {
				return err
			}
			unsubscribe := runner.Store().Subscribe(newStatusPrinter())
			defer unsubscribe()

			ctx, cancel := signalContext()
			defer cancel()

			fmt.Fprintln(os.Stderr, ui.InfoMsg("Generating %d views with %s", len(registry.Steps), gen.Name()))
			outcome, runErr := runner.Run(ctx, source)
			if outcome == nil {
				return runErr
			}

			fmt.Println(ui.StepTable(outcome.Snapshot))

			outDir := firstNonEmpty(outFlag, cfg.OutputDir)
			writer, err := evidence.NewWriter(outDir, outcome.RunID)
			if err != nil {
				return fmt.Errorf("create evidence dir: %w", err)
			}
			if err := writer.WriteOutcome(source, gen.Name(), stepsFile, outcome); err != nil {
				return fmt.Errorf("write evidence: %w", err)
			}
			fmt.Fprint(os.Stderr, ui.KeyValues("  ",
				ui.KV("run", outcome.RunID),
				ui.KV("outcome", outcome.Summary()),
				ui.KV("duration", outcome.Duration.Round(time.Millisecond).String()),
				ui.KV("evidence", writer.RunDir()),
			))

			if runErr != nil {
				fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", runErr))
				return runErr
			}

			if materializeFlag {
				if err := runMaterialize(ctx, cfg.Materialize.Interval(), cfg.Materialize.Duration(), outcome.Snapshot, logger); err != nil {
					return err
				}
			}

			if zipFlag != "" {
				if err := writeBundle(zipFlag, source, outcome.Snapshot, kit, nameFlag); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&adapterFlag, "adapter", "", "image adapter (google, openai, mock)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "model or alias override")
	cmd.Flags().StringVar(&stepsFlag, "steps", "", "step manifest to use instead of the built-in views")
	cmd.Flags().StringVar(&outFlag, "out", "", "evidence output base directory")
	cmd.Flags().StringVar(&zipFlag, "zip", "", "write a modeling kit zip to this path (directory picks the kit's file name)")
	cmd.Flags().StringVar(&kitFlag, "kit", "images", "kit format: images, stl, obj or fbx")
	cmd.Flags().StringVar(&nameFlag, "name", "", "character name recorded in the kit readme")
	cmd.Flags().BoolVar(&materializeFlag, "materialize", false, "run the model materialization stage after a complete run")

	return cmd
}

// newStatusPrinter reports each step the first time it reaches a new status.
// Store listeners are serialized, so the map needs no lock.
func newStatusPrinter() pipeline.Listener {
	last := make(map[int]pipeline.Status)
	return func(snap pipeline.Snapshot) {
		for _, st := range snap.Steps {
			if last[st.Step.ID] == st.Status {
				continue
			}
			last[st.Step.ID] = st.Status
			switch st.Status {
			case pipeline.StatusGenerating:
				fmt.Fprintln(os.Stderr, ui.InfoMsg("Generating %s...", st.Step.Title))
			case pipeline.StatusCompleted:
				fmt.Fprintln(os.Stderr, ui.SuccessMsg("%s  %s", st.Step.Title, ui.Progress(snap)))
			case pipeline.StatusError:
				fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s: %s", st.Step.Title, st.Error))
			}
		}
	}
}

func runMaterialize(ctx context.Context, interval, duration time.Duration, snap pipeline.Snapshot, logger *zap.Logger) error {
	m := materialize.New(materialize.Config{Interval: interval, Duration: duration}, logger, nil)
	lastPhase := ""
	err := m.Run(ctx, snap, func(state materialize.State) {
		if state.Status == materialize.StatusProcessing && state.Phase != lastPhase {
			lastPhase = state.Phase
			fmt.Fprintln(os.Stderr, ui.Muted("  "+state.Phase))
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, ui.SuccessMsg("Model materialized"))
	rows := [][]string{}
	for _, view := range materialize.RotationViews(snap) {
		marker := ""
		if view.Step.Title == materialize.DefaultView {
			marker = ui.Accent("default")
		}
		rows = append(rows, []string{view.Step.Title, marker})
	}
	fmt.Println(ui.Table([]string{"ROTATION", ""}, rows))
	return nil
}

func writeBundle(path string, source *artifact.Artifact, snap pipeline.Snapshot, kit archive.Kit, name string) error {
	entries, err := archive.Entries(source, snap)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, kit.Filename())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	if err := archive.Bundle(f, entries, archive.Options{Kit: kit, CharacterName: name}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, ui.SuccessMsg("Kit written to %s", path))
	return nil
}
