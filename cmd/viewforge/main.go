package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zen-systems/viewforge/cmd/viewforge/ui"
	"github.com/zen-systems/viewforge/pkg/adapter"
	"github.com/zen-systems/viewforge/pkg/attest"
	"github.com/zen-systems/viewforge/pkg/config"
	"github.com/zen-systems/viewforge/pkg/pipeline"
	"go.uber.org/zap"
)

var (
	configFile  string
	verbose     bool
	adapterFlag string
	modelFlag   string
	stepsFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "viewforge",
		Short: "Generate orthographic character turnarounds from a single image",
		Long: `Viewforge takes one character image and asks an image model for a fixed
	sequence of views (opposite profile, front, back, 3/4, top-down, bottom-up),
	one at a time, stopping at the first failure. Completed sheets can be
	materialized and exported as a modeling kit.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.viewforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(stepsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(attestCmd())
	rootCmd.AddCommand(verifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func stepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List the view steps that a run executes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			registry, err := pipeline.LoadRegistry(firstNonEmpty(stepsFlag, cfg.StepsFile))
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(registry.Steps))
			for _, step := range registry.Steps {
				rows = append(rows, []string{fmt.Sprint(step.ID), step.Title, taskLine(step.Prompt)})
			}
			fmt.Println(ui.Table([]string{"#", "VIEW", "TASK"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&stepsFlag, "steps", "", "step manifest to use instead of the built-in views")
	return cmd
}

// taskLine pulls the TASK: line out of a prompt for display.
func taskLine(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "TASK:") {
			return truncate(strings.TrimSpace(strings.TrimPrefix(line, "TASK:")), 70)
		}
	}
	return truncate(prompt, 70)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest.yaml]",
		Short: "Validate a step manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := pipeline.LoadManifest(args[0])
			if err != nil {
				return err
			}
			if err := registry.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, ui.ErrorMsg("%s: %v", args[0], err))
				return err
			}
			fmt.Println(ui.SuccessMsg("%s: %d steps", args[0], len(registry.Steps)))
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	var showAliasesFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List image adapters, their models and aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if showAliasesFlag {
				return showAliases(cfg.Aliases)
			}

			rows := [][]string{}
			for _, info := range adapter.Available() {
				models := make([]string, 0, len(info.Models))
				for _, m := range info.Models {
					models = append(models, m.ID)
				}
				if configured, ok := cfg.Aliases.Providers[info.Name]; ok {
					models = configured
				}
				status := ui.Muted("missing key")
				if cfg.HasAdapter(info.Name) {
					status = ui.SuccessMsg("ready")
				}
				rows = append(rows, []string{info.Name, strings.Join(models, ", "), status})
			}
			fmt.Println(ui.Table([]string{"ADAPTER", "MODELS", "STATUS"}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showAliasesFlag, "aliases", false, "show model aliases")
	return cmd
}

func showAliases(aliases *config.ModelAliases) error {
	names := aliases.ListAliases()
	if len(names) == 0 {
		fmt.Println(ui.Muted("no aliases configured"))
		return nil
	}

	rows := make([][]string, 0, len(names))
	for _, alias := range names {
		model := aliases.Resolve(alias)
		provider := aliases.ProviderOf(model)
		if provider == "" {
			provider = "-"
		}
		rows = append(rows, []string{alias, model, provider})
	}
	fmt.Println(ui.Table([]string{"ALIAS", "MODEL", "PROVIDER"}, rows))
	return nil
}

func attestCmd() *cobra.Command {
	var runDir, outFile, keyID string
	var sign bool

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Write an attestation over a run's evidence directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runDir == "" || outFile == "" {
				return fmt.Errorf("--run and --out are required")
			}

			att, err := attest.BuildAttestation(runDir)
			if err != nil {
				return err
			}
			if sign {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				signer, err := attest.NewSigner(filepath.Join(cfg.ConfigDir, "keys"), keyID)
				if err != nil {
					return fmt.Errorf("load signing key: %w", err)
				}
				if err := signer.Sign(att); err != nil {
					return err
				}
			}

			data, err := json.MarshalIndent(att, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(outFile, data, 0644); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, ui.SuccessMsg("attestation written to %s", outFile))
			return nil
		},
	}

	cmd.Flags().StringVar(&runDir, "run", "", "run directory containing evidence")
	cmd.Flags().StringVar(&outFile, "out", "", "output file path")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign with an ed25519 key from ~/.viewforge/keys")
	cmd.Flags().StringVar(&keyID, "key", "default", "signing key id")
	return cmd
}

func verifyCmd() *cobra.Command {
	var attestationPath, runDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an attestation against a run directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if attestationPath == "" || runDir == "" {
				return fmt.Errorf("--attestation and --run are required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := attest.VerifyAttestationFile(attestationPath, runDir, filepath.Join(cfg.ConfigDir, "keys")); err != nil {
				fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
				return err
			}
			fmt.Fprintln(os.Stdout, ui.SuccessMsg("Attestation verified."))
			return nil
		},
	}

	cmd.Flags().StringVar(&attestationPath, "attestation", "", "attestation JSON path")
	cmd.Flags().StringVar(&runDir, "run", "", "run directory containing evidence")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// newLogger builds a development logger with --verbose, otherwise a
// production logger at minLevel.
func newLogger(minLevel zap.AtomicLevel) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = minLevel
	return cfg.Build()
}

// createGenerator builds the named adapter from config, wrapped in the
// configured rate limit. An empty name uses the configured default.
func createGenerator(cfg *config.Config, name, model string, logger *zap.Logger) (adapter.ImageGenerator, error) {
	name = strings.ToLower(firstNonEmpty(name, cfg.Adapter))
	model = cfg.ResolvedModel(model)

	if model != "" {
		if err := cfg.Aliases.ValidateModel(name, model); err != nil {
			logger.Warn("model not in provider list", zap.String("adapter", name), zap.String("model", model), zap.Error(err))
		}
	}

	var (
		gen adapter.ImageGenerator
		err error
	)
	switch name {
	case "google":
		if !cfg.HasAdapter(name) {
			return nil, fmt.Errorf("google adapter requires GEMINI_API_KEY, GOOGLE_API_KEY or API_KEY")
		}
		gen, err = adapter.NewGoogleAdapter(cfg.GoogleAPIKey, model, logger)
	case "openai":
		if !cfg.HasAdapter(name) {
			return nil, fmt.Errorf("openai adapter requires OPENAI_API_KEY")
		}
		gen, err = adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey, model, logger)
	case "mock":
		gen = adapter.NewMockAdapter()
	default:
		return nil, fmt.Errorf("unknown adapter %q (want google, openai or mock)", name)
	}
	if err != nil {
		return nil, err
	}

	return adapter.NewRateLimited(gen, cfg.Generation.MinInterval(), cfg.Generation.Burst), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
