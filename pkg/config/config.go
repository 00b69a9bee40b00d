package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	GoogleAPIKey string
	OpenAIAPIKey string

	Adapter     string
	Model       string
	StepsFile   string
	OutputDir   string
	Generation  GenerationConfig
	Server      ServerConfig
	Materialize MaterializeConfig
	Aliases     *ModelAliases
	ConfigDir   string
}

// FileConfig represents the structure of ~/.viewforge/config.yaml.
// Credentials are never read from the file.
type FileConfig struct {
	Adapter     string            `yaml:"adapter"`
	Model       string            `yaml:"model"`
	StepsFile   string            `yaml:"steps_file"`
	OutputDir   string            `yaml:"output_dir"`
	Generation  GenerationConfig  `yaml:"generation"`
	Server      ServerConfig      `yaml:"server"`
	Materialize MaterializeConfig `yaml:"materialize"`
	Models      *ModelAliases     `yaml:"models,omitempty"`
}

// GenerationConfig paces calls to the image model.
type GenerationConfig struct {
	MinIntervalMs int `yaml:"min_interval_ms,omitempty"`
	Burst         int `yaml:"burst,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string  `yaml:"addr,omitempty"`
	RunsPerMinute  float64 `yaml:"runs_per_minute,omitempty"`
	RunBurst       int     `yaml:"run_burst,omitempty"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes,omitempty"`
}

// MaterializeConfig sets the cosmetic materialization timer.
type MaterializeConfig struct {
	IntervalMs int `yaml:"interval_ms,omitempty"`
	DurationMs int `yaml:"duration_ms,omitempty"`
}

// MinInterval returns the spacing between generation calls.
func (g GenerationConfig) MinInterval() time.Duration {
	return time.Duration(g.MinIntervalMs) * time.Millisecond
}

// Interval returns the phase interval.
func (m MaterializeConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

// Duration returns the total processing time.
func (m MaterializeConfig) Duration() time.Duration {
	return time.Duration(m.DurationMs) * time.Millisecond
}

// Load reads configuration from ~/.viewforge/config.yaml and environment
// variables. Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.yaml")
	fileConfig, err := loadFileConfig(path, false)
	if err != nil {
		return nil, err
	}
	return build(fileConfig, configDir), nil
}

// LoadFile loads config from a specific file, which must exist.
func LoadFile(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig, err := loadFileConfig(path, true)
	if err != nil {
		return nil, err
	}
	return build(fileConfig, configDir), nil
}

func build(fileConfig *FileConfig, configDir string) *Config {
	aliases := DefaultAliases()
	aliases.merge(fileConfig.Models)

	cfg := &Config{
		GoogleAPIKey: firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		Adapter:      getEnvOrDefault("VIEWFORGE_ADAPTER", fileConfig.Adapter),
		Model:        getEnvOrDefault("VIEWFORGE_MODEL", fileConfig.Model),
		StepsFile:    getEnvOrDefault("VIEWFORGE_STEPS", fileConfig.StepsFile),
		OutputDir:    getEnvOrDefault("VIEWFORGE_OUTPUT_DIR", fileConfig.OutputDir),
		Generation:   fileConfig.Generation,
		Server:       fileConfig.Server,
		Materialize:  fileConfig.Materialize,
		Aliases:      aliases,
		ConfigDir:    configDir,
	}
	cfg.Server.Addr = getEnvOrDefault("VIEWFORGE_ADDR", cfg.Server.Addr)
	applyDefaults(cfg)
	return cfg
}

// Default returns a configuration with defaults only, ignoring files and environment.
func Default() *Config {
	cfg := &Config{Aliases: DefaultAliases()}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Adapter == "" {
		cfg.Adapter = "google"
	}
	cfg.Adapter = strings.ToLower(cfg.Adapter)
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(".viewforge", "runs")
	}
	if cfg.Generation.Burst < 1 {
		cfg.Generation.Burst = 1
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.RunsPerMinute == 0 {
		cfg.Server.RunsPerMinute = 6
	}
	if cfg.Server.RunBurst == 0 {
		cfg.Server.RunBurst = 2
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Materialize.IntervalMs == 0 {
		cfg.Materialize.IntervalMs = 1200
	}
	if cfg.Materialize.DurationMs == 0 {
		cfg.Materialize.DurationMs = 7500
	}
}

// ResolvedModel returns the configured model with aliases resolved.
func (c *Config) ResolvedModel(override string) string {
	model := c.Model
	if override != "" {
		model = override
	}
	return c.Aliases.Resolve(model)
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "google":
		return c.GoogleAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// loadFileConfig reads the config file. A missing file yields an empty config
// unless required is set.
func loadFileConfig(path string, required bool) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".viewforge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
