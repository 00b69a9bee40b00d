package adapter

import (
	"context"

	"github.com/zen-systems/viewforge/pkg/artifact"
)

// ImageGenerator defines the interface for image model adapters.
type ImageGenerator interface {
	// Generate sends the prompt and source image to the model and returns the
	// generated image.
	Generate(ctx context.Context, prompt string, source *artifact.Artifact) (*artifact.Artifact, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// AdapterInfo holds metadata about an adapter.
type AdapterInfo struct {
	Name   string
	Models []ModelInfo
}

// ModelInfo holds metadata about a model.
type ModelInfo struct {
	ID          string
	Description string
}

// Available lists the adapters the CLI knows how to build.
func Available() []AdapterInfo {
	return []AdapterInfo{
		{Name: "google", Models: []ModelInfo{
			{ID: DefaultGoogleModel, Description: "Gemini image editing (image + text in, image out)"},
		}},
		{Name: "openai", Models: []ModelInfo{
			{ID: DefaultOpenAIModel, Description: "OpenAI image edit endpoint"},
		}},
		{Name: "mock", Models: []ModelInfo{
			{ID: "mock-1", Description: "deterministic local images, no network"},
		}},
	}
}

func resolveModel(model string, models []string) string {
	if model != "" {
		return model
	}
	if len(models) > 0 {
		return models[0]
	}
	return ""
}
