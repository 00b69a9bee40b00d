package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zen-systems/viewforge/pkg/artifact"
	"go.uber.org/zap"
)

// DefaultOpenAIModel is the OpenAI model used for image edits.
const DefaultOpenAIModel = "gpt-image-1"

// OpenAIAdapter implements the ImageGenerator interface on the image edit endpoint.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey, model string, logger *zap.Logger) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	a := &OpenAIAdapter{
		client: client,
		logger: logger.With(zap.String("component", "openai_adapter")),
	}
	a.model = resolveModel(model, a.Models())
	return a, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Models returns the list of supported OpenAI image models.
func (a *OpenAIAdapter) Models() []string {
	return []string{DefaultOpenAIModel}
}

// Generate edits the source image according to the prompt.
func (a *OpenAIAdapter) Generate(ctx context.Context, prompt string, source *artifact.Artifact) (*artifact.Artifact, error) {
	if source == nil || len(source.Data) == 0 {
		return nil, fmt.Errorf("source image is required")
	}

	image := openai.File(bytes.NewReader(source.Data), "source"+source.Extension(), source.MIMEType)
	resp, err := a.client.Images.Edit(ctx, openai.ImageEditParams{
		Image:  openai.ImageEditParamsImageUnion{OfFile: image},
		Prompt: prompt,
		Model:  openai.ImageModel(a.model),
	})
	if err != nil {
		a.logger.Warn("image edit failed", zap.String("model", a.model), zap.Error(err))
		return nil, transportError(a.Name(), err)
	}

	if resp == nil || len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &GenerationError{
			Adapter: a.Name(),
			Kind:    KindEmptyResponse,
			Message: "No image data found in the API response.",
		}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &GenerationError{
			Adapter: a.Name(),
			Kind:    KindEmptyResponse,
			Message: "image payload is not valid base64",
			Err:     err,
		}
	}

	return artifact.New(data, "image/png", a.Name(), a.model, prompt), nil
}
