package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/viewforge/pkg/artifact"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultGoogleModel is the Gemini model that accepts an image and returns an image.
const DefaultGoogleModel = "gemini-2.5-flash-image-preview"

const finishReasonStop = "STOP"

// GoogleAdapter implements the ImageGenerator interface for Gemini models.
type GoogleAdapter struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGoogleAdapter creates a new Google Gemini adapter. An empty model selects
// DefaultGoogleModel.
func NewGoogleAdapter(apiKey, model string, logger *zap.Logger) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	a := &GoogleAdapter{
		client: client,
		logger: logger.With(zap.String("component", "google_adapter")),
	}
	a.model = resolveModel(model, a.Models())
	return a, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAdapter) Models() []string {
	return []string{
		DefaultGoogleModel,
		"gemini-2.5-flash-image",
	}
}

// Generate sends the source image and prompt to Gemini and returns the first
// image part of the response.
func (a *GoogleAdapter) Generate(ctx context.Context, prompt string, source *artifact.Artifact) (*artifact.Artifact, error) {
	if source == nil || len(source.Data) == 0 {
		return nil, fmt.Errorf("source image is required")
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: source.Data, MIMEType: source.MIMEType}},
				{Text: prompt},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		a.logger.Warn("generate content failed", zap.String("model", a.model), zap.Error(err))
		return nil, transportError(a.Name(), err)
	}

	blob, err := imageFromResponse(a.Name(), resp)
	if err != nil {
		a.logger.Warn("no image in response", zap.String("model", a.model), zap.Error(err))
		return nil, err
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	a.logger.Debug("image generated", zap.String("model", a.model), zap.Int("bytes", len(blob.Data)))
	return artifact.New(blob.Data, mimeType, a.Name(), a.model, prompt), nil
}

// imageFromResponse returns the first inline image of the first candidate, or
// a classified GenerationError explaining why there is none.
func imageFromResponse(adapterName string, resp *genai.GenerateContentResponse) (*genai.Blob, error) {
	var first *genai.Candidate
	if resp != nil && len(resp.Candidates) > 0 {
		first = resp.Candidates[0]
	}

	if first != nil && first.Content != nil {
		for _, part := range first.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData, nil
			}
		}
	}

	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		reason := string(resp.PromptFeedback.BlockReason)
		return nil, &GenerationError{
			Adapter: adapterName,
			Kind:    KindSafetyBlock,
			Reason:  reason,
			Message: fmt.Sprintf("image generation blocked due to: %s", reason),
		}
	}

	if text := responseText(first); text != "" {
		return nil, &GenerationError{
			Adapter: adapterName,
			Kind:    KindTextOnly,
			Message: fmt.Sprintf("API returned a text response instead of an image: %q", text),
		}
	}

	var sb strings.Builder
	sb.WriteString("No image data found in the API response.")
	switch {
	case first == nil:
		sb.WriteString(" The response contained no candidates.")
	case first.Content == nil:
		sb.WriteString(" The response candidate had no content.")
	}

	kind := KindEmptyResponse
	var reason string
	if first != nil && first.FinishReason != "" && string(first.FinishReason) != finishReasonStop {
		reason = string(first.FinishReason)
		kind = KindAbnormalStop
		fmt.Fprintf(&sb, " Generation stopped due to: %s.", reason)
	}

	return nil, &GenerationError{
		Adapter: adapterName,
		Kind:    kind,
		Reason:  reason,
		Message: sb.String(),
	}
}

func responseText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}
	var content string
	for _, part := range c.Content.Parts {
		if part != nil && part.Text != "" {
			content += part.Text
		}
	}
	return strings.TrimSpace(content)
}
