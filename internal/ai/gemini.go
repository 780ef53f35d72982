package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/photo-intelligence/internal/assets"
)

// contentGenerator is satisfied by *genai.Models.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

// Gemini captions and tags photos.
type Gemini struct {
	models contentGenerator
	model  string
	guard  *Guard
}

// NewGemini wraps client. An empty model resolves via GeminiModelName.
func NewGemini(client *genai.Client, model string, guard *Guard) *Gemini {
	return newGemini(client.Models, model, guard)
}

func newGemini(models contentGenerator, model string, guard *Guard) *Gemini {
	if model == "" {
		model = GeminiModelName()
	}
	if guard == nil {
		guard = NewGuard("gemini", DefaultGuardConfig())
	}
	return &Gemini{models: models, model: model, guard: guard}
}

// Model returns the Gemini model ID in use.
func (g *Gemini) Model() string {
	return g.model
}

// Caption describes the image at imageURL in one short sentence.
func (g *Gemini) Caption(ctx context.Context, imageURL, hint string) (string, error) {
	parts := []*genai.Part{
		{FileData: &genai.FileData{MIMEType: "image/jpeg", FileURI: imageURL}},
		{Text: assets.RenderCaptionPrompt(hint)},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: assets.CaptionSystemPrompt}}},
		Temperature:       genai.Ptr[float32](0),
	}

	text, err := g.generate(ctx, "caption", parts, config)
	if err != nil {
		return "", err
	}
	caption := strings.Trim(strings.TrimSpace(text), `"`)
	if caption == "" {
		return "", fmt.Errorf("gemini returned an empty caption")
	}
	return caption, nil
}

type tagResponse struct {
	Tags []string `json:"tags"`
}

// Tagify derives search tags from a caption and hint. Tags are returned
// as the model produced them; normalization happens in the pipeline.
func (g *Gemini) Tagify(ctx context.Context, caption, hint string) ([]string, error) {
	parts := []*genai.Part{{Text: assets.RenderTagsPrompt(caption, hint)}}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: assets.TagsSystemPrompt}}},
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
	}

	text, err := g.generate(ctx, "tags", parts, config)
	if err != nil {
		return nil, err
	}
	return parseTags(text)
}

func (g *Gemini) generate(ctx context.Context, operation string, parts []*genai.Part, config *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	log.Debug().
		Str("model", g.model).
		Str("operation", operation).
		Msg("Starting Gemini API call")
	start := time.Now()

	resp, err := call(ctx, g.guard, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return g.models.GenerateContent(ctx, g.model, contents, config)
	})
	duration := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("operation", operation).Dur("duration", duration).Msg("Gemini API call failed")
		return "", fmt.Errorf("gemini %s: %w", operation, err)
	}
	if resp == nil {
		return "", fmt.Errorf("gemini %s: empty response", operation)
	}

	text := resp.Text()
	log.Debug().
		Str("operation", operation).
		Int("responseLength", len(text)).
		Dur("duration", duration).
		Msg("Gemini API call complete")
	return text, nil
}
