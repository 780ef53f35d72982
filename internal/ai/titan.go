package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog/log"
)

type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type titanEmbeddingConfig struct {
	OutputEmbeddingLength int `json:"outputEmbeddingLength"`
}

type titanImageRequest struct {
	InputImage      string               `json:"inputImage"`
	EmbeddingConfig titanEmbeddingConfig `json:"embeddingConfig"`
}

type titanImageResponse struct {
	Embedding []float64 `json:"embedding"`
	Message   string    `json:"message,omitempty"`
}

// TitanEmbedder embeds images with Titan Multimodal Embeddings.
type TitanEmbedder struct {
	client     modelInvoker
	modelID    string
	dimensions int
	guard      *Guard
}

// NewTitanEmbedder creates an embedder. An empty modelID uses ModelTitanImage.
func NewTitanEmbedder(client *bedrockruntime.Client, modelID string, guard *Guard) *TitanEmbedder {
	return newTitanEmbedder(client, modelID, guard)
}

func newTitanEmbedder(client modelInvoker, modelID string, guard *Guard) *TitanEmbedder {
	if modelID == "" {
		modelID = ModelTitanImage
	}
	if guard == nil {
		guard = NewGuard("bedrock-titan", DefaultGuardConfig())
	}
	return &TitanEmbedder{client: client, modelID: modelID, dimensions: TitanDimensions, guard: guard}
}

// MaxImageEdge is the longest edge the model accepts.
func (e *TitanEmbedder) MaxImageEdge() int {
	return TitanMaxImageEdge
}

// Embed returns the image embedding.
func (e *TitanEmbedder) Embed(ctx context.Context, image []byte) (Embedding, error) {
	if len(image) == 0 {
		return Embedding{}, fmt.Errorf("embed: empty image")
	}
	body, err := json.Marshal(titanImageRequest{
		InputImage:      base64.StdEncoding.EncodeToString(image),
		EmbeddingConfig: titanEmbeddingConfig{OutputEmbeddingLength: e.dimensions},
	})
	if err != nil {
		return Embedding{}, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	result, err := call(ctx, e.guard, func(ctx context.Context) (*bedrockruntime.InvokeModelOutput, error) {
		return e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(e.modelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
	})
	if err != nil {
		log.Error().Err(err).Str("modelId", e.modelID).Msg("Bedrock InvokeModel failed")
		return Embedding{}, fmt.Errorf("InvokeModel: %w", err)
	}

	var resp titanImageResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return Embedding{}, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return Embedding{}, fmt.Errorf("titan returned no embedding: %s", resp.Message)
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	log.Debug().
		Str("modelId", e.modelID).
		Int("dim", len(vec)).
		Dur("duration", time.Since(start)).
		Msg("Image embedded")
	return Embedding{Vector: vec, Model: e.modelID, Dim: len(vec)}, nil
}
