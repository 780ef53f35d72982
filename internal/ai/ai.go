// Package ai holds the provider clients behind the pipeline's three
// capabilities: image embedding (Bedrock Titan Multimodal), captioning and
// tagging (Gemini). Every client is paced by a token-bucket limiter and
// guarded by a circuit breaker.
package ai

import "os"

// Embedding is a provider's vector for one image.
type Embedding struct {
	Vector []float32
	Model  string
	Dim    int
}

// Bedrock embedding model IDs.
const (
	// ModelTitanImage is Titan Multimodal Embeddings G1.
	ModelTitanImage = "amazon.titan-embed-image-v1"
)

// TitanDimensions is the embedding length requested from Titan. Valid
// values are 256, 384, and 1024.
const TitanDimensions = 1024

// TitanMaxImageEdge is the longest image edge sent to Titan.
const TitanMaxImageEdge = 2048

// Gemini model IDs.
const (
	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini25FlashLite is for high-throughput, lowest cost.
	ModelGemini25FlashLite = "gemini-2.5-flash-lite"
)

// DefaultGeminiModel is used for captions and tags unless GEMINI_MODEL is set.
const DefaultGeminiModel = ModelGemini25Flash

// GeminiModelName resolves the Gemini model from GEMINI_MODEL, falling back
// to DefaultGeminiModel.
func GeminiModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultGeminiModel
}

// ProviderBedrock is recorded on jobs once the embedding step succeeds.
const ProviderBedrock = "bedrock"
