package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/genai"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

type fakeInvoker struct {
	req  titanImageRequest
	resp string
	err  error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if err := json.Unmarshal(in.Body, &f.req); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.resp)}, nil
}

type fakeGenerator struct {
	calls  int
	model  string
	config *genai.GenerateContentConfig
	text   string
	err    error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func unpacedGuard(threshold uint32) *Guard {
	return NewGuard("test", GuardConfig{FailureThreshold: threshold, OpenTimeout: time.Minute})
}

func TestTitanEmbedder_Embed(t *testing.T) {
	inv := &fakeInvoker{resp: `{"embedding":[0.5,-0.25,1]}`}
	e := newTitanEmbedder(inv, "", unpacedGuard(5))

	got, err := e.Embed(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got.Model != ModelTitanImage || got.Dim != 3 {
		t.Errorf("Embed() = model %q dim %d, want %q dim 3", got.Model, got.Dim, ModelTitanImage)
	}
	if got.Vector[1] != -0.25 {
		t.Errorf("Vector[1] = %v, want -0.25", got.Vector[1])
	}
	if inv.req.InputImage != base64.StdEncoding.EncodeToString([]byte("img")) {
		t.Errorf("InputImage = %q, want base64 of image", inv.req.InputImage)
	}
	if inv.req.EmbeddingConfig.OutputEmbeddingLength != TitanDimensions {
		t.Errorf("OutputEmbeddingLength = %d, want %d", inv.req.EmbeddingConfig.OutputEmbeddingLength, TitanDimensions)
	}
}

func TestTitanEmbedder_EmptyEmbedding(t *testing.T) {
	e := newTitanEmbedder(&fakeInvoker{resp: `{"embedding":[],"message":"bad image"}`}, "", unpacedGuard(5))
	if _, err := e.Embed(context.Background(), []byte("img")); err == nil {
		t.Error("Embed() error = nil, want error for empty embedding")
	}
}

func TestGemini_CaptionDeterministic(t *testing.T) {
	gen := &fakeGenerator{text: "  \"A dog runs along a beach at sunset.\"\n"}
	g := newGemini(gen, "gemini-test", unpacedGuard(5))

	got, err := g.Caption(context.Background(), "https://example/a.jpg", "beach.jpg")
	if err != nil {
		t.Fatalf("Caption() error = %v", err)
	}
	if got != "A dog runs along a beach at sunset." {
		t.Errorf("Caption() = %q", got)
	}
	if gen.model != "gemini-test" {
		t.Errorf("model = %q, want gemini-test", gen.model)
	}
	if gen.config.Temperature == nil || *gen.config.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", gen.config.Temperature)
	}
	if gen.config.SystemInstruction == nil {
		t.Error("SystemInstruction not set")
	}
}

func TestGemini_CaptionEmpty(t *testing.T) {
	g := newGemini(&fakeGenerator{text: "   "}, "m", unpacedGuard(5))
	if _, err := g.Caption(context.Background(), "u", ""); err == nil {
		t.Error("Caption() error = nil, want error for empty caption")
	}
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{"object", `{"tags":["beach","Sunset"]}`, 2, false},
		{"fenced object", "```json\n{\"tags\":[\"a\",\"b\",\"c\"]}\n```", 3, false},
		{"bare array", `["a","b"]`, 2, false},
		{"prose", "no json here", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTags(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("parseTags() = %v, want %d tags", got, tt.want)
			}
		})
	}
}

func TestGuard_OpenBreakerIsRateLimited(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream exploded")}
	g := newGemini(gen, "m", unpacedGuard(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Caption(ctx, "u", "")
		if jobutil.Classify(err) != jobutil.KindProviderError {
			t.Fatalf("call %d: Classify() = %q, want PROVIDER_ERROR", i, jobutil.Classify(err))
		}
	}
	if g.guard.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", g.guard.State())
	}

	_, err := g.Caption(ctx, "u", "")
	if !errors.Is(err, jobutil.ErrRateLimited) {
		t.Errorf("open breaker error = %v, want ErrRateLimited", err)
	}
	if gen.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (open breaker must short-circuit)", gen.calls)
	}
}

func TestGuard_ProviderRateLimitPassesThrough(t *testing.T) {
	g := newGemini(&fakeGenerator{err: genai.APIError{Code: 429, Message: "quota"}}, "m", unpacedGuard(5))
	_, err := g.Tagify(context.Background(), "caption", "")
	if jobutil.Classify(err) != jobutil.KindRateLimited {
		t.Errorf("Classify() = %q, want RATE_LIMITED", jobutil.Classify(err))
	}
}
