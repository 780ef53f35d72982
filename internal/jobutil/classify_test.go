package jobutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"not found sentinel", fmt.Errorf("photo p1: %w", ErrNotFound), KindNotFound},
		{"rate limited sentinel", fmt.Errorf("caption: %w", ErrRateLimited), KindRateLimited},
		{"genai 429 value", genai.APIError{Code: 429, Message: "slow down"}, KindRateLimited},
		{"genai 429 pointer", &genai.APIError{Code: 429}, KindRateLimited},
		{"genai 500", genai.APIError{Code: 500, Message: "internal"}, KindProviderError},
		{"bedrock throttling", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Too many requests"}, KindRateLimited},
		{"bedrock validation", &smithy.GenericAPIError{Code: "ValidationException", Message: "bad input"}, KindProviderError},
		{"breaker open", fmt.Errorf("embed: %w", gobreaker.ErrOpenState), KindRateLimited},
		{"provider message 429", FromProvider("caption", errors.New("upstream returned 429")), KindRateLimited},
		{"provider message rate limit", fmt.Errorf("tagify: %w", FromProvider("tagify", errors.New("Rate Limit exceeded for project"))), KindRateLimited},
		{"store message with 429", errors.New("get photo p-4291: connection reset"), KindProviderError},
		{"asset message rate limit", fmt.Errorf("get analysis asset: %w", errors.New("rate limit of bucket policy")), KindProviderError},
		{"provider plain error", FromProvider("embed", errors.New("bad image")), KindProviderError},
		{"plain error", errors.New("connection reset"), KindProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestSetJobError(t *testing.T) {
	var gotID, gotMsg string
	writer := func(ctx context.Context, jobID, errMsg string) error {
		gotID, gotMsg = jobID, errMsg
		return nil
	}

	if err := SetJobError(context.Background(), "aijob-1", "p1", errors.New("model exploded"), writer); err != nil {
		t.Fatalf("SetJobError() error = %v", err)
	}
	if gotID != "aijob-1" || gotMsg != "model exploded" {
		t.Errorf("writer got (%q, %q), want (%q, %q)", gotID, gotMsg, "aijob-1", "model exploded")
	}

	wantErr := errors.New("dynamo down")
	failing := func(ctx context.Context, jobID, errMsg string) error { return wantErr }
	if err := SetJobError(context.Background(), "aijob-2", "p2", errors.New("x"), failing); !errors.Is(err, wantErr) {
		t.Errorf("SetJobError() error = %v, want %v", err, wantErr)
	}
}

func TestFromProvider(t *testing.T) {
	if FromProvider("embed", nil) != nil {
		t.Error("FromProvider(nil) != nil")
	}
	inner := genai.APIError{Code: 500, Message: "internal"}
	err := FromProvider("caption", inner)
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 500 {
		t.Errorf("FromProvider() lost the wrapped error: %v", err)
	}
	if got := err.Error(); got != "caption: "+inner.Error() {
		t.Errorf("Error() = %q", got)
	}
}
