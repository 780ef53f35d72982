// Package events publishes pipeline notifications to EventBridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Source is the EventBridge source for all events emitted here.
const Source = "photo-intelligence"

// DetailTypePhotoProcessed marks a photo that became AI-ready.
const DetailTypePhotoProcessed = "photo.ai.processed"

// PhotoProcessed is the detail of a photo.ai.processed event.
type PhotoProcessed struct {
	PhotoID        string    `json:"photoId"`
	UserID         string    `json:"userId"`
	JobID          string    `json:"jobId"`
	EmbeddingModel string    `json:"embeddingModel"`
	EmbeddingDim   int       `json:"embeddingDim"`
	CaptionModel   string    `json:"captionModel,omitempty"`
	TagCount       int       `json:"tagCount"`
	RetryCount     int       `json:"retryCount"`
	ProcessedAt    time.Time `json:"processedAt"`
}

type eventPutter interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher writes events to one event bus.
type Publisher struct {
	client  eventPutter
	busName string
}

// NewPublisher creates a Publisher. An empty busName targets the default bus.
func NewPublisher(client *eventbridge.Client, busName string) *Publisher {
	return &Publisher{client: client, busName: busName}
}

// PublishPhotoProcessed emits a photo.ai.processed event.
func (p *Publisher) PublishPhotoProcessed(ctx context.Context, event PhotoProcessed) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal PhotoProcessed: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypePhotoProcessed),
		Detail:     aws.String(string(detail)),
	}
	if p.busName != "" {
		entry.EventBusName = aws.String(p.busName)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("photoId", event.PhotoID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("photoId", event.PhotoID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("photoId", event.PhotoID).Str("jobId", event.JobID).Msg("photo.ai.processed emitted to EventBridge")
	return nil
}
