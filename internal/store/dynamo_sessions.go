package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/feed"
)

// Compile-time interface check.
var _ feed.SessionStore = (*DynamoStore)(nil)

// sessionRecord is the DynamoDB shape of a feed session.
type sessionRecord struct {
	UserID         string   `dynamodbav:"userId"`
	Mode           string   `dynamodbav:"mode"`
	Seed           string   `dynamodbav:"seed"`
	RecentPhotoIDs []string `dynamodbav:"recentPhotoIds"`
	LastSeenAt     int64    `dynamodbav:"lastSeenAt"`
	CreatedAt      int64    `dynamodbav:"createdAt"`
	UpdatedAt      int64    `dynamodbav:"updatedAt"`
}

func sessionSK(mode feed.Mode) string {
	return skModePrefix + string(mode)
}

// GetSession returns the session or nil, nil.
func (s *DynamoStore) GetSession(ctx context.Context, userID string, mode feed.Mode) (*feed.Session, error) {
	var rec sessionRecord
	found, err := s.getItem(ctx, feedPK(userID), sessionSK(mode), &rec)
	if err != nil {
		return nil, fmt.Errorf("get feed session %s/%s: %w", userID, mode, err)
	}
	if !found {
		return nil, nil
	}
	return &feed.Session{
		UserID:         userID,
		Mode:           mode,
		Seed:           rec.Seed,
		RecentPhotoIDs: feed.AppendRecent(nil, rec.RecentPhotoIDs, feed.RecentWindow),
		LastSeenAt:     time.UnixMilli(rec.LastSeenAt).UTC(),
		CreatedAt:      time.UnixMilli(rec.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(rec.UpdatedAt).UTC(),
	}, nil
}

// UpsertSession writes the session in one UpdateItem, keeping createdAt
// from the first write and pushing expiresAt forward.
func (s *DynamoStore) UpsertSession(ctx context.Context, userID string, mode feed.Mode, seed string, recentIDs []string) error {
	now := s.now()
	recent := feed.AppendRecent(nil, recentIDs, feed.RecentWindow)
	recentAttr, err := attributevalue.Marshal(recent)
	if err != nil {
		return fmt.Errorf("marshal recent ids: %w", err)
	}

	u := newUpdateExpr().
		set("userId", stringAttr(userID)).
		set("mode", stringAttr(string(mode))).
		set("seed", stringAttr(seed)).
		set("recentPhotoIds", recentAttr).
		set("lastSeenAt", numberAttr(now.UnixMilli())).
		set("updatedAt", numberAttr(now.UnixMilli())).
		set("expiresAt", numberAttr(now.Add(feed.SessionTTL).Unix()))
	update := u.expression() + fmt.Sprintf(", %s = if_not_exists(%s, %s)",
		u.name("createdAt"), u.name("createdAt"), u.value("createdAt", numberAttr(now.UnixMilli())))

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       itemKey(feedPK(userID), sessionSK(mode)),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  u.names,
		ExpressionAttributeValues: u.values,
	})
	if err != nil {
		return fmt.Errorf("upsert feed session %s/%s: %w", userID, mode, err)
	}

	log.Debug().
		Str("userId", userID).
		Str("mode", string(mode)).
		Int("recent", len(recent)).
		Msg("Feed session persisted")
	return nil
}
