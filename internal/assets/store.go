package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

// MaxAssetBytes caps how much of an analysis asset is read into memory.
// Analysis assets are thumbnails; anything larger is rejected.
const MaxAssetBytes = 16 << 20

// DefaultURLExpiry is the lifetime of signed asset URLs handed to the
// caption provider.
const DefaultURLExpiry = 10 * time.Minute

// Store resolves analysis assets by their opaque storage ID.
type Store interface {
	// Get returns the asset bytes. A missing or empty asset is reported as
	// an error wrapping jobutil.ErrNotFound.
	Get(ctx context.Context, assetID string) ([]byte, error)

	// SignedURL returns a short-lived URL the caption provider can fetch.
	SignedURL(ctx context.Context, assetID string) (string, error)
}

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store keeps analysis assets in one bucket under a key prefix.
type S3Store struct {
	client    objectGetter
	presigner objectPresigner
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// NewS3Store creates an S3Store. A zero urlExpiry uses DefaultURLExpiry.
func NewS3Store(client *s3.Client, presigner *s3.PresignClient, bucket, prefix string, urlExpiry time.Duration) *S3Store {
	return newS3Store(client, presigner, bucket, prefix, urlExpiry)
}

func newS3Store(client objectGetter, presigner objectPresigner, bucket, prefix string, urlExpiry time.Duration) *S3Store {
	if urlExpiry <= 0 {
		urlExpiry = DefaultURLExpiry
	}
	return &S3Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		prefix:    prefix,
		urlExpiry: urlExpiry,
	}
}

func (s *S3Store) key(assetID string) string {
	return s.prefix + assetID
}

// Get downloads the asset.
func (s *S3Store) Get(ctx context.Context, assetID string) ([]byte, error) {
	if assetID == "" {
		return nil, fmt.Errorf("analysis asset: empty id: %w", jobutil.ErrNotFound)
	}
	key := s.key(assetID)
	log.Debug().Str("bucket", s.bucket).Str("key", key).Msg("Downloading analysis asset")

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("analysis asset %s: %w", assetID, jobutil.ErrNotFound)
		}
		return nil, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(io.LimitReader(result.Body, MaxAssetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read analysis asset: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("analysis asset %s is empty: %w", assetID, jobutil.ErrNotFound)
	}
	if len(data) > MaxAssetBytes {
		return nil, fmt.Errorf("analysis asset %s exceeds %d bytes", assetID, MaxAssetBytes)
	}
	return data, nil
}

// SignedURL presigns a GET for the asset.
func (s *S3Store) SignedURL(ctx context.Context, assetID string) (string, error) {
	key := s.key(assetID)
	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return result.URL, nil
}

// MemoryStore serves assets from memory for the worker tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

// NewMemoryStore creates a MemoryStore whose signed URLs are baseURL + id.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), baseURL: baseURL}
}

// Put stores data under assetID.
func (m *MemoryStore) Put(assetID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[assetID] = append([]byte(nil), data...)
}

func (m *MemoryStore) Get(_ context.Context, assetID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[assetID]
	if !ok || len(data) == 0 {
		return nil, fmt.Errorf("analysis asset %s: %w", assetID, jobutil.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) SignedURL(_ context.Context, assetID string) (string, error) {
	return m.baseURL + assetID, nil
}
