package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amrrdev/keygen/internal/types"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const resultPrefix = "results/"

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// ResultTTL sizes the bucket lifecycle rule; zero means DefaultResultTTL.
	ResultTTL time.Duration
}

// MinIO keeps one JSON object per request id. Bucket lifecycle only expires
// objects at day granularity, so Get also checks the document's own expiry.
type MinIO struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinIO(ctx context.Context, config *MinIOConfig) (*MinIO, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, err
	}

	if !exists {
		err = client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{})
		if err != nil {
			return nil, err
		}
	}

	if err := client.SetBucketLifecycle(ctx, config.Bucket, expiryRules(config.ResultTTL)); err != nil {
		return nil, fmt.Errorf("failed to set bucket lifecycle: %w", err)
	}

	return &MinIO{
		client: client,
		bucket: config.Bucket,
		now:    time.Now,
	}, nil
}

// expiryRules expires the results prefix a whole number of days after
// creation, rounding ttl up so objects never vanish before their documents.
func expiryRules(ttl time.Duration) *lifecycle.Configuration {
	if ttl <= 0 {
		ttl = types.DefaultResultTTL
	}
	days := int((ttl + 24*time.Hour - 1) / (24 * time.Hour))

	config := lifecycle.NewConfiguration()
	config.Rules = []lifecycle.Rule{
		{
			ID:         "expire-results",
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: resultPrefix},
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(days),
			},
		},
	}
	return config
}

func (m *MinIO) Upsert(ctx context.Context, doc *types.ResultDocument) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = m.client.PutObject(ctx, m.bucket, ObjectName(doc.RequestID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"Expires-At": strconv.FormatInt(doc.ExpiresAt().Unix(), 10),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to upsert result %s: %w", doc.RequestID, err)
	}
	return nil
}

func (m *MinIO) Get(ctx context.Context, requestID string) (*types.ResultDocument, error) {
	object, err := m.client.GetObject(ctx, m.bucket, ObjectName(requestID), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.readError(requestID, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, m.readError(requestID, err)
	}

	var doc types.ResultDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode result %s: %w", requestID, err)
	}

	if !m.now().Before(doc.ExpiresAt()) {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *MinIO) readError(requestID string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("failed to read result %s: %w", requestID, err)
}

// Close is a no-op; the minio client holds no persistent connection.
func (m *MinIO) Close() error {
	return nil
}

func ObjectName(requestID string) string {
	return resultPrefix + requestID + ".json"
}
