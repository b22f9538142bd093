// Package media hands out short-lived download URLs for lesson media kept
// in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"metalearn/api/internal/store"
)

const PresignTTL = 15 * time.Minute

// defaultRegion avoids a bucket-location round trip before every presign.
const defaultRegion = "us-east-1"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type Service struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func New(cfg Config) (*Service, error) {
	if !cfg.Enabled() {
		return nil, errors.New("S3_ENDPOINT and S3_BUCKET are required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Service{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// Link is a playable media location.
type Link struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// TopicLink presigns the topic's media key. Without object storage, or for
// topics without a key, the stored video URL is returned as is.
func (s *Service) TopicLink(ctx context.Context, topic store.Topic) (Link, error) {
	if s == nil || topic.MediaKey == "" {
		return Link{URL: topic.VideoURL}, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, topic.MediaKey, PresignTTL, url.Values{})
	if err != nil {
		return Link{}, fmt.Errorf("presign %s: %w", topic.MediaKey, err)
	}
	expires := s.now().Add(PresignTTL).UTC()
	return Link{URL: u.String(), ExpiresAt: &expires}, nil
}
