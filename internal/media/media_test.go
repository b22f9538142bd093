package media

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"metalearn/api/internal/store"
)

func TestTopicLinkWithoutStorage(t *testing.T) {
	var svc *Service
	link, err := svc.TopicLink(context.Background(), store.Topic{VideoURL: "https://cdn.example.com/v.mp4", MediaKey: "ignored"})
	if err != nil {
		t.Fatalf("TopicLink() error = %v", err)
	}
	if link.URL != "https://cdn.example.com/v.mp4" || link.ExpiresAt != nil {
		t.Fatalf("unexpected link %+v", link)
	}
}

func TestTopicLinkPresigns(t *testing.T) {
	svc, err := New(Config{Endpoint: "http://localhost:9000", AccessKey: "minio", SecretKey: "minio-secret", Bucket: "lessons"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	fixed := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	link, err := svc.TopicLink(context.Background(), store.Topic{MediaKey: "go/intro.mp4", VideoURL: "fallback"})
	if err != nil {
		t.Fatalf("TopicLink() error = %v", err)
	}
	u, err := url.Parse(link.URL)
	if err != nil {
		t.Fatalf("parse presigned url: %v", err)
	}
	if u.Host != "localhost:9000" || !strings.HasPrefix(u.Path, "/lessons/go/intro.mp4") {
		t.Fatalf("unexpected presigned url %s", link.URL)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "900" {
		t.Fatalf("X-Amz-Expires = %q, want 900", got)
	}
	if link.ExpiresAt == nil || !link.ExpiresAt.Equal(fixed.Add(PresignTTL)) {
		t.Fatalf("ExpiresAt = %v", link.ExpiresAt)
	}
}

func TestTopicLinkWithoutKeyUsesVideoURL(t *testing.T) {
	svc, err := New(Config{Endpoint: "localhost:9000", Bucket: "lessons"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	link, err := svc.TopicLink(context.Background(), store.Topic{VideoURL: "https://youtu.be/x"})
	if err != nil || link.URL != "https://youtu.be/x" {
		t.Fatalf("TopicLink() = %+v, %v", link, err)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected an error without a bucket")
	}
}
