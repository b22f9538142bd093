package email

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing key", config: Config{From: "no-reply@example.com"}, expected: false},
		{name: "missing from", config: Config{SendGridAPIKey: "SG.key"}, expected: false},
		{name: "fully configured", config: Config{SendGridAPIKey: "SG.key", From: "no-reply@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestConsoleDelivery(t *testing.T) {
	var out bytes.Buffer
	svc := NewService(Config{From: "no-reply@metalearn.dev", Console: &out})

	if err := svc.SendApplicationReceived(context.Background(), "ada@example.com", "Ada", "Intro to Go"); err != nil {
		t.Fatalf("SendApplicationReceived() error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"To: ada@example.com", "Subject: We received your MetaLearn tutor application", `teach "Intro to Go"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("console output missing %q:\n%s", want, got)
		}
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	svc := NewService(Config{Console: io.Discard})
	if err := svc.Send(context.Background(), Message{Subject: "hi"}); err == nil {
		t.Fatal("expected an error for a message without recipient")
	}
}

func TestSendGridDelivery(t *testing.T) {
	var body string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	svc := NewService(Config{SendGridAPIKey: "SG.test", From: "no-reply@metalearn.dev", FromName: "MetaLearn", Host: srv.URL})
	err := svc.SendApplicationDecision(context.Background(), "bo@example.com", ApplicationData{
		FullName:          "Bo",
		CourseTitle:       "Data Science",
		Status:            "approved",
		TemporaryPassword: "s3cret",
	})
	if err != nil {
		t.Fatalf("SendApplicationDecision() error = %v", err)
	}
	if auth != "Bearer SG.test" {
		t.Fatalf("Authorization = %q", auth)
	}
	for _, want := range []string{"bo@example.com", "Your MetaLearn tutor application was approved", "s3cret", "no-reply@metalearn.dev"} {
		if !strings.Contains(body, want) {
			t.Fatalf("request body missing %q:\n%s", want, body)
		}
	}
}

func TestSendGridErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	svc := NewService(Config{SendGridAPIKey: "SG.bad", From: "no-reply@metalearn.dev", Host: srv.URL})
	if err := svc.Send(context.Background(), Message{To: "a@example.com", Subject: "s", Text: "t"}); err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}
