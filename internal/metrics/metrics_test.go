package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("main", "GET", "/courses", "200"))
	RecordHTTPRequest("main", "GET", "/courses", 200, 12*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("main", "GET", "/courses", "200"))
	if after != before+1 {
		t.Fatalf("requests counter = %v, want %v", after, before+1)
	}

	RecordHTTPRequest("main", "GET", "", 404, time.Millisecond)
	if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("main", "GET", "unmatched", "404")); got < 1 {
		t.Fatalf("expected unmatched route to be counted, got %v", got)
	}
}

func TestRecordAuthEventOutcome(t *testing.T) {
	success := testutil.ToFloat64(AuthEvents.WithLabelValues("login", "success"))
	failure := testutil.ToFloat64(AuthEvents.WithLabelValues("login", "failure"))

	RecordAuthEvent("login", nil)
	RecordAuthEvent("login", errors.New("bad password"))

	if got := testutil.ToFloat64(AuthEvents.WithLabelValues("login", "success")); got != success+1 {
		t.Fatalf("success = %v, want %v", got, success+1)
	}
	if got := testutil.ToFloat64(AuthEvents.WithLabelValues("login", "failure")); got != failure+1 {
		t.Fatalf("failure = %v, want %v", got, failure+1)
	}
}

func TestRecordActivityEvent(t *testing.T) {
	before := testutil.ToFloat64(ActivityEvents.WithLabelValues("video.play"))
	RecordActivityEvent("video.play")
	if got := testutil.ToFloat64(ActivityEvents.WithLabelValues("video.play")); got != before+1 {
		t.Fatalf("activity counter = %v, want %v", got, before+1)
	}
}
