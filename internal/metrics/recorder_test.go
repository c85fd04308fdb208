package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveOutcomeCountsByLabel(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveOutcome("greenhouses.create", greenhouses.OutcomeConfirmed)
	recorder.ObserveOutcome("greenhouses.create", greenhouses.OutcomeLocalOnly)
	recorder.ObserveOutcome("greenhouses.create", greenhouses.OutcomeLocalOnly)
	recorder.ObserveOutcome("", greenhouses.OutcomeConfirmed)

	if got := testutil.ToFloat64(recorder.operations.WithLabelValues("greenhouses.create", "local_only")); got != 2 {
		t.Fatalf("expected 2 local-only creates, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.operations.WithLabelValues("greenhouses.create", "confirmed")); got != 1 {
		t.Fatalf("expected 1 confirmed create, got %v", got)
	}
	if count := testutil.CollectAndCount(recorder.operations); count != 2 {
		t.Fatalf("expected 2 label sets, got %d", count)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	recorder := NewRecorder()
	recorder.ObserveOutcome("greenhouses.delete", greenhouses.OutcomeConfirmed)
	recorder.ObserveRequest("/greenhouses", http.MethodGet, http.StatusOK, 15*time.Millisecond)

	server := httptest.NewServer(recorder.Handler())
	defer server.Close()
	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	text := string(body)
	for _, want := range []string{
		`greenhouse_operations_total{operation="greenhouses.delete",outcome="confirmed"} 1`,
		`greenhouse_http_request_duration_seconds_count{method="GET",route="/greenhouses",status="200"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, text)
		}
	}
}
