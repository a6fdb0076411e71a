package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/screenlink/screenlink/internal/signal"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(EventPollCycle)
	m.Add(MessageEvent(signal.KindOffer), 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE screenlink_agent_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `screenlink_agent_events_total{event="message_offer"} 2`) {
		t.Fatalf("missing message counter: %s", body)
	}
	if !strings.Contains(body, `screenlink_agent_events_total{event="poll_cycle"} 1`) {
		t.Fatalf("missing poll counter: %s", body)
	}
	// Label escaping must match Prometheus text format rules.
	if !strings.Contains(body, `screenlink_agent_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(EventPollCycle)
	if got := m.Get(EventPollCycle); got != 0 {
		t.Fatalf("get on nil registry=%d, want 0", got)
	}
	if snap := m.Snapshot(); snap != nil {
		t.Fatalf("snapshot on nil registry=%v, want nil", snap)
	}
}
