package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorExposesCounters(t *testing.T) {
	c := NewCollector()
	c.FramesReceived.WithLabelValues("cam-1").Add(3)
	c.FramesDropped.WithLabelValues("cam-1").Inc()
	c.PushDropped.WithLabelValues("alerts").Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`crowdsight_frames_received_total{camera_id="cam-1"} 3`,
		`crowdsight_frames_dropped_total{camera_id="cam-1"} 1`,
		`crowdsight_push_dropped_total{channel="alerts"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCollectorsUseIsolatedRegistries(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.FramesReceived.WithLabelValues("cam-1").Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if strings.Contains(rec.Body.String(), `camera_id="cam-1"`) {
		t.Error("collectors must not share state")
	}
}
