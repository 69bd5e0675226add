package push

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/crowdsight/crowdsight/internal/metrics"
)

func newTestHub(t *testing.T, cfg Config) (*Hub, *metrics.Collector) {
	t.Helper()
	mc := metrics.NewCollector()
	return NewHub(cfg, mc), mc
}

func recvPayload(t *testing.T, sub *Subscriber) string {
	t.Helper()
	select {
	case p, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber stream closed")
		}
		return string(p)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
	}
	return ""
}

func requireClosed(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case p, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed stream, got payload %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber stream still open")
	}
}

func scrape(t *testing.T, mc *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	mc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestHubDeliversInOrder(t *testing.T) {
	h, _ := newTestHub(t, DefaultConfig())
	sub := h.Subscribe("alerts")

	for i := 0; i < 5; i++ {
		h.Publish("alerts", []byte(fmt.Sprintf("alert-%d", i)))
	}
	for i := 0; i < 5; i++ {
		if got, want := recvPayload(t, sub), fmt.Sprintf("alert-%d", i); got != want {
			t.Fatalf("payload %d = %q, want %q", i, got, want)
		}
	}
}

func TestHubIsolatesTopics(t *testing.T) {
	h, _ := newTestHub(t, DefaultConfig())
	dash := h.Subscribe("metrics.cam-1")
	alerts := h.Subscribe("alerts")

	h.Publish("metrics.cam-1", []byte("sample"))

	if got := recvPayload(t, dash); got != "sample" {
		t.Fatalf("dashboard payload = %q, want %q", got, "sample")
	}
	select {
	case p := <-alerts.C():
		t.Fatalf("alerts subscriber received %q for a metrics topic", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h, mc := newTestHub(t, Config{BufferSize: 2, MaxConsecutiveDrops: 10})
	sub := h.Subscribe("alerts")

	for i := 0; i < 5; i++ {
		h.Publish("alerts", []byte(fmt.Sprintf("alert-%d", i)))
	}

	// The first two fill the buffer, the remaining three are lost.
	if got := recvPayload(t, sub); got != "alert-0" {
		t.Fatalf("first payload = %q, want alert-0", got)
	}
	if got := recvPayload(t, sub); got != "alert-1" {
		t.Fatalf("second payload = %q, want alert-1", got)
	}
	if h.SubscriberCount("alerts") != 1 {
		t.Fatal("subscriber should survive drops below the disconnect threshold")
	}
	if body := scrape(t, mc); !strings.Contains(body, `crowdsight_push_dropped_total{channel="alerts"} 3`) {
		t.Errorf("exposition missing alerts drop count 3:\n%s", body)
	}
}

func TestHubDisconnectsAfterConsecutiveDrops(t *testing.T) {
	h, _ := newTestHub(t, Config{BufferSize: 1, MaxConsecutiveDrops: 3})
	sub := h.Subscribe("alerts")

	for i := 0; i < 4; i++ {
		h.Publish("alerts", []byte(fmt.Sprintf("alert-%d", i)))
	}

	if got := h.SubscriberCount("alerts"); got != 0 {
		t.Fatalf("subscriber count = %d, want 0 after disconnect", got)
	}
	// The buffered payload is still readable, then the stream ends.
	if got := recvPayload(t, sub); got != "alert-0" {
		t.Fatalf("buffered payload = %q, want alert-0", got)
	}
	requireClosed(t, sub)

	// Unsubscribing a disconnected subscriber is a no-op.
	h.Unsubscribe(sub)
}

func TestHubDeliveryResetsDropRun(t *testing.T) {
	h, _ := newTestHub(t, Config{BufferSize: 1, MaxConsecutiveDrops: 3})
	sub := h.Subscribe("alerts")

	h.Publish("alerts", []byte("a"))
	h.Publish("alerts", []byte("b")) // dropped, run 1
	h.Publish("alerts", []byte("c")) // dropped, run 2
	if got := recvPayload(t, sub); got != "a" {
		t.Fatalf("payload = %q, want a", got)
	}
	h.Publish("alerts", []byte("d")) // delivered, run resets
	h.Publish("alerts", []byte("e")) // dropped, run 1
	h.Publish("alerts", []byte("f")) // dropped, run 2

	if got := h.SubscriberCount("alerts"); got != 1 {
		t.Fatalf("subscriber count = %d, want 1: four total drops but never three in a row", got)
	}
	if got := recvPayload(t, sub); got != "d" {
		t.Fatalf("payload = %q, want d", got)
	}
}

func TestHubStalledSubscriberCatchesUp(t *testing.T) {
	h, _ := newTestHub(t, Config{BufferSize: 8, MaxConsecutiveDrops: 3})
	sub := h.Subscribe("alerts")

	// Ten alerts land while the subscriber is stalled. Eight queue up and
	// two are lost, one short of the disconnect threshold.
	for i := 0; i < 10; i++ {
		h.Publish("alerts", []byte(fmt.Sprintf("alert-%d", i)))
	}
	if got := h.SubscriberCount("alerts"); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	for i := 0; i < 8; i++ {
		if got, want := recvPayload(t, sub), fmt.Sprintf("alert-%d", i); got != want {
			t.Fatalf("backlog payload %d = %q, want %q", i, got, want)
		}
	}
	h.Publish("alerts", []byte("alert-10"))
	if got := recvPayload(t, sub); got != "alert-10" {
		t.Fatalf("post-stall payload = %q, want alert-10", got)
	}
}

func TestHubHandleMsgBridgesSubjects(t *testing.T) {
	h, _ := newTestHub(t, DefaultConfig())
	sub := h.Subscribe("metrics.cam-1")

	h.HandleMsg(&nats.Msg{Subject: "metrics.cam-1", Data: []byte(`{"people_count":4}`)})

	if got := recvPayload(t, sub); got != `{"people_count":4}` {
		t.Fatalf("bridged payload = %q", got)
	}
}

func TestHubUnsubscribeTracksGauge(t *testing.T) {
	h, mc := newTestHub(t, DefaultConfig())
	a := h.Subscribe("alerts")
	b := h.Subscribe("alerts")

	if body := scrape(t, mc); !strings.Contains(body, `crowdsight_push_clients{channel="alerts"} 2`) {
		t.Errorf("exposition missing client gauge 2:\n%s", body)
	}

	h.Unsubscribe(a)
	h.Unsubscribe(a) // repeat is a no-op
	requireClosed(t, a)

	if body := scrape(t, mc); !strings.Contains(body, `crowdsight_push_clients{channel="alerts"} 1`) {
		t.Errorf("exposition missing client gauge 1:\n%s", body)
	}

	h.Publish("alerts", []byte("still-delivered"))
	if got := recvPayload(t, b); got != "still-delivered" {
		t.Fatalf("payload = %q, want still-delivered", got)
	}
}

func TestHubCloseDisconnectsAll(t *testing.T) {
	h, _ := newTestHub(t, DefaultConfig())
	a := h.Subscribe("alerts")
	b := h.Subscribe("metrics.cam-1")

	h.Close()

	requireClosed(t, a)
	requireClosed(t, b)
	if got := h.SubscriberCount("alerts"); got != 0 {
		t.Fatalf("subscriber count = %d, want 0 after close", got)
	}

	// Publishing into a closed hub is harmless.
	h.Publish("alerts", []byte("late"))
}
