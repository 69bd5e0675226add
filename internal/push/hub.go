// Package push fans metrics and alert events out to connected dashboard
// subscribers with per-subscriber buffering and drop accounting.
//
// Topics are event-bus subjects: one stream per camera for metric envelopes
// and a global stream for alerts. Delivery is at most once and ordered per
// subscriber. Producers never block on subscribers; a subscriber whose buffer
// stays full is disconnected.
package push

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/crowdsight/crowdsight/internal/metrics"
)

// Delivery policy defaults.
const (
	DefaultBufferSize          = 256
	DefaultSendDeadline        = time.Second
	DefaultMaxConsecutiveDrops = 3
)

// Config controls per-subscriber buffering and the drop policy.
type Config struct {
	// BufferSize is the number of events queued per subscriber before new
	// events for that subscriber are dropped.
	BufferSize int
	// SendDeadline bounds a single write on the subscriber's transport.
	// The hub itself never waits; connection pumps apply it per message.
	SendDeadline time.Duration
	// MaxConsecutiveDrops disconnects a subscriber once this many events
	// in a row were dropped for it.
	MaxConsecutiveDrops int
}

// DefaultConfig returns the delivery policy used in production.
func DefaultConfig() Config {
	return Config{
		BufferSize:          DefaultBufferSize,
		SendDeadline:        DefaultSendDeadline,
		MaxConsecutiveDrops: DefaultMaxConsecutiveDrops,
	}
}

// Subscriber is one registered consumer of a single topic. Events are read
// from C; the channel is closed when the subscriber unsubscribes or the drop
// policy disconnects it.
type Subscriber struct {
	topic string
	ch    chan []byte

	// Guarded by the hub mutex.
	drops  int
	closed bool
}

// C returns the subscriber's event stream.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Topic returns the topic the subscriber is registered on.
func (s *Subscriber) Topic() string { return s.topic }

// Hub owns the subscriber registry and applies the delivery policy.
type Hub struct {
	cfg     Config
	metrics *metrics.Collector
	logger  *slog.Logger

	mu     sync.Mutex
	topics map[string]map[*Subscriber]struct{}
}

// NewHub creates a hub with the given policy. Zero or negative config values
// fall back to the defaults.
func NewHub(cfg Config, mc *metrics.Collector) *Hub {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SendDeadline <= 0 {
		cfg.SendDeadline = def.SendDeadline
	}
	if cfg.MaxConsecutiveDrops <= 0 {
		cfg.MaxConsecutiveDrops = def.MaxConsecutiveDrops
	}
	return &Hub{
		cfg:     cfg,
		metrics: mc,
		logger:  slog.Default().With("component", "push"),
		topics:  make(map[string]map[*Subscriber]struct{}),
	}
}

// Config returns the delivery policy the hub was built with.
func (h *Hub) Config() Config {
	return h.cfg
}

// Subscribe registers a consumer for one topic.
func (h *Hub) Subscribe(topic string) *Subscriber {
	sub := &Subscriber{topic: topic, ch: make(chan []byte, h.cfg.BufferSize)}

	h.mu.Lock()
	set := h.topics[topic]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.topics[topic] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.PushClients.WithLabelValues(channelOf(topic)).Inc()
	return sub
}

// Unsubscribe removes the subscriber and closes its stream. Calling it for a
// subscriber the hub already disconnected is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	h.remove(sub)
}

// remove is called with the hub mutex held.
func (h *Hub) remove(sub *Subscriber) {
	sub.closed = true
	close(sub.ch)
	if set, ok := h.topics[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.metrics.PushClients.WithLabelValues(channelOf(sub.topic)).Dec()
}

// Publish fans payload out to every subscriber of topic without blocking.
// A subscriber with a full buffer loses the payload; after
// MaxConsecutiveDrops losses in a row the subscriber is disconnected. A
// delivered payload resets the run.
func (h *Hub) Publish(topic string, payload []byte) {
	channel := channelOf(topic)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- payload:
			sub.drops = 0
		default:
			sub.drops++
			h.metrics.PushDropped.WithLabelValues(channel).Inc()
			if sub.drops >= h.cfg.MaxConsecutiveDrops {
				h.logger.Warn("push subscriber disconnected",
					"topic", topic,
					"consecutive_drops", sub.drops)
				h.remove(sub)
			}
		}
	}
}

// HandleMsg bridges an event-bus message into the hub. It is registered as
// the callback for the metrics and alerts subjects.
func (h *Hub) HandleMsg(msg *nats.Msg) {
	h.Publish(msg.Subject, msg.Data)
}

// SubscriberCount reports the number of subscribers on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.topics {
		for sub := range set {
			sub.closed = true
			close(sub.ch)
			h.metrics.PushClients.WithLabelValues(channelOf(sub.topic)).Dec()
		}
	}
	h.topics = make(map[string]map[*Subscriber]struct{})
}

// channelOf collapses per-camera topics into one metrics label, so the
// counters stay keyed by stream kind rather than by camera.
func channelOf(topic string) string {
	if i := strings.IndexByte(topic, '.'); i >= 0 {
		return topic[:i]
	}
	return topic
}
