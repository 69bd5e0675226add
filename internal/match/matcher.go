package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/metrics"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// Matching defaults
const (
	DefaultWindow       = 10 * time.Minute
	DefaultSimThreshold = 0.70
)

// candidateLimit caps how many counterpart events one match considers.
const candidateLimit = 1000

// handleTimeout bounds the database work for one bus-delivered event.
const handleTimeout = 10 * time.Second

// Config tunes the matcher
type Config struct {
	// Window bounds how far from an event the matcher searches for its
	// counterpart on other cameras.
	Window time.Duration
	// SimThreshold is the minimum cosine similarity for a match.
	SimThreshold float64
}

// DefaultConfig returns the default matcher configuration
func DefaultConfig() Config {
	return Config{
		Window:       DefaultWindow,
		SimThreshold: DefaultSimThreshold,
	}
}

// Matcher links zone events across cameras by embedding similarity. Each
// persisted entry event is matched against recent exits on other cameras;
// each exit is matched against later entries, so a pair is found no matter
// which side is processed last.
type Matcher struct {
	events    *zones.Store
	movements *Store
	cfg       Config
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewMatcher creates a matcher reading candidate events from events and
// recording matches in movements
func NewMatcher(events *zones.Store, movements *Store, cfg Config, collector *metrics.Collector) *Matcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SimThreshold <= 0 {
		cfg.SimThreshold = DefaultSimThreshold
	}
	return &Matcher{
		events:    events,
		movements: movements,
		cfg:       cfg,
		metrics:   collector,
		logger:    slog.Default().With("component", "matcher"),
	}
}

// HandleMsg adapts bus messages carrying zone events to HandleEvent, for
// wiring as a subscription handler.
func (m *Matcher) HandleMsg(msg *nats.Msg) {
	var event zones.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("failed to decode zone event", "subject", msg.Subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if _, err := m.HandleEvent(ctx, &event); err != nil {
		m.logger.Error("failed to match zone event", "event_id", event.ID, "error", err)
	}
}

// HandleEvent searches other cameras for the counterpart of one persisted
// zone event and records the best match as a movement. An entry event looks
// back over the window for the exit that preceded it; an exit looks ahead
// for the entry that follows. Returns nil when the event carries no
// embedding or no candidate clears the similarity threshold.
func (m *Matcher) HandleEvent(ctx context.Context, event *zones.Event) (*Movement, error) {
	if event == nil || len(event.Embedding) == 0 {
		return nil, nil
	}

	filter := zones.EventFilter{
		ExcludeCameraID: event.CameraID,
		WithEmbeddings:  true,
		Limit:           candidateLimit,
	}
	switch event.Kind {
	case zones.EventEntry:
		filter.Kind = zones.EventExit
		filter.Since = event.Timestamp.Add(-m.cfg.Window)
		filter.Until = event.Timestamp
	case zones.EventExit:
		filter.Kind = zones.EventEntry
		filter.Since = event.Timestamp
		filter.Until = event.Timestamp.Add(m.cfg.Window)
	default:
		return nil, nil
	}

	candidates, err := m.events.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate events: %w", err)
	}

	best, similarity := m.pickBest(event, candidates)
	if best == nil {
		return nil, nil
	}

	movement := buildMovement(event, best, similarity)
	applied, err := m.movements.Upsert(ctx, movement)
	if err != nil {
		return nil, err
	}
	if applied {
		m.metrics.MovementsMatched.Inc()
		m.logger.Info("cross-camera movement matched",
			"exit_camera", movement.ExitCameraID,
			"entry_camera", movement.EntryCameraID,
			"similarity", movement.Similarity,
			"confidence", movement.Confidence,
			"duration_s", movement.DurationS)
	}
	return movement, nil
}

// pickBest returns the candidate with the highest similarity at or above
// the threshold, breaking ties by the smaller time gap.
func (m *Matcher) pickBest(event *zones.Event, candidates []*zones.Event) (*zones.Event, float64) {
	var best *zones.Event
	var bestSim float64
	var bestGap time.Duration

	for _, cand := range candidates {
		if cand.CameraID == event.CameraID {
			continue
		}
		// The stored window is inclusive on both ends. The event's own
		// instant belongs to the side it was observed on, so an exact
		// timestamp collision is not a valid counterpart.
		if event.Kind == zones.EventEntry && !cand.Timestamp.Before(event.Timestamp) {
			continue
		}
		if event.Kind == zones.EventExit && !cand.Timestamp.After(event.Timestamp) {
			continue
		}

		sim := detection.Cosine(event.Embedding, cand.Embedding)
		if sim < m.cfg.SimThreshold {
			continue
		}

		gap := event.Timestamp.Sub(cand.Timestamp)
		if gap < 0 {
			gap = -gap
		}
		if best == nil || sim > bestSim || (sim == bestSim && gap < bestGap) {
			best, bestSim, bestGap = cand, sim, gap
		}
	}
	return best, bestSim
}

// buildMovement orients the matched pair so the exit precedes the entry.
func buildMovement(event, counterpart *zones.Event, similarity float64) *Movement {
	entry, exit := event, counterpart
	if event.Kind == zones.EventExit {
		entry, exit = counterpart, event
	}
	return &Movement{
		ID:            uuid.New().String(),
		EntryCameraID: entry.CameraID,
		EntryZoneID:   entry.ZoneID,
		EntryTrackID:  entry.TrackID,
		EntryTime:     entry.Timestamp,
		ExitCameraID:  exit.CameraID,
		ExitZoneID:    exit.ZoneID,
		ExitTrackID:   exit.TrackID,
		ExitTime:      exit.Timestamp,
		Similarity:    similarity,
		Confidence:    ConfidenceFor(similarity),
		DurationS:     entry.Timestamp.Sub(exit.Timestamp).Seconds(),
	}
}
