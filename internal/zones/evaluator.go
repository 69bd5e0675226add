package zones

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crowdsight/crowdsight/internal/detection"
)

type insideKey struct {
	zoneID  string
	trackID uint64
}

// Result is the outcome of evaluating one frame's tracks against the zones
type Result struct {
	Events           []Event
	Overcapacity     []Overcapacity
	OccupancyChanged []*Zone
}

// Evaluator detects zone entry and exit events for one camera. It keeps a
// per-(track, zone) inside bit across frames; an event is emitted only on
// the transition edge. SetZones may be called from another goroutine while
// the camera worker is evaluating.
type Evaluator struct {
	cameraID string

	mu     sync.Mutex
	zones  []*Zone
	inside map[insideKey]bool

	logger *slog.Logger
}

// NewEvaluator creates a zone evaluator for a single camera
func NewEvaluator(cameraID string) *Evaluator {
	return &Evaluator{
		cameraID: cameraID,
		inside:   make(map[insideKey]bool),
		logger:   slog.Default().With("component", "zone_evaluator", "camera_id", cameraID),
	}
}

// SetZones replaces the zone snapshot. Inside bits for zones no longer
// present are discarded.
func (e *Evaluator) SetZones(zones []*Zone) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keep := make(map[string]bool, len(zones))
	for _, z := range zones {
		keep[z.ID] = true
	}
	for key := range e.inside {
		if !keep[key.zoneID] {
			delete(e.inside, key)
		}
	}
	e.zones = zones
}

// ResetMembership forgets which tracks are inside which zones, used when the
// camera worker re-initialises its stages and track identities restart.
// Zones and their occupancy are kept.
func (e *Evaluator) ResetMembership() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inside = make(map[insideKey]bool)
}

// Zones returns the current zone snapshot
func (e *Evaluator) Zones() []*Zone {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Zone, len(e.zones))
	copy(out, e.zones)
	return out
}

// Evaluate records zone membership for the confirmed tracks of one frame
// and returns the entry/exit events and occupancy changes it produced.
func (e *Evaluator) Evaluate(tracks []*detection.Track, ts time.Time) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	for _, zone := range e.zones {
		if zone.Status != StatusActive {
			continue
		}

		changed := false
		for _, tr := range tracks {
			x, y := tr.Box.BottomCenter()
			cur := zone.Polygon.ContainsPoint(Point{X: x, Y: y})

			key := insideKey{zoneID: zone.ID, trackID: tr.ID}
			prev := e.inside[key]

			switch {
			case cur && !prev:
				res.Events = append(res.Events, e.newEvent(zone, tr, EventEntry, ts))
				if zone.Type == ZoneEntry {
					zone.CurrentOccupancy++
					changed = true
				}
				e.inside[key] = true
			case !cur && prev:
				res.Events = append(res.Events, e.newEvent(zone, tr, EventExit, ts))
				if zone.Type == ZoneExit && zone.CurrentOccupancy > 0 {
					zone.CurrentOccupancy--
					changed = true
				}
				delete(e.inside, key)
			}
		}

		if changed {
			res.OccupancyChanged = append(res.OccupancyChanged, zone)
		}
		if zone.MaxCapacity > 0 && zone.CurrentOccupancy > zone.MaxCapacity {
			res.Overcapacity = append(res.Overcapacity, Overcapacity{
				ZoneID:      zone.ID,
				ZoneName:    zone.Name,
				CameraID:    zone.CameraID,
				Occupancy:   zone.CurrentOccupancy,
				MaxCapacity: zone.MaxCapacity,
			})
		}
	}

	return res
}

// HandleTerminated emits a synthetic exit for every zone a terminated track
// was still inside, so the entry/exit sequence for the pair stays closed.
func (e *Evaluator) HandleTerminated(terminated []*detection.Track, ts time.Time) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res Result
	for _, zone := range e.zones {
		changed := false
		for _, tr := range terminated {
			key := insideKey{zoneID: zone.ID, trackID: tr.ID}
			if !e.inside[key] {
				continue
			}
			res.Events = append(res.Events, e.newEvent(zone, tr, EventExit, ts))
			if zone.Type == ZoneExit && zone.CurrentOccupancy > 0 {
				zone.CurrentOccupancy--
				changed = true
			}
			delete(e.inside, key)
		}
		if changed {
			res.OccupancyChanged = append(res.OccupancyChanged, zone)
		}
	}

	return res
}

func (e *Evaluator) newEvent(zone *Zone, tr *detection.Track, kind string, ts time.Time) Event {
	ev := Event{
		ID:        uuid.New().String(),
		CameraID:  e.cameraID,
		ZoneID:    zone.ID,
		ZoneName:  zone.Name,
		TrackID:   tr.ID,
		Kind:      kind,
		Timestamp: ts,
	}
	if len(tr.Embedding) > 0 {
		ev.Embedding = make([]float64, len(tr.Embedding))
		copy(ev.Embedding, tr.Embedding)
	}
	return ev
}
