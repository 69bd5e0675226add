package detection

import (
	"log/slog"
	"math"
	"sort"
	"time"
)

// TrackerConfig holds tracker parameters
type TrackerConfig struct {
	IoUThreshold float64
	MinHits      int
	MaxAge       int
}

// DefaultTrackerConfig returns the default tracker parameters
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		IoUThreshold: 0.5,
		MinHits:      3,
		MaxAge:       30,
	}
}

// Tracker associates detections with persistent per-camera track IDs using
// two-stage IoU matching: previously confirmed tracks are matched first,
// then tentative ones against the remaining detections. State is private to
// one camera worker; the type is not safe for concurrent use.
type Tracker struct {
	cameraID string
	cfg      TrackerConfig
	nextID   uint64
	tracks   []*Track
	logger   *slog.Logger
}

// NewTracker creates a tracker for a single camera
func NewTracker(cameraID string, cfg TrackerConfig) *Tracker {
	if cfg.IoUThreshold == 0 {
		cfg.IoUThreshold = 0.5
	}
	if cfg.MinHits == 0 {
		cfg.MinHits = 3
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 30
	}
	return &Tracker{
		cameraID: cameraID,
		cfg:      cfg,
		nextID:   1,
		logger:   slog.Default().With("component", "tracker", "camera_id", cameraID),
	}
}

// Update advances the tracker by one frame. It returns the confirmed tracks
// visible in this frame and the tracks terminated during this update.
func (t *Tracker) Update(detections []Detection, ts time.Time) (confirmed, terminated []*Track) {
	matchedDet := make([]bool, len(detections))

	// Stage 1: previously confirmed (and lost) tracks.
	var primary, secondary []*Track
	for _, tr := range t.tracks {
		if tr.State == TrackConfirmed || tr.State == TrackLost {
			primary = append(primary, tr)
		} else {
			secondary = append(secondary, tr)
		}
	}

	matchedTracks := make(map[uint64]bool)
	t.matchGroup(primary, detections, matchedDet, matchedTracks, ts)
	// Stage 2: tentative tracks against the remaining detections.
	t.matchGroup(secondary, detections, matchedDet, matchedTracks, ts)

	// Unmatched tracks age; terminated ones leave the active set.
	survivors := t.tracks[:0]
	for _, tr := range t.tracks {
		if matchedTracks[tr.ID] {
			survivors = append(survivors, tr)
			continue
		}
		tr.Misses++
		if tr.Misses >= t.cfg.MaxAge {
			tr.State = TrackTerminated
			terminated = append(terminated, tr)
			continue
		}
		if tr.State == TrackConfirmed {
			tr.State = TrackLost
		}
		survivors = append(survivors, tr)
	}
	t.tracks = survivors

	// Unmatched detections start new tentative tracks.
	for i, det := range detections {
		if matchedDet[i] {
			continue
		}
		tr := &Track{
			ID:            t.nextID,
			CameraID:      t.cameraID,
			State:         TrackTentative,
			Box:           det.Box,
			FirstSeen:     ts,
			LastSeen:      ts,
			TotalFrames:   1,
			AvgConfidence: det.Confidence,
		}
		t.nextID++
		if t.cfg.MinHits <= 1 {
			tr.State = TrackConfirmed
		}
		t.tracks = append(t.tracks, tr)
	}

	for _, tr := range t.tracks {
		if tr.State == TrackConfirmed && tr.LastSeen.Equal(ts) {
			confirmed = append(confirmed, tr)
		}
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].ID < confirmed[j].ID })

	return confirmed, terminated
}

// candidate is one (track, detection) pair under consideration
type candidate struct {
	trackIdx int
	detIdx   int
	iou      float64
}

// matchGroup greedily assigns detections to the given tracks by descending
// IoU; ties break on higher detection confidence, then lower track ID.
func (t *Tracker) matchGroup(tracks []*Track, detections []Detection, matchedDet []bool, matchedTracks map[uint64]bool, ts time.Time) {
	if len(tracks) == 0 || len(detections) == 0 {
		return
	}

	var candidates []candidate
	for ti, tr := range tracks {
		for di, det := range detections {
			if matchedDet[di] {
				continue
			}
			iou := tr.Box.IoU(det.Box)
			if iou >= t.cfg.IoUThreshold {
				candidates = append(candidates, candidate{trackIdx: ti, detIdx: di, iou: iou})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.iou != b.iou {
			return a.iou > b.iou
		}
		ca, cb := detections[a.detIdx].Confidence, detections[b.detIdx].Confidence
		if ca != cb {
			return ca > cb
		}
		return tracks[a.trackIdx].ID < tracks[b.trackIdx].ID
	})

	for _, c := range candidates {
		tr := tracks[c.trackIdx]
		if matchedTracks[tr.ID] || matchedDet[c.detIdx] {
			continue
		}
		matchedTracks[tr.ID] = true
		matchedDet[c.detIdx] = true
		t.applyMatch(tr, detections[c.detIdx], ts)
	}
}

// applyMatch updates a track with its matched detection
func (t *Tracker) applyMatch(tr *Track, det Detection, ts time.Time) {
	prevCX, prevCY := tr.Box.Center()
	curCX, curCY := det.Box.Center()

	dt := ts.Sub(tr.LastSeen).Seconds()
	if dt > 0 {
		tr.PrevSpeed = tr.Speed
		tr.VX = (curCX - prevCX) / dt
		tr.VY = (curCY - prevCY) / dt
		tr.Speed = math.Hypot(tr.VX, tr.VY)
	}

	tr.Box = det.Box
	tr.TotalFrames++
	tr.AvgConfidence += (det.Confidence - tr.AvgConfidence) / float64(tr.TotalFrames)
	tr.LastSeen = ts
	tr.Misses = 0

	switch tr.State {
	case TrackTentative:
		if tr.TotalFrames >= t.cfg.MinHits {
			tr.State = TrackConfirmed
		}
	case TrackLost:
		tr.State = TrackConfirmed
	}
}

// ActiveTracks returns all non-terminated tracks
func (t *Tracker) ActiveTracks() []*Track {
	out := make([]*Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// Reset discards all tracker state. Track IDs keep increasing so a
// re-initialised stage never reuses an ID.
func (t *Tracker) Reset() {
	t.tracks = nil
}
