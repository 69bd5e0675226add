// Package frames buffers recent processed frames and renders annotated
// JPEG/PNG views of them for streaming and snapshots.
package frames

import (
	"image"
	"sync"
	"time"

	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/detection"
)

const (
	// DefaultCapacity is how many frames are kept per camera.
	DefaultCapacity = 10
	// DefaultTTL is how long a cached frame stays servable.
	DefaultTTL = 5 * time.Second
)

// Entry is one processed frame together with the pipeline outputs
// needed to annotate it later.
type Entry struct {
	Seq        uint64
	Image      image.Image
	Detections []detection.Detection
	Tracks     []*detection.Track
	Sample     *analytics.Sample
	Timestamp  time.Time
}

// Cache holds the most recent frames per camera. Entries expire after the
// TTL; expired entries are swept on every put and never returned by Latest.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu    sync.RWMutex
	rings map[string]*ring
}

// ring is a fixed-size circular buffer for one camera's frames.
type ring struct {
	mu      sync.Mutex
	entries []Entry
	head    int
	tail    int
	count   int
}

// NewCache creates a frame cache. Non-positive arguments fall back to the
// defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		rings:    make(map[string]*ring),
	}
}

// Put stores a frame for a camera, overwriting the oldest entry when the
// camera's buffer is full, and sweeps expired entries.
func (c *Cache) Put(cameraID string, entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	r := c.ringFor(cameraID)

	r.mu.Lock()
	r.entries[r.head] = entry
	r.head = (r.head + 1) % c.capacity
	if r.count < c.capacity {
		r.count++
	} else {
		r.tail = (r.tail + 1) % c.capacity
	}
	r.evict(time.Now().Add(-c.ttl), c.capacity)
	r.mu.Unlock()
}

// Latest returns the newest unexpired frame for a camera.
func (c *Cache) Latest(cameraID string) (Entry, bool) {
	c.mu.RLock()
	r := c.rings[cameraID]
	c.mu.RUnlock()
	if r == nil {
		return Entry{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return Entry{}, false
	}
	newest := r.entries[(r.head-1+c.capacity)%c.capacity]
	if time.Since(newest.Timestamp) > c.ttl {
		return Entry{}, false
	}
	return newest, true
}

// Count returns the number of buffered frames for a camera.
func (c *Cache) Count(cameraID string) int {
	c.mu.RLock()
	r := c.rings[cameraID]
	c.mu.RUnlock()
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// EvictExpired sweeps expired frames for all cameras and drops buffers that
// end up empty.
func (c *Cache) EvictExpired() {
	cutoff := time.Now().Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	for cameraID, r := range c.rings {
		r.mu.Lock()
		r.evict(cutoff, c.capacity)
		empty := r.count == 0
		r.mu.Unlock()
		if empty {
			delete(c.rings, cameraID)
		}
	}
}

// ringFor returns the camera's buffer, creating it on first use.
func (c *Cache) ringFor(cameraID string) *ring {
	c.mu.RLock()
	r := c.rings[cameraID]
	c.mu.RUnlock()
	if r != nil {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r = c.rings[cameraID]; r == nil {
		r = &ring{entries: make([]Entry, c.capacity)}
		c.rings[cameraID] = r
	}
	return r
}

// evict drops entries at or before the cutoff. Caller holds r.mu.
func (r *ring) evict(cutoff time.Time, capacity int) {
	for r.count > 0 {
		if r.entries[r.tail].Timestamp.After(cutoff) {
			break
		}
		r.entries[r.tail] = Entry{}
		r.tail = (r.tail + 1) % capacity
		r.count--
	}
}
