package frames

import (
	"image"
	"sync"
	"testing"
	"time"
)

func blankFrame(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestCacheLatestReturnsNewest(t *testing.T) {
	cache := NewCache(10, time.Minute)

	for seq := uint64(1); seq <= 3; seq++ {
		cache.Put("cam-1", Entry{Seq: seq, Image: blankFrame(4, 4), Timestamp: time.Now()})
	}

	entry, ok := cache.Latest("cam-1")
	if !ok {
		t.Fatal("Latest() returned no entry")
	}
	if entry.Seq != 3 {
		t.Errorf("Latest() seq = %d, want 3", entry.Seq)
	}
}

func TestCacheUnknownCamera(t *testing.T) {
	cache := NewCache(10, time.Minute)
	if _, ok := cache.Latest("nope"); ok {
		t.Error("Latest() on unknown camera returned an entry")
	}
}

func TestCacheOverwritesOldestWhenFull(t *testing.T) {
	cache := NewCache(3, time.Minute)

	for seq := uint64(1); seq <= 5; seq++ {
		cache.Put("cam-1", Entry{Seq: seq, Timestamp: time.Now()})
	}

	if got := cache.Count("cam-1"); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	entry, ok := cache.Latest("cam-1")
	if !ok || entry.Seq != 5 {
		t.Errorf("Latest() = (%d, %v), want (5, true)", entry.Seq, ok)
	}
}

func TestCachePutSweepsExpired(t *testing.T) {
	cache := NewCache(10, 100*time.Millisecond)

	old := time.Now().Add(-200 * time.Millisecond)
	cache.Put("cam-1", Entry{Seq: 1, Timestamp: old})
	cache.Put("cam-1", Entry{Seq: 2, Timestamp: old})
	cache.Put("cam-1", Entry{Seq: 3, Timestamp: time.Now()})

	if got := cache.Count("cam-1"); got != 1 {
		t.Errorf("Count() after sweep = %d, want 1", got)
	}
	entry, ok := cache.Latest("cam-1")
	if !ok || entry.Seq != 3 {
		t.Errorf("Latest() = (%d, %v), want (3, true)", entry.Seq, ok)
	}
}

func TestCacheLatestExpiresAfterTTL(t *testing.T) {
	cache := NewCache(10, 20*time.Millisecond)

	cache.Put("cam-1", Entry{Seq: 1, Timestamp: time.Now()})
	if _, ok := cache.Latest("cam-1"); !ok {
		t.Fatal("fresh entry not returned")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := cache.Latest("cam-1"); ok {
		t.Error("expired entry still returned")
	}
}

func TestCacheEvictExpiredDropsEmptyCameras(t *testing.T) {
	cache := NewCache(10, 20*time.Millisecond)

	cache.Put("cam-1", Entry{Seq: 1, Timestamp: time.Now()})
	cache.Put("cam-2", Entry{Seq: 1, Timestamp: time.Now()})

	time.Sleep(40 * time.Millisecond)
	cache.EvictExpired()

	if got := cache.Count("cam-1"); got != 0 {
		t.Errorf("cam-1 count after eviction = %d, want 0", got)
	}
	if got := cache.Count("cam-2"); got != 0 {
		t.Errorf("cam-2 count after eviction = %d, want 0", got)
	}
}

func TestCacheCamerasIsolated(t *testing.T) {
	cache := NewCache(10, time.Minute)

	cache.Put("cam-1", Entry{Seq: 7, Timestamp: time.Now()})
	cache.Put("cam-2", Entry{Seq: 9, Timestamp: time.Now()})

	a, _ := cache.Latest("cam-1")
	b, _ := cache.Latest("cam-2")
	if a.Seq != 7 || b.Seq != 9 {
		t.Errorf("Latest() per camera = %d, %d, want 7, 9", a.Seq, b.Seq)
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	cache := NewCache(10, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			cam := "cam-1"
			if id%2 == 0 {
				cam = "cam-2"
			}
			for seq := uint64(0); seq < 100; seq++ {
				cache.Put(cam, Entry{Seq: seq, Timestamp: time.Now()})
				cache.Latest(cam)
			}
		}(i)
	}
	wg.Wait()

	if got := cache.Count("cam-1"); got == 0 || got > 10 {
		t.Errorf("Count() after concurrent writes = %d, want 1..10", got)
	}
}
