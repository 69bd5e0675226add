// Package pipeline owns the per-camera processing loop: admission of
// incoming frames into a bounded queue, and the single worker per camera
// that runs the stage graph turning a JPEG into tracks, zone events,
// analytics samples, and alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crowdsight/crowdsight/internal/alerts"
	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/frames"
	"github.com/crowdsight/crowdsight/internal/metrics"
	"github.com/crowdsight/crowdsight/internal/zones"
)

const (
	// DefaultQueueSize bounds the per-camera frame queue.
	DefaultQueueSize = 10
	// DefaultConfThreshold is the minimum detection confidence kept.
	DefaultConfThreshold = 0.5
	// DefaultNMSIoU is the non-maximum suppression overlap threshold.
	DefaultNMSIoU = 0.4
	// DefaultTouchInterval paces camera liveness updates.
	DefaultTouchInterval = time.Second

	// frameTimeout bounds the stage graph for a single frame.
	frameTimeout = 10 * time.Second
)

// ErrStaleFrame rejects a frame at or behind the camera's newest accepted
// frame id.
var ErrStaleFrame = errors.New("stale frame id")

// ErrStopped rejects frames submitted after Shutdown.
var ErrStopped = errors.New("pipeline coordinator stopped")

// Publisher is the slice of the event bus the pipeline publishes on. Tests
// substitute a recording fake.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Config holds the per-camera stage tuning shared by all pipelines.
type Config struct {
	QueueSize     int
	ConfThreshold float64
	NMSIoU        float64
	Tracker       detection.TrackerConfig
	ReIDAlpha     float64
	Engine        analytics.EngineConfig
	// TouchInterval paces last_frame_time updates in the camera registry.
	TouchInterval time.Duration
}

// DefaultConfig returns the production pipeline tuning.
func DefaultConfig() Config {
	return Config{
		QueueSize:     DefaultQueueSize,
		ConfThreshold: DefaultConfThreshold,
		NMSIoU:        DefaultNMSIoU,
		Tracker:       detection.DefaultTrackerConfig(),
		ReIDAlpha:     detection.EmbeddingAlpha,
		Engine:        analytics.DefaultEngineConfig(),
		TouchInterval: DefaultTouchInterval,
	}
}

// Deps are the shared services every camera pipeline writes into.
type Deps struct {
	Detector  detection.Detector
	Zones     *zones.Store
	Analytics *analytics.Store
	Writer    *analytics.Writer
	Alerts    *alerts.Store
	Generator *alerts.Generator
	Cameras   *cameras.Store
	Cache     *frames.Cache
	Bus       Publisher
	Metrics   *metrics.Collector
}

// cameraPipeline is the runtime of one camera: its queue, admission state,
// and the stage state owned by its worker goroutine.
type cameraPipeline struct {
	id    string
	queue chan *detection.Frame

	// Admission state, guarded by mu.
	mu       sync.Mutex
	lastSeen uint64

	// Owned by the camera worker.
	tracker   *detection.Tracker
	extractor *detection.Extractor
	evaluator *zones.Evaluator
	engine    *analytics.Engine
	lastTouch time.Time
}

// Coordinator fans incoming frames out to per-camera pipelines. Pipelines
// start lazily on a camera's first frame and run until Shutdown.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	cameras map[string]*cameraPipeline
	cancels map[string]context.CancelFunc
	stopped bool

	wg sync.WaitGroup
}

// NewCoordinator creates a pipeline coordinator. Zero config values fall
// back to the defaults.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ConfThreshold <= 0 {
		cfg.ConfThreshold = def.ConfThreshold
	}
	if cfg.NMSIoU <= 0 {
		cfg.NMSIoU = def.NMSIoU
	}
	if cfg.TouchInterval <= 0 {
		cfg.TouchInterval = def.TouchInterval
	}
	return &Coordinator{
		cfg:     cfg,
		deps:    deps,
		logger:  slog.Default().With("component", "pipeline"),
		cameras: make(map[string]*cameraPipeline),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit validates one incoming frame and hands it to its camera's queue,
// starting the camera's pipeline on first use. The call never waits for
// processing: when the queue is full the oldest queued frame is discarded to
// admit the new one. A frame at or behind the camera's newest accepted
// frame id is rejected with ErrStaleFrame; a zero frame id means the sender
// does not number its frames, and the next id is assigned here.
func (c *Coordinator) Submit(ctx context.Context, frame *detection.Frame) error {
	cam, err := c.cameraFor(ctx, frame.CameraID)
	if err != nil {
		return err
	}
	c.deps.Metrics.FramesReceived.WithLabelValues(cam.id).Inc()

	cam.mu.Lock()
	defer cam.mu.Unlock()

	if frame.FrameID == 0 {
		frame.FrameID = cam.lastSeen + 1
	} else if frame.FrameID <= cam.lastSeen {
		c.deps.Metrics.FramesRejected.WithLabelValues(cam.id).Inc()
		return fmt.Errorf("%w: frame %d not after %d", ErrStaleFrame, frame.FrameID, cam.lastSeen)
	}
	cam.lastSeen = frame.FrameID

	select {
	case cam.queue <- frame:
	default:
		// Full queue: discard the oldest so the freshest frame wins.
		select {
		case old := <-cam.queue:
			c.deps.Metrics.FramesDropped.WithLabelValues(cam.id).Inc()
			c.logger.Debug("queue full, dropped oldest frame",
				"camera_id", cam.id,
				"dropped_frame_id", old.FrameID,
				"frame_id", frame.FrameID)
		default:
			// The worker drained it first; there is room now.
		}
		cam.queue <- frame
	}
	c.deps.Metrics.QueueDepth.WithLabelValues(cam.id).Set(float64(len(cam.queue)))
	return nil
}

// cameraFor returns the runtime for a camera, starting its worker on first
// use.
func (c *Coordinator) cameraFor(ctx context.Context, cameraID string) (*cameraPipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrStopped
	}
	if cam, ok := c.cameras[cameraID]; ok {
		return cam, nil
	}

	cam := &cameraPipeline{
		id:        cameraID,
		queue:     make(chan *detection.Frame, c.cfg.QueueSize),
		tracker:   detection.NewTracker(cameraID, c.cfg.Tracker),
		extractor: detection.NewExtractor(c.cfg.ReIDAlpha),
		evaluator: zones.NewEvaluator(cameraID),
		engine:    analytics.NewEngine(c.cfg.Engine),
	}
	if zoneList, err := c.deps.Zones.List(ctx, cameraID); err != nil {
		c.logger.Warn("zone load failed, starting without zones",
			"camera_id", cameraID, "error", err)
	} else {
		cam.evaluator.SetZones(zoneList)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cameras[cameraID] = cam
	c.cancels[cameraID] = cancel
	c.wg.Add(1)
	go c.runCamera(runCtx, cam)

	c.logger.Info("camera pipeline started", "camera_id", cameraID)
	return cam, nil
}

// ReloadZones refreshes a camera's zone snapshot after zones changed. A
// camera with no running pipeline picks its zones up on first frame.
func (c *Coordinator) ReloadZones(ctx context.Context, cameraID string) error {
	c.mu.Lock()
	cam, ok := c.cameras[cameraID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	zoneList, err := c.deps.Zones.List(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("failed to reload zones: %w", err)
	}
	cam.evaluator.SetZones(zoneList)
	return nil
}

// StopCamera cancels one camera's worker. The frame being processed
// finishes; queued frames are abandoned. The camera restarts fresh on its
// next frame.
func (c *Coordinator) StopCamera(cameraID string) {
	c.mu.Lock()
	cancel, ok := c.cancels[cameraID]
	if ok {
		delete(c.cancels, cameraID)
		delete(c.cameras, cameraID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	cancel()
	c.deps.Generator.Reset(cameraID)
	c.logger.Info("camera pipeline stopped", "camera_id", cameraID)
}

// Shutdown stops every camera worker and waits for in-flight frames to
// finish. Frames still queued are abandoned.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	stopped := c.stopped
	c.stopped = true
	cancels := c.cancels
	c.cancels = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.wg.Wait()
	if !stopped {
		c.logger.Info("pipeline coordinator stopped")
	}
}
