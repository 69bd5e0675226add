package pipeline

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/crowdsight/crowdsight/internal/alerts"
	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/core"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/frames"
	"github.com/crowdsight/crowdsight/internal/models"
)

// runCamera drains one camera's queue in order until its context is
// cancelled. The frame being processed always completes.
func (c *Coordinator) runCamera(ctx context.Context, cam *cameraPipeline) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-cam.queue:
			c.deps.Metrics.QueueDepth.WithLabelValues(cam.id).Set(float64(len(cam.queue)))
			fctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
			c.processFrame(fctx, cam, frame)
			cancel()
		}
	}
}

// processFrame runs the stage graph for one frame: decode, detect, track,
// re-id, zones, analytics, alerts, cache, publish. A panic in any stage is
// recovered; the worker re-initialises its stage state and moves on to the
// next frame.
func (c *Coordinator) processFrame(ctx context.Context, cam *cameraPipeline, frame *detection.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Metrics.StagePanics.WithLabelValues(cam.id).Inc()
			c.logger.Error("stage panic, reinitialising stages",
				"camera_id", cam.id,
				"frame_id", frame.FrameID,
				"panic", r)
			cam.tracker.Reset()
			cam.evaluator.ResetMembership()
		}
	}()

	start := time.Now()

	if frame.Image == nil && len(frame.Data) > 0 {
		img, _, err := image.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			c.deps.Metrics.FramesCorrupt.WithLabelValues(cam.id).Inc()
			c.logger.Warn("frame decode failed, skipping",
				"camera_id", cam.id,
				"frame_id", frame.FrameID,
				"error", err)
			return
		}
		frame.Image = img
		bounds := img.Bounds()
		frame.Width = bounds.Dx()
		frame.Height = bounds.Dy()
	}

	detections, err := c.deps.Detector.Detect(ctx, frame)
	if err != nil {
		c.deps.Metrics.DetectorErrors.WithLabelValues(cam.id).Inc()
		c.logger.Warn("detector failed, continuing with no detections",
			"camera_id", cam.id,
			"frame_id", frame.FrameID,
			"error", err)
		detections = nil
	}
	detections = detection.FilterByClass(detections, c.cfg.ConfThreshold)
	detections = detection.NMS(detections, c.cfg.NMSIoU)

	confirmed, terminated := cam.tracker.Update(detections, frame.Timestamp)

	// Fold this frame's appearance into each confirmed track. The matched
	// detection is recovered through its box, which the tracker copied
	// verbatim onto the track.
	byBox := make(map[detection.BoundingBox]detection.Detection, len(detections))
	for _, det := range detections {
		byBox[det.Box] = det
	}
	for _, tr := range confirmed {
		det, ok := byBox[tr.Box]
		if !ok {
			continue
		}
		emb := cam.extractor.Extract(frame.Image, det)
		if !detection.ValidEmbedding(emb) {
			c.deps.Metrics.EmbeddingsSkipped.WithLabelValues(cam.id).Inc()
			continue
		}
		tr.Embedding = cam.extractor.Smooth(tr.Embedding, emb)
	}

	zoneRes := cam.evaluator.Evaluate(confirmed, frame.Timestamp)
	termRes := cam.evaluator.HandleTerminated(terminated, frame.Timestamp)
	events := append(zoneRes.Events, termRes.Events...)
	occupancyChanged := append(zoneRes.OccupancyChanged, termRes.OccupancyChanged...)

	for i := range events {
		ev := &events[i]
		if err := c.deps.Zones.InsertEvent(ctx, ev); err != nil {
			c.logger.Warn("zone event persist failed",
				"camera_id", cam.id, "event_id", ev.ID, "error", err)
		}
		if err := c.deps.Bus.Publish(core.SubjectZoneEvents(cam.id), ev); err != nil {
			c.logger.Warn("zone event publish failed",
				"camera_id", cam.id, "event_id", ev.ID, "error", err)
		}
	}
	for _, zone := range occupancyChanged {
		if err := c.deps.Zones.UpdateOccupancy(ctx, zone.ID, zone.CurrentOccupancy); err != nil {
			c.logger.Warn("occupancy persist failed",
				"camera_id", cam.id, "zone_id", zone.ID, "error", err)
		}
	}
	for _, oc := range zoneRes.Overcapacity {
		c.emitAlert(ctx, c.deps.Generator.Overcapacity(oc, frame.Timestamp))
	}

	sample := cam.engine.Compute(cam.id, confirmed, frame.Timestamp)
	positions := make([]*analytics.Position, 0, len(confirmed))
	for _, tr := range confirmed {
		x, y := tr.Box.Center()
		positions = append(positions, &analytics.Position{
			CameraID:  cam.id,
			TrackID:   tr.ID,
			X:         x,
			Y:         y,
			Width:     tr.Box.Width,
			Height:    tr.Box.Height,
			Timestamp: frame.Timestamp,
		})
	}
	c.deps.Analytics.SetLatest(sample)
	c.deps.Writer.Add(sample, positions)

	c.emitAlert(ctx, c.deps.Generator.Evaluate(sample))

	c.deps.Cache.Put(cam.id, frames.Entry{
		Seq:        frame.FrameID,
		Image:      frame.Image,
		Detections: detections,
		Tracks:     cam.tracker.ActiveTracks(),
		Sample:     sample,
		Timestamp:  frame.Timestamp,
	})

	// The dashboard envelope goes out only after the sample has been
	// handed to the writer and the latest slot.
	env := models.MetricsMessage{
		Type:      models.MessageTypeMetrics,
		CameraID:  cam.id,
		Data:      sample,
		Timestamp: models.FormatTime(frame.Timestamp),
	}
	if err := c.deps.Bus.Publish(core.SubjectMetrics(cam.id), env); err != nil {
		c.logger.Warn("metrics publish failed", "camera_id", cam.id, "error", err)
	}

	c.touchCamera(ctx, cam)

	c.deps.Metrics.FramesProcessed.WithLabelValues(cam.id).Inc()
	c.deps.Metrics.ProcessingTime.WithLabelValues(cam.id).Observe(time.Since(start).Seconds())
}

// emitAlert persists and broadcasts one alert. Nil alerts are ignored.
func (c *Coordinator) emitAlert(ctx context.Context, alert *alerts.Alert) {
	if alert == nil {
		return
	}
	if err := c.deps.Alerts.Insert(ctx, alert); err != nil {
		c.logger.Warn("alert persist failed", "alert_id", alert.ID, "error", err)
	}
	c.deps.Metrics.AlertsGenerated.WithLabelValues(alert.CameraID, alert.Severity).Inc()

	msg := models.AlertMessage{Type: models.MessageTypeAlert, Alert: alert}
	if err := c.deps.Bus.Publish(core.SubjectAlerts, msg); err != nil {
		c.logger.Warn("alert publish failed", "alert_id", alert.ID, "error", err)
	}
}

// touchCamera refreshes the camera's liveness timestamp about once per
// TouchInterval of wall time.
func (c *Coordinator) touchCamera(ctx context.Context, cam *cameraPipeline) {
	now := time.Now().UTC()
	if !cam.lastTouch.IsZero() && now.Sub(cam.lastTouch) < c.cfg.TouchInterval {
		return
	}
	cam.lastTouch = now
	if err := c.deps.Cameras.TouchFrame(ctx, cam.id, now); err != nil {
		c.logger.Warn("camera liveness update failed", "camera_id", cam.id, "error", err)
	}
}
