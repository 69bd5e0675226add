package api

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/cameras"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/frames"
)

// boolQuery parses a boolean query parameter, falling back to def when the
// parameter is absent or malformed.
func boolQuery(q url.Values, key string, def bool) bool {
	v := q.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// renderOptions maps the stream query flags onto annotator overlays.
func renderOptions(q url.Values) frames.RenderOptions {
	opts := frames.DefaultRenderOptions()
	opts.Heatmap = boolQuery(q, "show_heatmap", false)
	opts.Zones = boolQuery(q, "show_zones", true)
	opts.TrackIDs = boolQuery(q, "show_track_ids", true)
	metrics := boolQuery(q, "show_metrics", true)
	opts.MetricsHUD = metrics
	opts.RiskBar = metrics
	return opts
}

// renderCamera produces one JPEG for a camera from the newest cached frame,
// or a captioned placeholder when nothing is cached. Annotation failures on
// the zone lookup degrade to an unzoned frame rather than killing the stream.
func (s *Server) renderCamera(ctx context.Context, cam *cameras.Camera, opts frames.RenderOptions, annotated bool, quality int, caption string) ([]byte, error) {
	var (
		img        image.Image
		detections []detection.Detection
		tracks     []*detection.Track
		sample     *analytics.Sample
	)

	if entry, ok := s.deps.Cache.Latest(cam.ID); ok && entry.Image != nil {
		img = entry.Image
		detections = entry.Detections
		tracks = entry.Tracks
		sample = entry.Sample
	} else {
		img = frames.Placeholder(cam.Resolution.Width, cam.Resolution.Height, caption)
	}

	if !annotated {
		return frames.EncodeJPEG(img, quality)
	}

	zoneList, err := s.deps.Zones.List(ctx, cam.ID)
	if err != nil {
		s.logger.Warn("failed to load zones for annotation", "camera_id", cam.ID, "error", err)
		zoneList = nil
	}
	return frames.EncodeJPEG(frames.Annotate(img, detections, tracks, zoneList, sample, opts), quality)
}

// streamCamera serves an MJPEG stream of the camera's annotated frames.
func (s *Server) streamCamera(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "Streaming is not supported")
		return
	}

	opts := renderOptions(r.URL.Query())
	quality := s.deps.Config.Stream.Quality
	caption := fmt.Sprintf("Camera: %s - Waiting for frames...", cam.ID)

	fps := s.deps.Config.Stream.FPS
	if fps <= 0 {
		fps = 30
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jpegBytes, err := s.renderCamera(ctx, cam, opts, true, quality, caption)
		if err != nil {
			s.logger.Warn("failed to render stream frame", "camera_id", cam.ID, "error", err)
			continue
		}

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
			return
		}
		if _, err := w.Write(jpegBytes); err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}

// snapshot serves a single JPEG of the camera's newest frame.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	cam := s.cameraOr404(w, r)
	if cam == nil {
		return
	}

	q := r.URL.Query()
	annotated := boolQuery(q, "annotated", true)
	caption := fmt.Sprintf("Camera: %s", cam.ID)

	jpegBytes, err := s.renderCamera(r.Context(), cam, renderOptions(q), annotated, s.deps.Config.Stream.SnapshotQuality, caption)
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(jpegBytes)))
	w.WriteHeader(http.StatusOK)
	w.Write(jpegBytes)
}
