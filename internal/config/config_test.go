package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t, `
version: "1.0"
server:
  host: 127.0.0.1
  port: 9000
database:
  path: /tmp/test.db
detector:
  mode: static
  conf_threshold: 0.6
tracker:
  min_hits: 5
  max_age: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Detector.Mode != "static" {
		t.Errorf("Detector.Mode = %q, want static", cfg.Detector.Mode)
	}
	if cfg.Detector.ConfThreshold != 0.6 {
		t.Errorf("Detector.ConfThreshold = %v, want 0.6", cfg.Detector.ConfThreshold)
	}
	if cfg.Tracker.MinHits != 5 {
		t.Errorf("Tracker.MinHits = %d, want 5", cfg.Tracker.MinHits)
	}
	if cfg.Tracker.MaxAge != 20 {
		t.Errorf("Tracker.MaxAge = %d, want 20", cfg.Tracker.MaxAge)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "server: [not: valid")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid YAML")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"server port", cfg.Server.Port, 8000},
		{"queue size", cfg.Pipeline.QueueSize, 10},
		{"conf threshold", cfg.Detector.ConfThreshold, 0.5},
		{"nms iou", cfg.Detector.NMSIoU, 0.4},
		{"iou threshold", cfg.Tracker.IoUThreshold, 0.5},
		{"min hits", cfg.Tracker.MinHits, 3},
		{"max age", cfg.Tracker.MaxAge, 30},
		{"ema alpha", cfg.ReID.Alpha, 0.3},
		{"cache frames", cfg.Cache.Frames, 10},
		{"cache ttl", cfg.Cache.TTLSeconds, 5},
		{"matcher window", cfg.Matcher.WindowSeconds, 600},
		{"similarity threshold", cfg.Matcher.SimThreshold, 0.70},
		{"alert resample", cfg.Alerts.ResampleSeconds, 30},
		{"push deadline", cfg.Push.SendDeadlineMS, 1000},
		{"push max drops", cfg.Push.MaxConsecutiveDrops, 3},
		{"write buffer", cfg.Pipeline.WriteBufferSamples, 1000},
		{"stream fps", cfg.Stream.FPS, 30},
		{"stream quality", cfg.Stream.Quality, 85},
		{"snapshot quality", cfg.Stream.SnapshotQuality, 95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeTestConfig(t, "version: \"1.0\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg.Server.Port = 9999
	cfg.Matcher.SimThreshold = 0.8
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after save error = %v", err)
	}
	if reloaded.Server.Port != 9999 {
		t.Errorf("reloaded Server.Port = %d, want 9999", reloaded.Server.Port)
	}
	if reloaded.Matcher.SimThreshold != 0.8 {
		t.Errorf("reloaded Matcher.SimThreshold = %v, want 0.8", reloaded.Matcher.SimThreshold)
	}
}
