package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/detection"
)

// DefaultHeatmapWidth and DefaultHeatmapHeight are used when a camera has no
// known resolution.
const (
	DefaultHeatmapWidth  = 1920
	DefaultHeatmapHeight = 1080
)

// RenderHeatmap accumulates stored track positions into a density grid and
// maps it onto a jet-coloured image. With no positions the result is a
// uniform cold field.
func RenderHeatmap(positions []*analytics.Position, width, height int) *image.RGBA {
	if width <= 0 {
		width = DefaultHeatmapWidth
	}
	if height <= 0 {
		height = DefaultHeatmapHeight
	}

	heat := make([]float64, width*height)
	for _, p := range positions {
		splatGaussian(heat, width, height, detection.BoundingBox{
			X:      int(p.X),
			Y:      int(p.Y),
			Width:  int(p.Width),
			Height: int(p.Height),
		})
	}

	var max float64
	for _, v := range heat {
		if v > max {
			max = v
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := 0.0
			if max > 0 {
				v = heat[y*width+x] / max
			}
			img.SetRGBA(x, y, jetColor(v))
		}
	}
	return img
}

// EncodePNG encodes a rendered heatmap.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("no image to encode")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
