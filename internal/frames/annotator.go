package frames

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/crowdsight/crowdsight/internal/analytics"
	"github.com/crowdsight/crowdsight/internal/detection"
	"github.com/crowdsight/crowdsight/internal/zones"
)

// RenderOptions selects which overlays Annotate draws.
type RenderOptions struct {
	Boxes      bool
	TrackIDs   bool
	Zones      bool
	FlowArrows bool
	Heatmap    bool
	MetricsHUD bool
	RiskBar    bool
}

// DefaultRenderOptions enables everything except the heatmap overlay.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Boxes:      true,
		TrackIDs:   true,
		Zones:      true,
		FlowArrows: true,
		MetricsHUD: true,
		RiskBar:    true,
	}
}

var (
	colorConfirmed = color.RGBA{0, 255, 0, 255}
	colorTentative = color.RGBA{128, 128, 128, 255}
	colorZone      = color.RGBA{255, 0, 255, 255}
	colorText      = color.RGBA{255, 255, 255, 255}
	colorArrow     = color.RGBA{255, 255, 0, 255}
	colorWarning   = color.RGBA{255, 165, 0, 255}
	colorCritical  = color.RGBA{255, 0, 0, 255}
)

// maxFlowArrows caps how many per-track arrows are drawn.
const maxFlowArrows = 10

// hudHeight is the metrics panel height in pixels.
const hudHeight = 150

// Annotate renders the selected overlays onto a copy of the frame. Zones go
// first so boxes and text stay readable on top of them.
func Annotate(frame image.Image, detections []detection.Detection, tracks []*detection.Track, zoneList []*zones.Zone, sample *analytics.Sample, opts RenderOptions) *image.RGBA {
	if frame == nil {
		return nil
	}

	bounds := frame.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, frame, bounds.Min, draw.Src)

	if opts.Zones {
		drawZones(rgba, zoneList)
	}
	if opts.Heatmap && len(detections) > 0 {
		drawHeatmapOverlay(rgba, detections)
	}
	if opts.Boxes {
		if len(tracks) > 0 {
			drawTracks(rgba, tracks, opts.TrackIDs)
		} else {
			drawDetections(rgba, detections)
		}
	}
	if opts.FlowArrows && sample != nil {
		drawFlowArrows(rgba, sample.Flow, tracks)
	}
	if opts.MetricsHUD && sample != nil {
		drawMetricsHUD(rgba, sample)
	}
	if opts.RiskBar && sample != nil {
		drawRiskBar(rgba, sample)
	}

	return rgba
}

// EncodeJPEG encodes an annotated frame at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("no frame to encode")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Placeholder renders a black frame with a centered caption, served while a
// camera has no cached frames.
func Placeholder(width, height int, text string) *image.RGBA {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)

	x := (width - len(text)*7) / 2
	if x < 0 {
		x = 0
	}
	drawText(img, x, height/2, text, colorText)
	return img
}

func drawDetections(img *image.RGBA, detections []detection.Detection) {
	for _, det := range detections {
		b := det.Box
		drawBox(img, b.X, b.Y, b.Width, b.Height, colorConfirmed, 2)
		drawLabel(img, b.X, b.Y-5, fmt.Sprintf("%.2f", det.Confidence), colorConfirmed)
	}
}

func drawTracks(img *image.RGBA, tracks []*detection.Track, showIDs bool) {
	for _, tr := range tracks {
		boxColor := colorConfirmed
		if tr.State == detection.TrackTentative {
			boxColor = colorTentative
		}

		b := tr.Box
		drawBox(img, b.X, b.Y, b.Width, b.Height, boxColor, 2)
		if showIDs {
			drawLabel(img, b.X, b.Y-5, fmt.Sprintf("ID:%d", tr.ID), boxColor)
		}
	}
}

func drawZones(img *image.RGBA, zoneList []*zones.Zone) {
	for _, z := range zoneList {
		if !z.Polygon.Valid() {
			continue
		}

		fillPolygon(img, z.Polygon, colorZone, 0.2)
		drawPolygon(img, z.Polygon, colorZone, 2)

		// Label at the polygon centroid.
		var cx, cy float64
		for _, p := range z.Polygon {
			cx += p.X
			cy += p.Y
		}
		cx /= float64(len(z.Polygon))
		cy /= float64(len(z.Polygon))

		label := z.Name
		if z.MaxCapacity > 0 {
			label = fmt.Sprintf("%s (%d/%d)", z.Name, z.CurrentOccupancy, z.MaxCapacity)
		}
		drawLabel(img, int(cx)-len(label)*7/2, int(cy), label, colorZone)
	}
}

// drawHeatmapOverlay accumulates a Gaussian kernel per detection centre,
// normalises against the hottest cell, and blends a jet colormap over the
// frame at 40%.
func drawHeatmapOverlay(img *image.RGBA, detections []detection.Detection) {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	heat := make([]float64, w*h)
	for _, det := range detections {
		splatGaussian(heat, w, h, det.Box)
	}

	var max float64
	for _, v := range heat {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := jetColor(heat[y*w+x] / max)
			blendPixel(img, bounds.Min.X+x, bounds.Min.Y+y, c, 0.4)
		}
	}
}

// splatGaussian adds one box's kernel into the heat grid. The kernel side is
// the box's larger extent capped at 100px, with sigma at a third of it.
func splatGaussian(heat []float64, w, h int, box detection.BoundingBox) {
	cx := box.X + box.Width/2
	cy := box.Y + box.Height/2
	if cx < 0 {
		cx = 0
	}
	if cx > w-1 {
		cx = w - 1
	}
	if cy < 0 {
		cy = 0
	}
	if cy > h-1 {
		cy = h - 1
	}

	size := box.Width
	if box.Height > size {
		size = box.Height
	}
	if size > 100 {
		size = 100
	}
	if size <= 0 {
		return
	}

	sigma := float64(size) / 3.0
	half := size / 2
	for dy := -half; dy < half; dy++ {
		for dx := -half; dx < half; dx++ {
			px, py := cx+dx, cy+dy
			if px < 0 || px >= w || py < 0 || py >= h {
				continue
			}
			d2 := float64(dx*dx + dy*dy)
			heat[py*w+px] += math.Exp(-d2 / (2 * sigma * sigma))
		}
	}
}

func drawFlowArrows(img *image.RGBA, flow analytics.Flow, tracks []*detection.Track) {
	if flow.X == 0 && flow.Y == 0 {
		return
	}

	n := len(tracks)
	if n > maxFlowArrows {
		n = maxFlowArrows
	}
	for _, tr := range tracks[:n] {
		cx, cy := tr.Box.Center()
		drawArrow(img, int(cx), int(cy), int(cx+flow.X*50), int(cy+flow.Y*50), colorArrow)
	}
}

func drawMetricsHUD(img *image.RGBA, sample *analytics.Sample) {
	bounds := img.Bounds()
	w := bounds.Dx()
	panel := hudHeight
	if panel > bounds.Dy() {
		panel = bounds.Dy()
	}

	// Darken the panel region.
	for y := 0; y < panel; y++ {
		for x := 0; x < w; x++ {
			blendPixel(img, bounds.Min.X+x, bounds.Min.Y+y, color.RGBA{0, 0, 0, 255}, 0.3)
		}
	}

	riskColor := levelColor(sample.RiskLevel)
	lines := []struct {
		text  string
		color color.RGBA
	}{
		{fmt.Sprintf("People Count: %d", sample.PeopleCount), colorText},
		{fmt.Sprintf("Density: %.1f%%", sample.Density*100), colorText},
		{fmt.Sprintf("Speed: %.1f px/s", sample.AvgSpeed), colorText},
		{fmt.Sprintf("Congestion: %s", sample.Congestion), colorText},
		{fmt.Sprintf("Risk: %s (%.2f)", sample.RiskLevel, sample.RiskScore), riskColor},
	}
	for i, line := range lines {
		y := 25 + i*25
		if y >= panel {
			break
		}
		drawText(img, bounds.Min.X+10, bounds.Min.Y+y, line.text, line.color)
	}

	ts := sample.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")
	drawText(img, bounds.Min.X+w-250, bounds.Min.Y+panel-10, ts, colorText)
}

func drawRiskBar(img *image.RGBA, sample *analytics.Sample) {
	bounds := img.Bounds()
	barWidth := int(float64(bounds.Dx()) * sample.RiskScore)
	c := levelColor(sample.RiskLevel)
	for y := 0; y < 5; y++ {
		for x := 0; x < barWidth; x++ {
			px, py := bounds.Min.X+x, bounds.Min.Y+y
			if px < bounds.Max.X && py < bounds.Max.Y {
				img.Set(px, py, c)
			}
		}
	}
}

func levelColor(level string) color.RGBA {
	switch level {
	case analytics.LevelCritical:
		return colorCritical
	case analytics.LevelWarning:
		return colorWarning
	default:
		return colorConfirmed
	}
}

// drawBox draws a rectangle outline.
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= bounds.Min.Y && y+t < bounds.Max.Y && i >= bounds.Min.X {
				img.Set(i, y+t, c)
			}
			if y+h-t >= bounds.Min.Y && y+h-t < bounds.Max.Y && i >= bounds.Min.X {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= bounds.Min.X && x+t < bounds.Max.X && j >= bounds.Min.Y {
				img.Set(x+t, j, c)
			}
			if x+w-t >= bounds.Min.X && x+w-t < bounds.Max.X && j >= bounds.Min.Y {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text over a dark background strip.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bounds := img.Bounds()
	if y < bounds.Min.Y+10 {
		y = bounds.Min.Y + 10
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}

	drawText(img, x, y+10, label, c)
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func drawPolygon(img *image.RGBA, poly zones.Polygon, c color.RGBA, thickness int) {
	for i := range poly {
		a := poly[i]
		b := poly[(i+1)%len(poly)]
		drawLine(img, int(a.X), int(a.Y), int(b.X), int(b.Y), c, thickness)
	}
}

// fillPolygon blends the polygon interior with the colour at the given
// opacity.
func fillPolygon(img *image.RGBA, poly zones.Polygon, c color.RGBA, alpha float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range poly {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}

	bounds := img.Bounds()
	x0 := clampInt(int(minX), bounds.Min.X, bounds.Max.X)
	x1 := clampInt(int(maxX)+1, bounds.Min.X, bounds.Max.X)
	y0 := clampInt(int(minY), bounds.Min.Y, bounds.Max.Y)
	y1 := clampInt(int(maxY)+1, bounds.Min.Y, bounds.Max.Y)

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if poly.ContainsPoint(zones.Point{X: float64(x), Y: float64(y)}) {
				blendPixel(img, x, y, c, alpha)
			}
		}
	}
}

func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA, thickness int) {
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx := 1
	if x0 >= x1 {
		sx = -1
	}
	sy := 1
	if y0 >= y1 {
		sy = -1
	}
	err := dx + dy

	for {
		setThick(img, x0, y0, c, thickness)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawArrow(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	drawLine(img, x0, y0, x1, y1, c, 2)

	angle := math.Atan2(float64(y1-y0), float64(x1-x0))
	length := math.Hypot(float64(x1-x0), float64(y1-y0))
	head := math.Max(6, length*0.3)

	for _, da := range []float64{-math.Pi / 6, math.Pi / 6} {
		hx := float64(x1) - head*math.Cos(angle+da)
		hy := float64(y1) - head*math.Sin(angle+da)
		drawLine(img, x1, y1, int(hx), int(hy), c, 2)
	}
}

func setThick(img *image.RGBA, x, y int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for oy := 0; oy < thickness; oy++ {
		for ox := 0; ox < thickness; ox++ {
			px, py := x+ox, y+oy
			if px >= bounds.Min.X && px < bounds.Max.X && py >= bounds.Min.Y && py < bounds.Max.Y {
				img.Set(px, py, c)
			}
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, c color.RGBA, alpha float64) {
	bounds := img.Bounds()
	if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
		return
	}
	dst := img.RGBAAt(x, y)
	img.SetRGBA(x, y, color.RGBA{
		R: uint8(float64(dst.R)*(1-alpha) + float64(c.R)*alpha),
		G: uint8(float64(dst.G)*(1-alpha) + float64(c.G)*alpha),
		B: uint8(float64(dst.B)*(1-alpha) + float64(c.B)*alpha),
		A: 255,
	})
}

// jetColor maps a normalised heat value onto a blue-to-red ramp.
func jetColor(v float64) color.RGBA {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	r := clamp01(1.5 - math.Abs(4*v-3))
	g := clamp01(1.5 - math.Abs(4*v-2))
	b := clamp01(1.5 - math.Abs(4*v-1))
	return color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
