package detection

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// EmbeddingSize is the dimensionality of a fused re-id embedding.
	EmbeddingSize = 512
	// appearanceSize is the detector-supplied appearance half.
	appearanceSize = 256
	// histSize is the color histogram half (16 hue x 4 saturation x 4 value).
	histSize = 256

	hueBins = 16
	satBins = 4
	valBins = 4
)

// EmbeddingAlpha is the default EMA smoothing factor for track embeddings.
const EmbeddingAlpha = 0.3

// Extractor builds appearance embeddings for matched detections. The fused
// vector concatenates the detector's appearance features with an HSV color
// histogram of the bounding box crop, then normalizes to unit length.
type Extractor struct {
	alpha float64
}

// NewExtractor creates an extractor with the given EMA smoothing factor.
// Alpha weights the newest observation; out-of-range values fall back to
// the default.
func NewExtractor(alpha float64) *Extractor {
	if alpha <= 0 || alpha > 1 {
		alpha = EmbeddingAlpha
	}
	return &Extractor{alpha: alpha}
}

// Extract computes the fused embedding for one detection. img may be nil
// when the frame could not be decoded; the histogram half is zero then.
func (e *Extractor) Extract(img image.Image, det Detection) []float64 {
	out := make([]float64, EmbeddingSize)

	appearance := out[:appearanceSize]
	copy(appearance, det.Embedding)
	if norm := floats.Norm(appearance, 2); norm > 0 {
		floats.Scale(1/norm, appearance)
	}

	hist := out[appearanceSize:]
	if img != nil {
		hsvHistogram(img, det.Box, hist)
	}
	if sum := floats.Sum(hist); sum > 0 {
		floats.Scale(1/sum, hist)
	}

	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}

// Smooth folds a new embedding into the track's running embedding with an
// exponential moving average and re-normalizes. The first observation is
// taken as-is.
func (e *Extractor) Smooth(prev, cur []float64) []float64 {
	if len(prev) != EmbeddingSize {
		out := make([]float64, EmbeddingSize)
		copy(out, cur)
		return out
	}
	out := make([]float64, EmbeddingSize)
	for i := range out {
		out[i] = e.alpha*cur[i] + (1-e.alpha)*prev[i]
	}
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}

// ValidEmbedding reports whether emb is a well-formed unit embedding:
// correct size, no NaNs, and L2 norm within [0.95, 1.05].
func ValidEmbedding(emb []float64) bool {
	if len(emb) != EmbeddingSize {
		return false
	}
	if floats.HasNaN(emb) {
		return false
	}
	norm := floats.Norm(emb, 2)
	return norm >= 0.95 && norm <= 1.05
}

// Cosine returns the cosine similarity of two embeddings clipped to [0, 1].
// Mismatched sizes or zero vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	if math.IsNaN(sim) {
		return 0
	}
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// hsvHistogram accumulates an unnormalized 16x4x4 HSV histogram over the
// crop of img bounded by box into hist.
func hsvHistogram(img image.Image, box BoundingBox, hist []float64) {
	bounds := img.Bounds()
	clamped := box.Clamp(bounds.Dx(), bounds.Dy())
	x0 := bounds.Min.X + clamped.X
	y0 := bounds.Min.Y + clamped.Y
	x1 := x0 + clamped.Width
	y1 := y0 + clamped.Height

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			h, s, v := rgbToHSV(float64(r)/65535, float64(g)/65535, float64(b)/65535)

			hb := int(h / 360 * hueBins)
			if hb >= hueBins {
				hb = hueBins - 1
			}
			sb := int(s * satBins)
			if sb >= satBins {
				sb = satBins - 1
			}
			vb := int(v * valBins)
			if vb >= valBins {
				vb = valBins - 1
			}
			hist[hb*satBins*valBins+sb*valBins+vb]++
		}
	}
}

// rgbToHSV converts r, g, b in [0, 1] to h in [0, 360) and s, v in [0, 1]
func rgbToHSV(r, g, b float64) (h, s, v float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v = max
	if max > 0 {
		s = delta / max
	}
	if delta == 0 {
		return 0, s, v
	}
	switch max {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}
