package ingest

import "math"

// Fit returns the dimensions of a width x height image scaled down uniformly
// to fit inside maxWidth x maxHeight. Images already inside the box are
// returned unchanged; images are never scaled up.
func Fit(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 || maxWidth <= 0 || maxHeight <= 0 {
		return width, height
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))

	// rounding must never push a side past its bound or down to zero
	w = clamp(w, 1, maxWidth)
	h = clamp(h, 1, maxHeight)
	return w, h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
