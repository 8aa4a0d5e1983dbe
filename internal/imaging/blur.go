package imaging

import (
	"image"
	"math"
)

// KernelForRegion derives the Gaussian kernel size for a face region
// from its smaller dimension, so small and large faces end up
// comparably obscured. strength scales the kernel linearly; at the
// default strength of 3 the kernel is roughly a third of the face.
// The result is always odd and at least 3.
func KernelForRegion(region image.Rectangle, strength int) int {
	minDim := min(region.Dx(), region.Dy())
	k := minDim * strength / 10
	if k%2 == 0 {
		k--
	}
	if k < 3 {
		k = 3
	}
	return k
}

// BlurRegion applies a separable Gaussian blur to the region, in place.
// Samples are clamped to the region itself, so the blur only ever mixes
// pixels from inside the face box; surrounding pixels are untouched.
// Blurring an already blurred region keeps it obscured.
func BlurRegion(img *image.RGBA, region image.Rectangle, kernel int) {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return
	}
	if kernel%2 == 0 {
		kernel--
	}
	if kernel < 3 {
		kernel = 3
	}

	weights := gaussianWeights(kernel)
	radius := kernel / 2
	w, h := region.Dx(), region.Dy()

	// Horizontal pass into a scratch buffer, vertical pass back into
	// the image.
	tmp := make([]float64, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for t := -radius; t <= radius; t++ {
				sx := clamp(x+t, 0, w-1)
				off := img.PixOffset(region.Min.X+sx, region.Min.Y+y)
				wt := weights[t+radius]
				for c := 0; c < 4; c++ {
					acc[c] += float64(img.Pix[off+c]) * wt
				}
			}
			idx := (y*w + x) * 4
			for c := 0; c < 4; c++ {
				tmp[idx+c] = acc[c]
			}
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for t := -radius; t <= radius; t++ {
				sy := clamp(y+t, 0, h-1)
				idx := (sy*w + x) * 4
				wt := weights[t+radius]
				for c := 0; c < 4; c++ {
					acc[c] += tmp[idx+c] * wt
				}
			}
			off := img.PixOffset(region.Min.X+x, region.Min.Y+y)
			for c := 0; c < 4; c++ {
				v := int(acc[c] + 0.5)
				if v > 255 {
					v = 255
				}
				img.Pix[off+c] = uint8(v)
			}
		}
	}
}

// PixelateRegion overwrites the region with a blocks x blocks mosaic,
// each cell filled with its mean color.
func PixelateRegion(img *image.RGBA, region image.Rectangle, blocks int) {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return
	}
	w, h := region.Dx(), region.Dy()
	xBlocks := min(max(blocks, 1), w)
	yBlocks := min(max(blocks, 1), h)

	xSteps := gridSteps(w, xBlocks)
	ySteps := gridSteps(h, yBlocks)
	for i := 1; i < len(ySteps); i++ {
		for j := 1; j < len(xSteps); j++ {
			cell := image.Rect(
				region.Min.X+xSteps[j-1],
				region.Min.Y+ySteps[i-1],
				region.Min.X+xSteps[j],
				region.Min.Y+ySteps[i],
			)
			fillMean(img, cell)
		}
	}
}

// gridSteps splits n into blocks near-equal intervals, returning the
// blocks+1 boundary offsets.
func gridSteps(n, blocks int) []int {
	steps := make([]int, blocks+1)
	for i := range steps {
		steps[i] = i * n / blocks
	}
	return steps
}

func fillMean(img *image.RGBA, cell image.Rectangle) {
	if cell.Empty() {
		return
	}
	var sum [4]uint64
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		off := img.PixOffset(cell.Min.X, y)
		for x := cell.Min.X; x < cell.Max.X; x++ {
			for c := 0; c < 4; c++ {
				sum[c] += uint64(img.Pix[off+c])
			}
			off += 4
		}
	}
	count := uint64(cell.Dx() * cell.Dy())
	var mean [4]uint8
	for c := 0; c < 4; c++ {
		mean[c] = uint8(sum[c] / count)
	}
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		off := img.PixOffset(cell.Min.X, y)
		for x := cell.Min.X; x < cell.Max.X; x++ {
			for c := 0; c < 4; c++ {
				img.Pix[off+c] = mean[c]
			}
			off += 4
		}
	}
}

// gaussianWeights builds a normalized 1-D Gaussian kernel. Sigma is
// derived from the kernel size the same way OpenCV derives it when the
// caller passes sigma 0.
func gaussianWeights(kernel int) []float64 {
	sigma := 0.3*(float64(kernel-1)*0.5-1) + 0.8
	radius := kernel / 2
	weights := make([]float64, kernel)
	var total float64
	for i := range weights {
		d := float64(i - radius)
		weights[i] = gaussian(d, sigma)
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func gaussian(d, sigma float64) float64 {
	return math.Exp(-(d * d) / (2 * sigma * sigma))
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
