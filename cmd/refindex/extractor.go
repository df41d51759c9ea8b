package main

import (
	"image"
	"image/png"
	"math"
	"os"

	"github.com/prismlab/refindex/pkg/errors"
)

// grayStatsExtractor derives a fixed-length feature vector from grayscale
// intensity statistics of the prism image: global moments plus per-quadrant
// means. It stands in for heavier extractors behind the same interface.
type grayStatsExtractor struct{}

func (grayStatsExtractor) Extract(imagePath string) ([]float64, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrap(err, "Extract")
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, "Extract: decode")
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.NewValueError("Extract", "empty image")
	}

	var sum, sumSq, minV, maxV float64
	minV = math.Inf(1)
	maxV = math.Inf(-1)
	quadSum := [4]float64{}
	quadN := [4]float64{}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := grayValue(img, x, y)
			sum += v
			sumSq += v * v
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
			q := 0
			if x-b.Min.X >= w/2 {
				q++
			}
			if y-b.Min.Y >= h/2 {
				q += 2
			}
			quadSum[q] += v
			quadN[q]++
		}
	}

	n := float64(w * h)
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}

	features := []float64{mean, math.Sqrt(variance), minV, maxV, maxV - minV}
	for q := 0; q < 4; q++ {
		if quadN[q] > 0 {
			features = append(features, quadSum[q]/quadN[q])
		} else {
			features = append(features, 0)
		}
	}
	return features, nil
}

func grayValue(img image.Image, x, y int) float64 {
	r, g, b, _ := img.At(x, y).RGBA()
	// Rec. 601 luma on 16-bit channels, scaled to [0, 1].
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
}
