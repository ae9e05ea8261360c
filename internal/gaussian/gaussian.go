// Package gaussian generates the 1-D blur kernels used by the motion
// detection pipeline.
package gaussian

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrZeroScale is returned when a kernel is scaled by a denominator of zero.
var ErrZeroScale = errors.New("gaussian: scale denominator cannot be zero")

// sigma is the standard deviation of the generated kernel.
const sigma = 1.0

// Generate builds a normalized 1-D Gaussian kernel of odd length 2*size+1.
// A size of 0 produces the identity kernel [1.0], which means no blur.
// The weights always sum to 1.
func Generate(size int) []float64 {
	length := 2*size + 1
	center := length / 2

	kernel := make([]float64, length)
	for i := range kernel {
		d := float64(i - center)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
	}

	// Normalize so the weights sum to 1
	floats.Scale(1/floats.Sum(kernel), kernel)

	return kernel
}

// Scale stretches a kernel by an integer scale denominator: each weight is
// repeated denom times and divided by denom, so the sum is preserved. The
// resulting kernel covers denom source pixels per original weight, which is
// what lets the blur and the downscale run as a single pass.
// A denominator of 1 returns a copy of the input.
func Scale(kernel []float64, denom int) ([]float64, error) {
	if denom == 0 {
		return nil, ErrZeroScale
	}

	scaled := make([]float64, 0, len(kernel)*denom)
	for _, w := range kernel {
		for j := 0; j < denom; j++ {
			scaled = append(scaled, w/float64(denom))
		}
	}

	return scaled, nil
}

// ScaledLength returns the length of a kernel of the given size after
// scaling by denom, without building it.
func ScaledLength(size, denom int) int {
	return (2*size + 1) * denom
}
