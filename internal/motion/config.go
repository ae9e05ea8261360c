// Package motion implements the motion detection pipeline: a separable
// Gaussian blur-and-scale, a dual-reservoir running-average stabilizer of
// background and movement frames, and a thresholded per-pixel difference
// reduced to a boolean verdict per frame. The pixel-level passes run as
// kernels on a compute runtime; the orchestration runs on the host.
package motion

import (
	"errors"
	"fmt"

	"github.com/ayusman/vigil/internal/decode"
	"github.com/ayusman/vigil/internal/gaussian"
)

// ErrInvalidConfig is returned when the video settings or motion
// configuration cannot produce a valid pipeline.
var ErrInvalidConfig = errors.New("motion: invalid configuration")

// ErrDestroyed is returned when a detector is used after a device failure
// or after Close.
var ErrDestroyed = errors.New("motion: detector has been destroyed")

// ErrFrameSize is returned when a decompressed frame does not have the
// byte length implied by the video settings.
var ErrFrameSize = errors.New("motion: frame has wrong byte length")

// VideoSettings describes the decompressed video stream feeding the
// detector.
type VideoSettings struct {
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int
	// FPS is informational; it does not affect detection.
	FPS int
	// Format is the packed pixel layout of decompressed frames.
	Format decode.Format
}

// Config tunes the motion detection pipeline.
type Config struct {
	// GaussianSize is the blur size: 0 means no blur, 1 a 3-tap kernel,
	// 2 a 5-tap kernel, and so on.
	GaussianSize int
	// ScaleDenominator is the integer factor frames are downscaled by.
	ScaleDenominator int
	// BgStabilLength is the number of frames averaged into the
	// stabilized background.
	BgStabilLength int
	// MotionStabilLength is the number of frames averaged into the
	// stabilized movement.
	MotionStabilLength int
	// MinPixelDiff is the minimum difference between stabilized means
	// for a pixel to count as changed, in [0, 255].
	MinPixelDiff int
	// MinChangedPixels is the fraction of scaled pixels that must change
	// for a frame to count as motion, in [0, 1].
	MinChangedPixels float64
	// DecodeMethod selects the JPEG decompression trade-off.
	DecodeMethod decode.Method
	// KernelDir optionally overrides the embedded kernel sources.
	KernelDir string
}

// DefaultConfig returns a configuration suitable for a 640x480 stream.
func DefaultConfig() Config {
	return Config{
		GaussianSize:       1,
		ScaleDenominator:   2,
		BgStabilLength:     10,
		MotionStabilLength: 2,
		MinPixelDiff:       10,
		MinChangedPixels:   0.01,
		DecodeMethod:       decode.MethodAccurate,
	}
}

// validate rejects configurations the pipeline cannot run. The geometry
// constraint is that the scaled Gaussian must fit inside both frame
// dimensions.
func (c Config) validate(video VideoSettings) error {
	if video.Width <= 0 || video.Height <= 0 {
		return fmt.Errorf("%w: frame dimensions %dx%d must be positive", ErrInvalidConfig, video.Width, video.Height)
	}
	if c.GaussianSize < 0 {
		return fmt.Errorf("%w: gaussian size cannot be negative", ErrInvalidConfig)
	}
	if c.ScaleDenominator == 0 {
		return fmt.Errorf("%w: scale denominator cannot be 0", ErrInvalidConfig)
	}
	if c.ScaleDenominator < 0 {
		return fmt.Errorf("%w: scale denominator cannot be negative", ErrInvalidConfig)
	}
	if c.BgStabilLength == 0 {
		return fmt.Errorf("%w: background stabilization length cannot be 0", ErrInvalidConfig)
	}
	if c.BgStabilLength < 0 {
		return fmt.Errorf("%w: background stabilization length cannot be negative", ErrInvalidConfig)
	}
	if c.MotionStabilLength == 0 {
		return fmt.Errorf("%w: movement stabilization length cannot be 0", ErrInvalidConfig)
	}
	if c.MotionStabilLength < 0 {
		return fmt.Errorf("%w: movement stabilization length cannot be negative", ErrInvalidConfig)
	}
	if c.MinPixelDiff < 0 || c.MinPixelDiff > 255 {
		return fmt.Errorf("%w: minimum pixel difference %d must be in [0, 255]", ErrInvalidConfig, c.MinPixelDiff)
	}
	if c.MinChangedPixels < 0 {
		return fmt.Errorf("%w: minimum changed pixels cannot be negative", ErrInvalidConfig)
	}
	if c.MinChangedPixels > 1 {
		return fmt.Errorf("%w: minimum changed pixels cannot be greater than 1", ErrInvalidConfig)
	}

	g := gaussian.ScaledLength(c.GaussianSize, c.ScaleDenominator)
	if video.Width < g {
		return fmt.Errorf("%w: width %d is smaller than the scaled gaussian length %d", ErrInvalidConfig, video.Width, g)
	}
	if video.Height < g {
		return fmt.Errorf("%w: height %d is smaller than the scaled gaussian length %d", ErrInvalidConfig, video.Height, g)
	}

	return nil
}
