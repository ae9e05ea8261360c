// Package testdata synthesizes video frames for tests. Frames are generated
// rather than checked in so tests can state pixel values next to the
// assertions that depend on them.
package testdata

import (
	"fmt"

	"gocv.io/x/gocv"
)

// UniformGrayFrame builds a packed single-channel frame with every pixel set
// to the same value.
func UniformGrayFrame(width, height int, value byte) []byte {
	frame := make([]byte, width*height)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

// UniformRGBFrame builds a packed R,G,B frame with every pixel set to the
// same color.
func UniformRGBFrame(width, height int, r, g, b byte) []byte {
	frame := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		frame[i*3] = r
		frame[i*3+1] = g
		frame[i*3+2] = b
	}
	return frame
}

// GrayFrame builds a packed single-channel frame from explicit pixel values.
// The number of values must be width*height.
func GrayFrame(width, height int, values ...byte) []byte {
	if len(values) != width*height {
		panic(fmt.Sprintf("testdata: GrayFrame needs %d values, got %d", width*height, len(values)))
	}
	frame := make([]byte, len(values))
	copy(frame, values)
	return frame
}

// UniformGrayJPEG encodes a uniform single-channel frame as JPEG.
func UniformGrayJPEG(width, height int, value byte) ([]byte, error) {
	mat := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(value), 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	defer mat.Close()

	return encodeJPEG(mat)
}

// UniformRGBJPEG encodes a uniform color frame as JPEG.
func UniformRGBJPEG(width, height int, r, g, b byte) ([]byte, error) {
	// OpenCV mats are BGR ordered
	mat := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(b), float64(g), float64(r), 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	return encodeJPEG(mat)
}

// GrayJPEG encodes explicit single-channel pixel values as JPEG.
func GrayJPEG(width, height int, values ...byte) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC1, GrayFrame(width, height, values...))
	if err != nil {
		return nil, fmt.Errorf("build frame mat: %w", err)
	}
	defer mat.Close()

	return encodeJPEG(mat)
}

func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	jpeg := make([]byte, buf.Len())
	copy(jpeg, buf.GetBytes())
	return jpeg, nil
}
