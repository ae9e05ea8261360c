// Package decode turns compressed JPEG frames into the packed pixel buffers
// the motion pipeline consumes, using GoCV (OpenCV) for the decompression.
package decode

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrDecode is returned when a frame cannot be decompressed or does not
// match the configured geometry.
var ErrDecode = errors.New("decode: failed to decompress frame")

// Format selects the pixel layout frames are decompressed into.
type Format int

const (
	// FormatRGB packs three interleaved bytes per pixel in R, G, B order.
	FormatRGB Format = iota
	// FormatGray packs one byte per pixel.
	FormatGray
)

// Channels returns the number of bytes per pixel for the format.
func (f Format) Channels() int {
	if f == FormatGray {
		return 1
	}
	return 3
}

// String returns the format name.
func (f Format) String() string {
	if f == FormatGray {
		return "gray"
	}
	return "rgb"
}

// Method selects the decompression trade-off. The fast method is accepted
// for compatibility but decodes with the accurate path, which is the
// default.
type Method int

const (
	// MethodAccurate is the slower, more precise decode path.
	MethodAccurate Method = iota
	// MethodFast is accepted as a hint; decoding behaves as MethodAccurate.
	MethodFast
)

// Decompressor decodes JPEG frames of a fixed geometry into packed pixels.
type Decompressor struct {
	width  int
	height int
	format Format
	method Method
}

// New creates a Decompressor for frames of the given geometry.
func New(width, height int, format Format, method Method) *Decompressor {
	return &Decompressor{
		width:  width,
		height: height,
		format: format,
		method: method,
	}
}

// Size returns the byte length of a decompressed frame.
func (d *Decompressor) Size() int {
	return d.width * d.height * d.format.Channels()
}

// Decompress decodes one JPEG frame and returns a packed pixel buffer of
// length Size(), owned by the caller. Frames whose decoded dimensions do
// not match the configured geometry are rejected.
func (d *Decompressor) Decompress(jpeg []byte) ([]byte, error) {
	if len(jpeg) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	flags := gocv.IMReadColor
	if d.format == FormatGray {
		flags = gocv.IMReadGrayScale
	}

	mat, err := gocv.IMDecode(jpeg, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("%w: decoder produced no image", ErrDecode)
	}
	if mat.Cols() != d.width {
		return nil, fmt.Errorf("%w: width %d does not match expected %d", ErrDecode, mat.Cols(), d.width)
	}
	if mat.Rows() != d.height {
		return nil, fmt.Errorf("%w: height %d does not match expected %d", ErrDecode, mat.Rows(), d.height)
	}

	if d.format == FormatGray {
		return mat.ToBytes(), nil
	}

	// OpenCV decodes to BGR; the pipeline wants R,G,B order
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	return rgb.ToBytes(), nil
}
