package compute

import (
	"encoding/binary"
	"math"
)

// Device buffers are raw bytes; numeric values cross the host/device
// boundary in little-endian form. Element sizes in bytes:
const (
	SizeFloat32 = 4
	SizeFloat64 = 8
	SizeInt32   = 4
	SizeUint32  = 4
)

// EncodeFloat32s converts host float64 values to the device's float32
// representation. The narrowing happens here, once, on the host.
func EncodeFloat32s(vals []float64) []byte {
	out := make([]byte, len(vals)*SizeFloat32)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*SizeFloat32:], math.Float32bits(float32(v)))
	}
	return out
}

// EncodeFloat64s encodes float64 values for a device buffer.
func EncodeFloat64s(vals []float64) []byte {
	out := make([]byte, len(vals)*SizeFloat64)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*SizeFloat64:], math.Float64bits(v))
	}
	return out
}

// EncodeInt32s encodes int32 scalar parameters for a device buffer.
func EncodeInt32s(vals ...int32) []byte {
	out := make([]byte, len(vals)*SizeInt32)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*SizeInt32:], uint32(v))
	}
	return out
}

// EncodeUint32s encodes uint32 scalar parameters for a device buffer.
func EncodeUint32s(vals ...uint32) []byte {
	out := make([]byte, len(vals)*SizeUint32)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*SizeUint32:], v)
	}
	return out
}

// DecodeFloat64s reads float64 values back out of a device buffer image.
func DecodeFloat64s(data []byte) []float64 {
	out := make([]float64, len(data)/SizeFloat64)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*SizeFloat64:]))
	}
	return out
}

// Unexported accessors used by the CPU kernels.

func float32At(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*SizeFloat32:]))
}

func float64At(b []byte, i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[i*SizeFloat64:]))
}

func putFloat64(b []byte, i int, v float64) {
	binary.LittleEndian.PutUint64(b[i*SizeFloat64:], math.Float64bits(v))
}

func int32At(b []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(b[i*SizeInt32:]))
}

func uint32At(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*SizeUint32:])
}
