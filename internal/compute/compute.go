// Package compute abstracts the data-parallel runtime that the motion
// pipeline dispatches its kernels to. A Runtime enumerates devices and opens
// command queues; a Queue allocates device buffers, moves bytes between host
// and device, builds kernel programs, and launches them. All transfers and
// launches are blocking so the pipeline stays synchronous.
//
// The package ships a CPU reference runtime so the full pipeline is testable
// without a GPU; other runtimes can be plugged in behind the same interfaces.
package compute

import (
	"errors"
	"fmt"
)

// ErrDeviceUnavailable is returned when device selection cannot satisfy the
// requested device configuration.
var ErrDeviceUnavailable = errors.New("compute: requested device is not available")

// ErrReleased is returned when a queue is used after Release.
var ErrReleased = errors.New("compute: queue has been released")

// DeviceError reports a failed compute runtime call. Op names the call that
// failed and Code is the runtime's status code.
type DeviceError struct {
	Op   string
	Code int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("compute: %s failed with code %d", e.Op, e.Code)
}

// SelectMode controls how a device is chosen from the enumeration.
type SelectMode int

const (
	// SelectCPU picks the first CPU-class device.
	SelectCPU SelectMode = iota
	// SelectGPU picks the first GPU-class device.
	SelectGPU
	// SelectSpecific picks the device at a global index across all
	// platforms in enumeration order.
	SelectSpecific
)

// DeviceConfig selects which device to run on.
type DeviceConfig struct {
	Mode   SelectMode
	Choice int
}

// DeviceClass is the broad category a device belongs to.
type DeviceClass int

const (
	// ClassCPU marks a host-processor device.
	ClassCPU DeviceClass = iota
	// ClassGPU marks a graphics-processor device.
	ClassGPU
)

// DeviceInfo describes one enumerated device.
type DeviceInfo struct {
	// Platform is the name of the platform the device belongs to.
	Platform string
	// Name is the device's human-readable name.
	Name string
	// Class is the device category used by CPU/GPU selection.
	Class DeviceClass
	// MaxWorkGroupSize is the largest local work-group the device accepts.
	MaxWorkGroupSize int
	// StrictAlignment reports whether buffer sizes and global ranges must
	// be padded to 8-element multiples and scalar parameters allocated
	// with 2 elements.
	StrictAlignment bool
}

// Access declares how kernels may use a buffer.
type Access int

const (
	// ReadOnly buffers are written by the host and read by kernels.
	ReadOnly Access = iota
	// ReadWrite buffers are read and written by kernels.
	ReadWrite
	// WriteOnly buffers are written by kernels and read back by the host.
	WriteOnly
)

// Buffer is an opaque handle to device memory.
type Buffer interface {
	// Size returns the allocated size in bytes.
	Size() int
}

// Kernel is a compiled kernel with bindable arguments.
type Kernel interface {
	// Name returns the kernel's entry-point name.
	Name() string
	// SetArg binds a buffer to the argument at the given index.
	SetArg(index int, buf Buffer) error
}

// Program is a built kernel program.
type Program interface {
	// Kernel resolves a kernel entry point by name.
	Kernel(name string) (Kernel, error)
}

// Queue is a blocking command queue on one device.
type Queue interface {
	// Device describes the device this queue runs on.
	Device() DeviceInfo
	// Alloc creates a zero-initialized device buffer of the given byte size.
	Alloc(size int, access Access) (Buffer, error)
	// Write copies host bytes into a buffer, blocking until complete.
	Write(buf Buffer, data []byte) error
	// Read copies a buffer back into dst, blocking until complete.
	Read(buf Buffer, dst []byte) error
	// BuildProgram compiles kernel source text into a program.
	BuildProgram(name, source string) (Program, error)
	// Launch enqueues a kernel over the global range and blocks until the
	// runtime accepts it. A nil local range lets the runtime choose.
	Launch(k Kernel, global, local []int) error
	// Finish blocks until all enqueued work has completed.
	Finish() error
	// Release frees every buffer and program owned by the queue.
	Release()
}

// Runtime enumerates compute devices and opens queues on them.
type Runtime interface {
	// Devices lists every device across all platforms, platforms in
	// enumeration order and devices in order within each platform.
	Devices() []DeviceInfo
	// Open creates a command queue on the device at the given index into
	// the Devices enumeration.
	Open(index int) (Queue, error)
}

// Select resolves a device configuration against a runtime's enumeration and
// returns the chosen device index and its description.
func Select(r Runtime, cfg DeviceConfig) (int, DeviceInfo, error) {
	devices := r.Devices()

	switch cfg.Mode {
	case SelectGPU:
		for i, d := range devices {
			if d.Class == ClassGPU {
				return i, d, nil
			}
		}
		return 0, DeviceInfo{}, fmt.Errorf("%w: no GPU device found", ErrDeviceUnavailable)

	case SelectSpecific:
		if cfg.Choice < 0 || cfg.Choice >= len(devices) {
			return 0, DeviceInfo{}, fmt.Errorf("%w: device index %d out of range (%d devices)",
				ErrDeviceUnavailable, cfg.Choice, len(devices))
		}
		return cfg.Choice, devices[cfg.Choice], nil

	case SelectCPU:
		fallthrough
	default:
		for i, d := range devices {
			if d.Class == ClassCPU {
				return i, d, nil
			}
		}
		return 0, DeviceInfo{}, fmt.Errorf("%w: no CPU device found", ErrDeviceUnavailable)
	}
}
