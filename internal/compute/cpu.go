package compute

import (
	"fmt"
	"runtime"
	"sync"
)

// Status codes reported by the CPU runtime through DeviceError.
const (
	cpuCodeBadBuffer   = 1
	cpuCodeBadSize     = 2
	cpuCodeEmptySource = 3
	cpuCodeBadKernel   = 4
	cpuCodeUnboundArg  = 5
	cpuCodeBadRange    = 6
)

// CPURuntime is the reference runtime. It exposes the host processor as a
// single CPU-class device on a single platform and executes kernels with a
// bounded worker pool. The order in which work-items run is not observable
// by the host, matching the contract of a real accelerator queue.
type CPURuntime struct {
	workers int
}

// NewCPURuntime creates a CPU runtime sized to the host's processor count.
func NewCPURuntime() *CPURuntime {
	return &CPURuntime{workers: runtime.NumCPU()}
}

// Devices lists the single host device.
func (r *CPURuntime) Devices() []DeviceInfo {
	return []DeviceInfo{r.deviceInfo()}
}

func (r *CPURuntime) deviceInfo() DeviceInfo {
	return DeviceInfo{
		Platform:         "host",
		Name:             fmt.Sprintf("host CPU (%d workers)", r.workers),
		Class:            ClassCPU,
		MaxWorkGroupSize: 1024,
		StrictAlignment:  false,
	}
}

// Open creates a command queue on the host device.
func (r *CPURuntime) Open(index int) (Queue, error) {
	if index != 0 {
		return nil, fmt.Errorf("%w: device index %d", ErrDeviceUnavailable, index)
	}
	return &cpuQueue{runtime: r}, nil
}

// cpuBuffer is a device buffer backed by host memory.
type cpuBuffer struct {
	data   []byte
	access Access
}

func (b *cpuBuffer) Size() int { return len(b.data) }

// cpuQueue implements Queue on the host processor. Launch runs the kernel to
// completion, so Finish has nothing left to wait for; it exists to satisfy
// the barrier points the pipeline requires between dependent kernels.
type cpuQueue struct {
	runtime  *CPURuntime
	mu       sync.Mutex
	buffers  []*cpuBuffer
	released bool
}

func (q *cpuQueue) Device() DeviceInfo { return q.runtime.deviceInfo() }

func (q *cpuQueue) Alloc(size int, access Access) (Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.released {
		return nil, ErrReleased
	}
	if size <= 0 {
		return nil, &DeviceError{Op: "alloc", Code: cpuCodeBadSize}
	}

	buf := &cpuBuffer{data: make([]byte, size), access: access}
	q.buffers = append(q.buffers, buf)
	return buf, nil
}

func (q *cpuQueue) Write(buf Buffer, data []byte) error {
	b, ok := buf.(*cpuBuffer)
	if !ok {
		return &DeviceError{Op: "write", Code: cpuCodeBadBuffer}
	}
	if len(data) > len(b.data) {
		return &DeviceError{Op: "write", Code: cpuCodeBadSize}
	}
	copy(b.data, data)
	return nil
}

func (q *cpuQueue) Read(buf Buffer, dst []byte) error {
	b, ok := buf.(*cpuBuffer)
	if !ok {
		return &DeviceError{Op: "read", Code: cpuCodeBadBuffer}
	}
	if len(dst) > len(b.data) {
		return &DeviceError{Op: "read", Code: cpuCodeBadSize}
	}
	copy(dst, b.data)
	return nil
}

func (q *cpuQueue) BuildProgram(name, source string) (Program, error) {
	if q.isReleased() {
		return nil, ErrReleased
	}
	if source == "" {
		return nil, &DeviceError{Op: "build " + name, Code: cpuCodeEmptySource}
	}
	return &cpuProgram{queue: q, name: name}, nil
}

func (q *cpuQueue) Launch(k Kernel, global, local []int) error {
	ck, ok := k.(*cpuKernel)
	if !ok {
		return &DeviceError{Op: "launch", Code: cpuCodeBadKernel}
	}
	if len(global) == 0 {
		return &DeviceError{Op: "launch " + ck.name, Code: cpuCodeBadRange}
	}
	for _, n := range global {
		if n <= 0 {
			return &DeviceError{Op: "launch " + ck.name, Code: cpuCodeBadRange}
		}
	}
	for i, arg := range ck.args {
		if arg == nil {
			return &DeviceError{Op: fmt.Sprintf("launch %s arg %d", ck.name, i), Code: cpuCodeUnboundArg}
		}
	}

	// The local range is a scheduling hint; the host pool picks its own
	// chunking.
	return ck.fn(ck.args, global, q.runtime.workers)
}

func (q *cpuQueue) Finish() error {
	if q.isReleased() {
		return ErrReleased
	}
	return nil
}

func (q *cpuQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, b := range q.buffers {
		b.data = nil
	}
	q.buffers = nil
	q.released = true
}

func (q *cpuQueue) isReleased() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.released
}

// cpuProgram resolves kernel entry points against the builtin kernel table.
type cpuProgram struct {
	queue *cpuQueue
	name  string
}

func (p *cpuProgram) Kernel(name string) (Kernel, error) {
	spec, ok := cpuKernels[name]
	if !ok {
		return nil, &DeviceError{Op: "kernel " + name, Code: cpuCodeBadKernel}
	}
	return &cpuKernel{name: name, fn: spec.fn, args: make([]*cpuBuffer, spec.argc)}, nil
}

// cpuKernel is a builtin kernel with its bound arguments.
type cpuKernel struct {
	name string
	fn   cpuKernelFunc
	args []*cpuBuffer
}

func (k *cpuKernel) Name() string { return k.name }

func (k *cpuKernel) SetArg(index int, buf Buffer) error {
	if index < 0 || index >= len(k.args) {
		return &DeviceError{Op: fmt.Sprintf("set arg %d on %s", index, k.name), Code: cpuCodeUnboundArg}
	}
	b, ok := buf.(*cpuBuffer)
	if !ok {
		return &DeviceError{Op: fmt.Sprintf("set arg %d on %s", index, k.name), Code: cpuCodeBadBuffer}
	}
	k.args[index] = b
	return nil
}

// parallelRows splits rows across the worker pool. Each row is touched by
// exactly one worker, so kernels writing disjoint rows need no locking.
func parallelRows(rows, workers int, fn func(row int)) {
	if workers < 1 {
		workers = 1
	}
	if workers > rows {
		workers = rows
	}

	if workers == 1 {
		for y := 0; y < rows; y++ {
			fn(y)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (rows + workers - 1) / workers
	for start := 0; start < rows; start += chunk {
		end := start + chunk
		if end > rows {
			end = rows
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				fn(y)
			}
		}(start, end)
	}
	wg.Wait()
}
