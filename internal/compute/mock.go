package compute

// MockRuntime wraps another runtime for tests. It can substitute the device
// enumeration and inject a failure into a named queue operation, which is
// how the pipeline's error paths are exercised without a flaky device.
type MockRuntime struct {
	Inner Runtime

	// DeviceList, when non-nil, replaces the inner runtime's enumeration.
	DeviceList []DeviceInfo

	// FailOp names the queue operation to fail: one of "alloc", "write",
	// "read", "build", "launch", "finish". Empty means never fail.
	FailOp string
	// FailAfter is how many calls of FailOp succeed before the failure.
	FailAfter int
	// FailCode is the code reported in the injected DeviceError.
	FailCode int
}

// NewMockRuntime wraps the CPU reference runtime.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{Inner: NewCPURuntime(), FailCode: -1}
}

// Devices returns the substituted enumeration, or the inner runtime's.
func (m *MockRuntime) Devices() []DeviceInfo {
	if m.DeviceList != nil {
		return m.DeviceList
	}
	return m.Inner.Devices()
}

// Open opens a queue on the inner runtime, wrapped with fault injection.
// When the device list is substituted, every index maps to the inner
// runtime's first device.
func (m *MockRuntime) Open(index int) (Queue, error) {
	if m.DeviceList != nil {
		index = 0
	}
	q, err := m.Inner.Open(index)
	if err != nil {
		return nil, err
	}
	return &mockQueue{runtime: m, inner: q}, nil
}

type mockQueue struct {
	runtime *MockRuntime
	inner   Queue
	counts  map[string]int
}

func (q *mockQueue) fail(op string) error {
	if q.runtime.FailOp != op {
		return nil
	}
	if q.counts == nil {
		q.counts = make(map[string]int)
	}
	if q.counts[op] < q.runtime.FailAfter {
		q.counts[op]++
		return nil
	}
	return &DeviceError{Op: op, Code: q.runtime.FailCode}
}

func (q *mockQueue) Device() DeviceInfo {
	info := q.inner.Device()
	if q.runtime.DeviceList != nil {
		info.StrictAlignment = q.runtime.DeviceList[0].StrictAlignment
		if q.runtime.DeviceList[0].MaxWorkGroupSize > 0 {
			info.MaxWorkGroupSize = q.runtime.DeviceList[0].MaxWorkGroupSize
		}
	}
	return info
}

func (q *mockQueue) Alloc(size int, access Access) (Buffer, error) {
	if err := q.fail("alloc"); err != nil {
		return nil, err
	}
	return q.inner.Alloc(size, access)
}

func (q *mockQueue) Write(buf Buffer, data []byte) error {
	if err := q.fail("write"); err != nil {
		return err
	}
	return q.inner.Write(buf, data)
}

func (q *mockQueue) Read(buf Buffer, dst []byte) error {
	if err := q.fail("read"); err != nil {
		return err
	}
	return q.inner.Read(buf, dst)
}

func (q *mockQueue) BuildProgram(name, source string) (Program, error) {
	if err := q.fail("build"); err != nil {
		return nil, err
	}
	return q.inner.BuildProgram(name, source)
}

func (q *mockQueue) Launch(k Kernel, global, local []int) error {
	if err := q.fail("launch"); err != nil {
		return err
	}
	return q.inner.Launch(k, global, local)
}

func (q *mockQueue) Finish() error {
	if err := q.fail("finish"); err != nil {
		return err
	}
	return q.inner.Finish()
}

func (q *mockQueue) Release() { q.inner.Release() }
