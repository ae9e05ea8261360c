package motion

import (
	"fmt"
	"io"
	"log"

	"github.com/ayusman/vigil/internal/compute"
	"github.com/ayusman/vigil/internal/decode"
	"github.com/ayusman/vigil/internal/gaussian"
)

// maxWorkGroup caps the probed local work-group size regardless of what the
// device reports.
const maxWorkGroup = 1024

// alignStride is the padding multiple applied to buffer sizes and global
// ranges on strict-alignment devices.
const alignStride = 8

type state int

const (
	stateReady state = iota
	stateProcessing
	stateDestroyed
)

// Detector runs the motion detection pipeline for one video stream. It owns
// all device buffers and the host-side frame history; both are allocated at
// construction and released by Close. A Detector is not safe for concurrent
// use; multiple detectors may share a device.
type Detector struct {
	video  VideoSettings
	cfg    Config
	device compute.DeviceConfig
	geom   geometry

	queue compute.Queue
	info  compute.DeviceInfo
	state state

	decoder *decode.Decompressor
	ring    *frameRing

	// Host-side scratch for device read-backs, reused across frames.
	scaledScratch []byte
	diffScratch   []byte

	// lastChanged is the changed-pixel count of the last successful frame.
	lastChanged int

	// Device buffers, grouped by the pass that reads or writes them.
	gaussianBuf     compute.Buffer
	gaussianSizeBuf compute.Buffer
	scaleBuf        compute.Buffer
	colorsBuf       compute.Buffer
	inputBuf        compute.Buffer
	inputWidthBuf   compute.Buffer
	outputWidthBuf  compute.Buffer
	intermediateBuf compute.Buffer
	scaledBuf       compute.Buffer
	bgRemoveBuf     compute.Buffer
	mvtRemoveBuf    compute.Buffer
	bgLengthBuf     compute.Buffer
	mvtLengthBuf    compute.Buffer
	stabilBgBuf     compute.Buffer
	stabilMvtBuf    compute.Buffer
	pixelDiffBuf    compute.Buffer
	diffBuf         compute.Buffer

	verticalKernel   compute.Kernel
	horizontalKernel compute.Kernel
	stabilizeKernel  compute.Kernel

	// Work sizes, padded on strict-alignment devices.
	verticalGlobal   []int
	horizontalGlobal []int
	stabilizeGlobal  []int
	local2D          []int
	local1D          []int
}

// New validates the settings, selects a device, allocates and zeroes every
// buffer, and compiles the kernels. infoLog receives device-name and
// kernel-compile diagnostics; nil discards them. On error no resources
// remain allocated.
func New(video VideoSettings, cfg Config, device compute.DeviceConfig, rt compute.Runtime, infoLog *log.Logger) (*Detector, error) {
	if infoLog == nil {
		infoLog = log.New(io.Discard, "", 0)
	}

	if err := cfg.validate(video); err != nil {
		return nil, err
	}

	idx, info, err := compute.Select(rt, device)
	if err != nil {
		return nil, err
	}

	queue, err := rt.Open(idx)
	if err != nil {
		return nil, err
	}
	infoLog.Printf("selected device: %s (%s)", info.Name, info.Platform)

	d := &Detector{
		video:   video,
		cfg:     cfg,
		device:  device,
		geom:    newGeometry(video, cfg),
		queue:   queue,
		info:    queue.Device(),
		state:   stateReady,
		decoder: decode.New(video.Width, video.Height, video.Format, cfg.DecodeMethod),
	}
	d.ring = newFrameRing(cfg.BgStabilLength, cfg.MotionStabilLength, d.geom.scaledSize)
	d.scaledScratch = make([]byte, d.geom.scaledSize)
	d.diffScratch = make([]byte, d.geom.scaledSize)

	if err := d.initBuffers(); err != nil {
		queue.Release()
		return nil, err
	}
	if err := d.initKernels(infoLog); err != nil {
		queue.Release()
		return nil, err
	}
	d.initWorkSizes(infoLog)

	infoLog.Printf("scaled frame resolution: %dx%d", d.geom.scaledWidth, d.geom.scaledHeight)

	return d, nil
}

// VideoSettings returns the input video settings.
func (d *Detector) VideoSettings() VideoSettings { return d.video }

// Config returns the motion configuration.
func (d *Detector) Config() Config { return d.cfg }

// Device returns the device configuration the detector was built with.
func (d *Detector) Device() compute.DeviceConfig { return d.device }

// Close releases every device resource. The detector cannot be used
// afterwards.
func (d *Detector) Close() {
	if d.state == stateDestroyed {
		return
	}
	d.destroy()
}

func (d *Detector) destroy() {
	d.state = stateDestroyed
	d.queue.Release()
}

// DetectOnFrame decompresses a JPEG frame and runs the pipeline on it.
// Decode failures leave the detector state untouched and may be retried.
func (d *Detector) DetectOnFrame(jpeg []byte) (bool, error) {
	if d.state == stateDestroyed {
		return false, ErrDestroyed
	}

	frame, err := d.decoder.Decompress(jpeg)
	if err != nil {
		return false, err
	}

	return d.DetectOnDecompressedFrame(frame)
}

// DetectOnDecompressedFrame runs the pipeline on an already-decoded packed
// pixel frame of length width*height*channels. A device failure destroys
// the detector so the history can never be left partially updated.
func (d *Detector) DetectOnDecompressedFrame(frame []byte) (bool, error) {
	if d.state == stateDestroyed {
		return false, ErrDestroyed
	}
	if len(frame) != d.geom.inputSize {
		return false, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), d.geom.inputSize)
	}

	d.state = stateProcessing
	detected, err := d.processFrame(frame)
	if err != nil {
		d.destroy()
		return false, err
	}
	d.state = stateReady

	return detected, nil
}

// processFrame runs one full tick: blur/scale, ring advance, stabilize, and
// the reduction to a verdict. Device barriers sit between the vertical and
// horizontal passes (they share the intermediate buffer) and between the
// horizontal pass and stabilization (they share the scaled buffer).
func (d *Detector) processFrame(frame []byte) (bool, error) {
	q := d.queue

	// Blur and scale
	if err := q.Write(d.inputBuf, frame); err != nil {
		return false, err
	}
	if err := q.Launch(d.verticalKernel, d.verticalGlobal, d.local2D); err != nil {
		return false, err
	}
	if err := q.Finish(); err != nil {
		return false, err
	}
	if err := q.Launch(d.horizontalKernel, d.horizontalGlobal, d.local2D); err != nil {
		return false, err
	}
	if err := q.Finish(); err != nil {
		return false, err
	}

	// Pull the scaled frame into the history ring for future eviction; the
	// stabilize kernel reads the copy still on the device.
	if err := q.Read(d.scaledBuf, d.scaledScratch); err != nil {
		return false, err
	}
	d.ring.push(d.scaledScratch)

	// Stabilize and compare
	bgEvict, mvtEvict := d.ring.advance()
	if err := q.Write(d.bgRemoveBuf, bgEvict); err != nil {
		return false, err
	}
	if err := q.Write(d.mvtRemoveBuf, mvtEvict); err != nil {
		return false, err
	}
	if err := q.Launch(d.stabilizeKernel, d.stabilizeGlobal, d.local1D); err != nil {
		return false, err
	}
	if err := q.Finish(); err != nil {
		return false, err
	}

	// Reduce the difference mask to the verdict
	if err := q.Read(d.diffBuf, d.diffScratch); err != nil {
		return false, err
	}
	changed := 0
	for _, px := range d.diffScratch {
		if px != 0 {
			changed++
		}
	}
	d.lastChanged = changed

	return changed > d.geom.diffThreshold, nil
}

// ChangedPixels returns the changed-pixel count of the last successful
// frame.
func (d *Detector) ChangedPixels() int { return d.lastChanged }

// frameBytes pads a frame buffer size on strict-alignment devices.
func (d *Detector) frameBytes(size int) int {
	if !d.info.StrictAlignment {
		return size
	}
	return alignUp(size, alignStride)
}

// scalarBytes sizes a scalar parameter buffer: strict-alignment devices get
// two elements.
func (d *Detector) scalarBytes(elemSize int) int {
	if !d.info.StrictAlignment {
		return elemSize
	}
	return 2 * elemSize
}

func (d *Detector) initBuffers() error {
	q := d.queue
	g := d.geom

	kernel := gaussian.Generate(d.cfg.GaussianSize)
	scaled, err := gaussian.Scale(kernel, d.cfg.ScaleDenominator)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// The device carries the gaussian as float32; the narrowing conversion
	// happens once here on the host.
	if d.gaussianBuf, err = d.allocWrite(d.frameBytes(len(scaled)*compute.SizeFloat32), compute.ReadOnly,
		compute.EncodeFloat32s(scaled)); err != nil {
		return err
	}
	if d.gaussianSizeBuf, err = d.allocWrite(d.scalarBytes(compute.SizeInt32), compute.ReadOnly,
		compute.EncodeInt32s(int32(len(scaled)))); err != nil {
		return err
	}
	if d.scaleBuf, err = d.allocWrite(d.scalarBytes(compute.SizeInt32), compute.ReadOnly,
		compute.EncodeInt32s(int32(d.cfg.ScaleDenominator))); err != nil {
		return err
	}
	if d.colorsBuf, err = d.allocWrite(d.scalarBytes(compute.SizeInt32), compute.ReadOnly,
		compute.EncodeInt32s(int32(d.video.Format.Channels()))); err != nil {
		return err
	}
	if d.inputWidthBuf, err = d.allocWrite(d.scalarBytes(compute.SizeInt32), compute.ReadOnly,
		compute.EncodeInt32s(int32(d.video.Width))); err != nil {
		return err
	}
	if d.outputWidthBuf, err = d.allocWrite(d.scalarBytes(compute.SizeInt32), compute.ReadOnly,
		compute.EncodeInt32s(int32(g.scaledWidth))); err != nil {
		return err
	}

	// Frame buffers are zero-initialized by Alloc.
	if d.inputBuf, err = q.Alloc(d.frameBytes(g.inputSize), compute.ReadOnly); err != nil {
		return err
	}
	if d.intermediateBuf, err = q.Alloc(d.frameBytes(g.intermediateSize), compute.ReadWrite); err != nil {
		return err
	}
	if d.scaledBuf, err = q.Alloc(d.frameBytes(g.scaledSize), compute.ReadWrite); err != nil {
		return err
	}
	if d.bgRemoveBuf, err = q.Alloc(d.frameBytes(g.scaledSize), compute.ReadOnly); err != nil {
		return err
	}
	if d.mvtRemoveBuf, err = q.Alloc(d.frameBytes(g.scaledSize), compute.ReadOnly); err != nil {
		return err
	}
	if d.stabilBgBuf, err = q.Alloc(d.frameBytes(g.scaledSize*compute.SizeFloat64), compute.ReadWrite); err != nil {
		return err
	}
	if d.stabilMvtBuf, err = q.Alloc(d.frameBytes(g.scaledSize*compute.SizeFloat64), compute.ReadWrite); err != nil {
		return err
	}
	if d.diffBuf, err = q.Alloc(d.frameBytes(g.scaledSize), compute.WriteOnly); err != nil {
		return err
	}

	// Stabilization lengths ride along as doubles so the kernel divides
	// without converting.
	if d.bgLengthBuf, err = d.allocWrite(d.scalarBytes(compute.SizeFloat64), compute.ReadOnly,
		compute.EncodeFloat64s([]float64{float64(d.cfg.BgStabilLength)})); err != nil {
		return err
	}
	if d.mvtLengthBuf, err = d.allocWrite(d.scalarBytes(compute.SizeFloat64), compute.ReadOnly,
		compute.EncodeFloat64s([]float64{float64(d.cfg.MotionStabilLength)})); err != nil {
		return err
	}
	if d.pixelDiffBuf, err = d.allocWrite(d.scalarBytes(compute.SizeUint32), compute.ReadOnly,
		compute.EncodeUint32s(uint32(d.cfg.MinPixelDiff))); err != nil {
		return err
	}

	return nil
}

func (d *Detector) allocWrite(size int, access compute.Access, data []byte) (compute.Buffer, error) {
	buf, err := d.queue.Alloc(size, access)
	if err != nil {
		return nil, err
	}
	if err := d.queue.Write(buf, data); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Detector) initKernels(infoLog *log.Logger) error {
	var err error

	d.verticalKernel, err = d.buildKernel(infoLog, compute.KernelBlurScaleVertical,
		d.gaussianBuf, d.gaussianSizeBuf, d.scaleBuf, d.colorsBuf, d.inputBuf, d.inputWidthBuf, d.intermediateBuf)
	if err != nil {
		return err
	}

	d.horizontalKernel, err = d.buildKernel(infoLog, compute.KernelBlurScaleHorizontal,
		d.gaussianBuf, d.gaussianSizeBuf, d.scaleBuf, d.intermediateBuf, d.inputWidthBuf, d.outputWidthBuf, d.scaledBuf)
	if err != nil {
		return err
	}

	d.stabilizeKernel, err = d.buildKernel(infoLog, compute.KernelStabilize,
		d.bgRemoveBuf, d.mvtRemoveBuf, d.scaledBuf, d.bgLengthBuf, d.mvtLengthBuf,
		d.stabilBgBuf, d.stabilMvtBuf, d.pixelDiffBuf, d.diffBuf)
	return err
}

func (d *Detector) buildKernel(infoLog *log.Logger, name string, args ...compute.Buffer) (compute.Kernel, error) {
	source, err := compute.KernelSource(d.cfg.KernelDir, name)
	if err != nil {
		return nil, err
	}

	program, err := d.queue.BuildProgram(name, source)
	if err != nil {
		return nil, err
	}

	kernel, err := program.Kernel(name)
	if err != nil {
		return nil, err
	}

	for i, buf := range args {
		if err := kernel.SetArg(i, buf); err != nil {
			return nil, err
		}
	}

	infoLog.Printf("compiled kernel: %s", name)
	return kernel, nil
}

// initWorkSizes fixes the global ranges for the three kernels and probes a
// local work-group size: the largest divisor of each scaled dimension below
// the device's limit. The local size is a latency heuristic, not a
// correctness requirement; runtimes may ignore it.
func (d *Detector) initWorkSizes(infoLog *log.Logger) {
	g := d.geom

	limit := d.info.MaxWorkGroupSize
	if limit <= 0 || limit > maxWorkGroup {
		limit = maxWorkGroup
	}

	localX := largestDivisor(g.scaledWidth, limit)
	localY := largestDivisor(g.scaledHeight, limit)
	local := largestDivisor(g.scaledWidth*g.scaledHeight, limit)
	d.local2D = []int{localX, localY}
	d.local1D = []int{local}
	infoLog.Printf("thread block sizes: 2D %dx%d, 1D %d", localX, localY, local)

	d.verticalGlobal = d.globalRange(d.video.Width, g.scaledHeight)
	d.horizontalGlobal = d.globalRange(g.scaledWidth, g.scaledHeight)
	d.stabilizeGlobal = d.globalRange(g.scaledWidth * g.scaledHeight)
}

// globalRange pads each dimension on strict-alignment devices; the kernels
// range-check against the true logical extents.
func (d *Detector) globalRange(dims ...int) []int {
	out := make([]int, len(dims))
	for i, n := range dims {
		if d.info.StrictAlignment {
			n = alignUp(n, alignStride)
		}
		out[i] = n
	}
	return out
}

func alignUp(n, multiple int) int {
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}

// largestDivisor returns the largest divisor of n that is at most max, and
// at least 1.
func largestDivisor(n, max int) int {
	best := 1
	for i := 1; i <= n && i <= max; i++ {
		if n%i == 0 {
			best = i
		}
	}
	return best
}
