package motion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/vigil/internal/compute"
	"github.com/ayusman/vigil/internal/decode"
	"github.com/ayusman/vigil/testdata"
)

func newTestDetector(t *testing.T, video VideoSettings, cfg Config) *Detector {
	t.Helper()

	d, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, compute.NewCPURuntime(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func detect(t *testing.T, d *Detector, frame []byte) bool {
	t.Helper()

	got, err := d.DetectOnDecompressedFrame(frame)
	if err != nil {
		t.Fatalf("DetectOnDecompressedFrame error = %v", err)
	}
	return got
}

// Feeding the same frame twice settles both reservoirs on the same value,
// so the second verdict must be false even with a zero pixel fraction.
func TestDetector_SameFrameNullDetection(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatRGB}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinPixelDiff: 5, MinChangedPixels: 0,
	}
	d := newTestDetector(t, video, cfg)

	white := testdata.UniformRGBFrame(3, 3, 255, 255, 255)

	// The first frame lands in an empty movement window: a warm-up
	// artifact callers are told to discard.
	detect(t, d, white)

	if detect(t, d, white) {
		t.Error("second identical frame must not detect motion")
	}
}

func TestDetector_BlackThenGrey(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatRGB}
	base := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinChangedPixels: 0,
	}

	black := testdata.UniformRGBFrame(3, 3, 0, 0, 0)
	grey := testdata.UniformRGBFrame(3, 3, 127, 127, 127)

	// The stabilized means differ by exactly 127
	t.Run("threshold below delta", func(t *testing.T) {
		cfg := base
		cfg.MinPixelDiff = 124
		d := newTestDetector(t, video, cfg)

		detect(t, d, black)
		if !detect(t, d, grey) {
			t.Error("grey after black must detect with p=124")
		}
	})

	t.Run("threshold above delta", func(t *testing.T) {
		cfg := base
		cfg.MinPixelDiff = 130
		d := newTestDetector(t, video, cfg)

		detect(t, d, black)
		if detect(t, d, grey) {
			t.Error("grey after black must not detect with p=130")
		}
	})
}

// One black frame then ten white: the background mean is pulled down by the
// black frame ((0 + 9*255)/10 = 229.5) while the movement mean is 255, a
// delta of 25.5.
func TestDetector_BackgroundAveraging(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatGray}
	base := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 10, MotionStabilLength: 1,
		MinChangedPixels: 0,
	}

	run := func(t *testing.T, pixelDiff int) bool {
		cfg := base
		cfg.MinPixelDiff = pixelDiff
		d := newTestDetector(t, video, cfg)

		detect(t, d, testdata.UniformGrayFrame(3, 3, 0))
		last := false
		for i := 0; i < 10; i++ {
			last = detect(t, d, testdata.UniformGrayFrame(3, 3, 255))
		}
		return last
	}

	if !run(t, 22) {
		t.Error("delta 25.5 must detect with p=22")
	}
	if run(t, 28) {
		t.Error("delta 25.5 must not detect with p=28")
	}
}

// The symmetric case: ten black frames then one white with the window
// lengths swapped. The white frame lifts the movement mean to 25.5 while
// the background stays black.
func TestDetector_MovementAveraging(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatGray}
	base := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 10,
		MinChangedPixels: 0,
	}

	run := func(t *testing.T, pixelDiff int) bool {
		cfg := base
		cfg.MinPixelDiff = pixelDiff
		d := newTestDetector(t, video, cfg)

		for i := 0; i < 10; i++ {
			detect(t, d, testdata.UniformGrayFrame(3, 3, 0))
		}
		return detect(t, d, testdata.UniformGrayFrame(3, 3, 255))
	}

	if !run(t, 22) {
		t.Error("delta 25.5 must detect with p=22")
	}
	if run(t, 28) {
		t.Error("delta 25.5 must not detect with p=28")
	}
}

// Five of nine pixels change: the verdict depends on the changed-pixel
// fraction crossing min_changed_pixels.
func TestDetector_HalfChangedFrame(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatGray}
	base := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinPixelDiff: 5,
	}

	frameA := testdata.UniformGrayFrame(3, 3, 255)
	frameB := testdata.GrayFrame(3, 3,
		0, 0, 0,
		0, 0, 255,
		255, 255, 255,
	)

	t.Run("fraction 0.5", func(t *testing.T) {
		cfg := base
		cfg.MinChangedPixels = 0.5
		d := newTestDetector(t, video, cfg)

		detect(t, d, frameA)
		if !detect(t, d, frameB) {
			t.Error("5/9 changed pixels must detect with f=0.5")
		}
	})

	t.Run("fraction 0.6", func(t *testing.T) {
		cfg := base
		cfg.MinChangedPixels = 0.6
		d := newTestDetector(t, video, cfg)

		detect(t, d, frameA)
		if detect(t, d, frameB) {
			t.Error("5/9 changed pixels must not detect with f=0.6")
		}
	})
}

func TestDetector_GeometryRejection(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 480, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 1, ScaleDenominator: 2,
		BgStabilLength: 1, MotionStabilLength: 1,
	}

	_, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, compute.NewCPURuntime(), nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

// After the warm-up window a constant stream settles both reservoirs, so
// the verdict is false even with the pixel threshold at zero.
func TestDetector_SteadyStateIdentity(t *testing.T) {
	video := VideoSettings{Width: 5, Height: 5, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 2, MotionStabilLength: 2,
		MinPixelDiff: 0, MinChangedPixels: 0,
	}
	d := newTestDetector(t, video, cfg)

	frame := testdata.UniformGrayFrame(5, 5, 100)
	n := cfg.BgStabilLength + cfg.MotionStabilLength + 1

	for i := 0; i < n; i++ {
		detect(t, d, frame)
	}

	if detect(t, d, frame) {
		t.Error("constant stream must not detect motion after warm-up")
	}
}

func TestDetector_Deterministic(t *testing.T) {
	video := VideoSettings{Width: 6, Height: 6, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 1, ScaleDenominator: 1,
		BgStabilLength: 3, MotionStabilLength: 2,
		MinPixelDiff: 8, MinChangedPixels: 0.1,
	}

	d1 := newTestDetector(t, video, cfg)
	d2 := newTestDetector(t, video, cfg)

	// A fixed pseudo-random frame sequence
	seed := byte(17)
	for i := 0; i < 20; i++ {
		frame := make([]byte, 36)
		for j := range frame {
			seed = seed*31 + 7
			frame[j] = seed
		}

		v1 := detect(t, d1, frame)
		v2 := detect(t, d2, frame)
		if v1 != v2 {
			t.Fatalf("frame %d: verdicts diverge (%v vs %v)", i, v1, v2)
		}
	}
}

// With no blur and no scaling, a GRAY stream and the equivalent RGB stream
// must produce identical verdicts: the luma reduction maps (v,v,v) to v.
func TestDetector_LumaEquivalence(t *testing.T) {
	cfgGray := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 2, MotionStabilLength: 1,
		MinPixelDiff: 10, MinChangedPixels: 0,
	}

	gray := newTestDetector(t, VideoSettings{Width: 4, Height: 4, Format: decode.FormatGray}, cfgGray)
	rgb := newTestDetector(t, VideoSettings{Width: 4, Height: 4, Format: decode.FormatRGB}, cfgGray)

	values := []byte{0, 40, 200, 200, 40, 0}
	for i, v := range values {
		vGray := detect(t, gray, testdata.UniformGrayFrame(4, 4, v))
		vRGB := detect(t, rgb, testdata.UniformRGBFrame(4, 4, v, v, v))
		if vGray != vRGB {
			t.Fatalf("frame %d: gray verdict %v, rgb verdict %v", i, vGray, vRGB)
		}
	}
}

// min_changed_pixels = 1 sets the threshold to every scaled pixel; the
// strict comparison means the verdict can never be true.
func TestDetector_FullFractionNeverDetects(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinPixelDiff: 5, MinChangedPixels: 1,
	}
	d := newTestDetector(t, video, cfg)

	detect(t, d, testdata.UniformGrayFrame(3, 3, 0))
	if detect(t, d, testdata.UniformGrayFrame(3, 3, 255)) {
		t.Error("f=1 must never detect, even with every pixel changed")
	}
}

func TestDetector_BlurAndScalePipeline(t *testing.T) {
	// A config that exercises the full geometry: 3-tap kernel scaled by 2
	// crops a 2-pixel margin and halves the remainder.
	video := VideoSettings{Width: 16, Height: 12, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 1, ScaleDenominator: 2,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinPixelDiff: 50, MinChangedPixels: 0,
	}
	d := newTestDetector(t, video, cfg)

	// Uniform frames stay uniform under any normalized blur
	detect(t, d, testdata.UniformGrayFrame(16, 12, 0))
	if !detect(t, d, testdata.UniformGrayFrame(16, 12, 255)) {
		t.Error("black to white must detect through blur and scale")
	}
	if detect(t, d, testdata.UniformGrayFrame(16, 12, 255)) {
		t.Error("repeated white must not detect")
	}
}

func TestDetector_DetectOnFrame_JPEG(t *testing.T) {
	video := VideoSettings{Width: 8, Height: 8, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinPixelDiff: 50, MinChangedPixels: 0,
	}
	d := newTestDetector(t, video, cfg)

	black, err := testdata.UniformGrayJPEG(8, 8, 0)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}
	white, err := testdata.UniformGrayJPEG(8, 8, 255)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}

	if _, err := d.DetectOnFrame(black); err != nil {
		t.Fatalf("DetectOnFrame error = %v", err)
	}
	got, err := d.DetectOnFrame(white)
	if err != nil {
		t.Fatalf("DetectOnFrame error = %v", err)
	}
	if !got {
		t.Error("black to white over JPEG must detect")
	}
}

// A decode failure is retryable: it must not advance the ring or the
// reservoirs, so the stream continues as if the bad frame never arrived.
func TestDetector_DecodeErrorIsRetryable(t *testing.T) {
	video := VideoSettings{Width: 8, Height: 8, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		MinPixelDiff: 50, MinChangedPixels: 0,
	}
	d := newTestDetector(t, video, cfg)

	black, err := testdata.UniformGrayJPEG(8, 8, 0)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}
	white, err := testdata.UniformGrayJPEG(8, 8, 255)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}
	wrongSize, err := testdata.UniformGrayJPEG(4, 4, 0)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}

	if _, err := d.DetectOnFrame(black); err != nil {
		t.Fatalf("DetectOnFrame error = %v", err)
	}

	if _, err := d.DetectOnFrame(wrongSize); !errors.Is(err, decode.ErrDecode) {
		t.Fatalf("mismatched frame error = %v, want ErrDecode", err)
	}
	if _, err := d.DetectOnFrame([]byte("garbage")); !errors.Is(err, decode.ErrDecode) {
		t.Fatalf("garbage frame error = %v, want ErrDecode", err)
	}

	got, err := d.DetectOnFrame(white)
	if err != nil {
		t.Fatalf("DetectOnFrame after decode errors = %v", err)
	}
	if !got {
		t.Error("black to white must still detect after rejected frames")
	}
}

func TestDetector_FrameSizeRejected(t *testing.T) {
	video := VideoSettings{Width: 4, Height: 4, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
	}
	d := newTestDetector(t, video, cfg)

	if _, err := d.DetectOnDecompressedFrame(make([]byte, 15)); !errors.Is(err, ErrFrameSize) {
		t.Fatalf("short frame error = %v, want ErrFrameSize", err)
	}

	// The detector stays usable
	if _, err := d.DetectOnDecompressedFrame(make([]byte, 16)); err != nil {
		t.Errorf("correct frame after size error = %v", err)
	}
}

func TestDetector_DeviceFailureDestroys(t *testing.T) {
	video := VideoSettings{Width: 4, Height: 4, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
	}

	rt := compute.NewMockRuntime()
	rt.FailOp = "read"

	d, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, rt, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	_, err = d.DetectOnDecompressedFrame(make([]byte, 16))
	var devErr *compute.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("frame error = %v, want DeviceError", err)
	}

	if _, err := d.DetectOnDecompressedFrame(make([]byte, 16)); !errors.Is(err, ErrDestroyed) {
		t.Errorf("frame after device failure error = %v, want ErrDestroyed", err)
	}
}

func TestDetector_DeviceUnavailable(t *testing.T) {
	video := VideoSettings{Width: 4, Height: 4, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
	}

	_, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectGPU}, compute.NewCPURuntime(), nil)
	if !errors.Is(err, compute.ErrDeviceUnavailable) {
		t.Errorf("New(GPU) error = %v, want ErrDeviceUnavailable", err)
	}

	_, err = New(video, cfg, compute.DeviceConfig{Mode: compute.SelectSpecific, Choice: 5}, compute.NewCPURuntime(), nil)
	if !errors.Is(err, compute.ErrDeviceUnavailable) {
		t.Errorf("New(Specific, 5) error = %v, want ErrDeviceUnavailable", err)
	}
}

// Strict-alignment devices pad buffer sizes and global ranges; the padding
// must not change any verdict.
func TestDetector_StrictAlignmentVerdictsUnchanged(t *testing.T) {
	video := VideoSettings{Width: 5, Height: 5, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 1, ScaleDenominator: 1,
		BgStabilLength: 2, MotionStabilLength: 1,
		MinPixelDiff: 30, MinChangedPixels: 0,
	}

	strict := compute.NewMockRuntime()
	strict.DeviceList = []compute.DeviceInfo{
		{Platform: "host", Name: "strict", Class: compute.ClassCPU, MaxWorkGroupSize: 256, StrictAlignment: true},
	}

	plain := newTestDetector(t, video, cfg)
	padded, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, strict, nil)
	if err != nil {
		t.Fatalf("New(strict) error = %v", err)
	}
	defer padded.Close()

	frames := [][]byte{
		testdata.UniformGrayFrame(5, 5, 0),
		testdata.UniformGrayFrame(5, 5, 255),
		testdata.UniformGrayFrame(5, 5, 255),
		testdata.UniformGrayFrame(5, 5, 30),
	}
	for i, frame := range frames {
		v1 := detect(t, plain, frame)
		v2, err := padded.DetectOnDecompressedFrame(frame)
		if err != nil {
			t.Fatalf("strict frame %d error = %v", i, err)
		}
		if v1 != v2 {
			t.Fatalf("frame %d: strict alignment changed the verdict (%v vs %v)", i, v1, v2)
		}
	}
}

func TestDetector_KernelDirUnreadable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, compute.KernelBlurScaleVertical+".cl")
	if err := os.WriteFile(path, []byte("x"), 0000); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}

	video := VideoSettings{Width: 4, Height: 4, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
		KernelDir: dir,
	}

	_, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, compute.NewCPURuntime(), nil)
	if err == nil {
		t.Error("unreadable kernel source must fail construction")
	}
}

func TestDetector_Introspection(t *testing.T) {
	video := VideoSettings{Width: 8, Height: 6, FPS: 15, Format: decode.FormatRGB}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 3, MotionStabilLength: 2,
		MinPixelDiff: 12, MinChangedPixels: 0.25,
	}
	dev := compute.DeviceConfig{Mode: compute.SelectSpecific, Choice: 0}

	d, err := New(video, cfg, dev, compute.NewCPURuntime(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	if d.VideoSettings() != video {
		t.Errorf("VideoSettings() = %+v, want %+v", d.VideoSettings(), video)
	}
	if d.Config() != cfg {
		t.Errorf("Config() = %+v, want %+v", d.Config(), cfg)
	}
	if d.Device() != dev {
		t.Errorf("Device() = %+v, want %+v", d.Device(), dev)
	}
}

func TestDetector_CloseThenUse(t *testing.T) {
	video := VideoSettings{Width: 4, Height: 4, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 0, ScaleDenominator: 1,
		BgStabilLength: 1, MotionStabilLength: 1,
	}

	d, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, compute.NewCPURuntime(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	d.Close()
	d.Close() // idempotent

	if _, err := d.DetectOnDecompressedFrame(make([]byte, 16)); !errors.Is(err, ErrDestroyed) {
		t.Errorf("detect after Close error = %v, want ErrDestroyed", err)
	}
}

func BenchmarkDetectOnDecompressedFrame(b *testing.B) {
	video := VideoSettings{Width: 640, Height: 480, Format: decode.FormatGray}
	cfg := Config{
		GaussianSize: 1, ScaleDenominator: 2,
		BgStabilLength: 10, MotionStabilLength: 2,
		MinPixelDiff: 10, MinChangedPixels: 0.01,
	}

	d, err := New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, compute.NewCPURuntime(), nil)
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}
	defer d.Close()

	frame := testdata.UniformGrayFrame(640, 480, 128)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.DetectOnDecompressedFrame(frame); err != nil {
			b.Fatal(err)
		}
	}
}
