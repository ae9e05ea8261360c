package compute

// Builtin CPU implementations of the pipeline kernels. Argument lists match
// the kernel source files in kernels/ position for position; the host binds
// buffers by index exactly as it would for a device program.

// Kernel entry-point names shared by all runtimes.
const (
	KernelBlurScaleVertical   = "blur_and_scale_vertical"
	KernelBlurScaleHorizontal = "blur_and_scale_horizontal"
	KernelStabilize           = "stabilize_bg_mvt"
)

// cpuKernelFunc executes a kernel over the full global range using up to
// the given number of workers.
type cpuKernelFunc func(args []*cpuBuffer, global []int, workers int) error

type cpuKernelSpec struct {
	argc int
	fn   cpuKernelFunc
}

var cpuKernels = map[string]cpuKernelSpec{
	KernelBlurScaleVertical:   {argc: 7, fn: kernelBlurScaleVertical},
	KernelBlurScaleHorizontal: {argc: 7, fn: kernelBlurScaleHorizontal},
	KernelStabilize:           {argc: 9, fn: kernelStabilize},
}

func clampByte(v float32) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}

// kernelBlurScaleVertical convolves each output row against the scaled
// Gaussian along the input's vertical axis, collapsing color to luma on the
// way. Args: gaussian(float32), gaussian_size(int32), scale(int32),
// colors(int32), input_frame(bytes), input_width(int32),
// intermediate(bytes). Global range: (input width, scaled height).
func kernelBlurScaleVertical(args []*cpuBuffer, global []int, workers int) error {
	if len(global) != 2 {
		return &DeviceError{Op: "launch " + KernelBlurScaleVertical, Code: cpuCodeBadRange}
	}

	gauss := args[0].data
	gsize := int(int32At(args[1].data, 0))
	scale := int(int32At(args[2].data, 0))
	colors := int(int32At(args[3].data, 0))
	input := args[4].data
	width := int(int32At(args[5].data, 0))
	out := args[6].data

	spanX, spanY := global[0], global[1]

	// The global range may be padded on strict-alignment devices; clamp to
	// the true logical extent before touching memory.
	xmax := spanX
	if xmax > width {
		xmax = width
	}

	parallelRows(spanY, workers, func(y int) {
		y0 := y * scale
		if ((y0+gsize-1)*width+xmax-1)*colors+colors-1 >= len(input) {
			return
		}
		for x := 0; x < xmax; x++ {
			if y*width+x >= len(out) {
				continue
			}
			var acc float32
			for i := 0; i < gsize; i++ {
				px := ((y0+i)*width + x) * colors
				var luma float32
				if colors == 3 {
					luma = (float32(input[px]) + float32(input[px+1]) + float32(input[px+2])) / 3
				} else {
					luma = float32(input[px])
				}
				acc += float32At(gauss, i) * luma
			}
			out[y*width+x] = clampByte(acc)
		}
	})

	return nil
}

// kernelBlurScaleHorizontal convolves the intermediate buffer along the
// horizontal axis, producing the scaled single-channel frame. Args:
// gaussian(float32), gaussian_size(int32), scale(int32),
// intermediate(bytes), input_width(int32), output_width(int32),
// scaled(bytes). Global range: (scaled width, scaled height).
func kernelBlurScaleHorizontal(args []*cpuBuffer, global []int, workers int) error {
	if len(global) != 2 {
		return &DeviceError{Op: "launch " + KernelBlurScaleHorizontal, Code: cpuCodeBadRange}
	}

	gauss := args[0].data
	gsize := int(int32At(args[1].data, 0))
	scale := int(int32At(args[2].data, 0))
	input := args[3].data
	width := int(int32At(args[4].data, 0))
	outWidth := int(int32At(args[5].data, 0))
	out := args[6].data

	spanX, spanY := global[0], global[1]

	xmax := spanX
	if xmax > outWidth {
		xmax = outWidth
	}

	parallelRows(spanY, workers, func(y int) {
		if y*width+(xmax-1)*scale+gsize-1 >= len(input) {
			return
		}
		for x := 0; x < xmax; x++ {
			if y*outWidth+x >= len(out) {
				continue
			}
			x0 := x * scale
			var acc float32
			for i := 0; i < gsize; i++ {
				acc += float32At(gauss, i) * float32(input[y*width+x0+i])
			}
			out[y*outWidth+x] = clampByte(acc)
		}
	})

	return nil
}

// kernelStabilize advances both running-sum reservoirs one frame and writes
// the per-pixel difference mask. The fresh frame enters the movement
// reservoir; the frame evicted from the movement window cascades into the
// background reservoir; the frame evicted from the background window leaves.
// The diff compares the reservoir means, not the sums. Args:
// bg_remove(bytes), mvt_remove(bytes), scaled(bytes), bg_length(float64),
// mvt_length(float64), stabilized_bg(float64), stabilized_mvt(float64),
// pixel_diff_threshold(uint32), difference(bytes). Global range: (pixels).
func kernelStabilize(args []*cpuBuffer, global []int, workers int) error {
	if len(global) != 1 {
		return &DeviceError{Op: "launch " + KernelStabilize, Code: cpuCodeBadRange}
	}

	bgRemove := args[0].data
	mvtRemove := args[1].data
	scaled := args[2].data
	bgLen := float64At(args[3].data, 0)
	mvtLen := float64At(args[4].data, 0)
	sBg := args[5].data
	sMvt := args[6].data
	threshold := float64(uint32At(args[7].data, 0))
	diff := args[8].data

	n := global[0]

	parallelRows(n, workers, func(i int) {
		if i >= len(scaled) || i >= len(bgRemove) || i >= len(mvtRemove) || i >= len(diff) {
			return
		}
		if (i+1)*SizeFloat64 > len(sBg) || (i+1)*SizeFloat64 > len(sMvt) {
			return
		}

		mvtSum := float64At(sMvt, i) + float64(scaled[i]) - float64(mvtRemove[i])
		bgSum := float64At(sBg, i) + float64(mvtRemove[i]) - float64(bgRemove[i])
		putFloat64(sMvt, i, mvtSum)
		putFloat64(sBg, i, bgSum)

		delta := bgSum/bgLen - mvtSum/mvtLen
		if delta < 0 {
			delta = -delta
		}
		if delta > threshold {
			diff[i] = 1
		} else {
			diff[i] = 0
		}
	})

	return nil
}
