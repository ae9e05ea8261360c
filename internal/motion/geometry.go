package motion

// geometry holds every buffer size the pipeline derives from the video
// settings and motion configuration. With margin m = gaussian_size * scale
// cropped from each side, the scaled frame is
// (width-2m)/scale x (height-2m)/scale.
type geometry struct {
	scaledWidth  int
	scaledHeight int
	margin       int

	// Byte lengths of the three frame buffers.
	inputSize        int
	intermediateSize int
	scaledSize       int

	// diffThreshold is the number of changed pixels a frame must exceed
	// to count as motion.
	diffThreshold int
}

func newGeometry(video VideoSettings, cfg Config) geometry {
	margin := cfg.GaussianSize * cfg.ScaleDenominator
	scaledWidth := (video.Width - 2*margin) / cfg.ScaleDenominator
	scaledHeight := (video.Height - 2*margin) / cfg.ScaleDenominator

	return geometry{
		scaledWidth:      scaledWidth,
		scaledHeight:     scaledHeight,
		margin:           margin,
		inputSize:        video.Width * video.Height * video.Format.Channels(),
		intermediateSize: video.Width * scaledHeight,
		scaledSize:       scaledWidth * scaledHeight,
		diffThreshold:    int(cfg.MinChangedPixels * float64(scaledWidth*scaledHeight)),
	}
}
