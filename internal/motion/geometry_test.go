package motion

import (
	"testing"

	"github.com/ayusman/vigil/internal/decode"
)

func TestGeometry_ScaledDimensions(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		size       int
		scale      int
		wantWidth  int
		wantHeight int
	}{
		{"identity", 640, 480, 0, 1, 640, 480},
		{"half scale no blur", 640, 480, 0, 2, 320, 240},
		{"blur margin", 640, 480, 1, 1, 638, 478},
		{"blur and scale", 640, 480, 1, 2, 318, 238},
		{"integer division", 7, 7, 0, 2, 3, 3},
		{"large margin", 100, 100, 5, 2, 40, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := VideoSettings{Width: tt.width, Height: tt.height, Format: decode.FormatGray}
			cfg := Config{GaussianSize: tt.size, ScaleDenominator: tt.scale}

			g := newGeometry(video, cfg)
			if g.scaledWidth != tt.wantWidth {
				t.Errorf("scaledWidth = %d, want %d", g.scaledWidth, tt.wantWidth)
			}
			if g.scaledHeight != tt.wantHeight {
				t.Errorf("scaledHeight = %d, want %d", g.scaledHeight, tt.wantHeight)
			}
			if g.margin != tt.size*tt.scale {
				t.Errorf("margin = %d, want %d", g.margin, tt.size*tt.scale)
			}
		})
	}
}

func TestGeometry_BufferSizes(t *testing.T) {
	video := VideoSettings{Width: 640, Height: 480, Format: decode.FormatRGB}
	cfg := Config{GaussianSize: 1, ScaleDenominator: 2}

	g := newGeometry(video, cfg)

	if g.inputSize != 640*480*3 {
		t.Errorf("inputSize = %d, want %d", g.inputSize, 640*480*3)
	}
	if g.intermediateSize != 640*g.scaledHeight {
		t.Errorf("intermediateSize = %d, want %d", g.intermediateSize, 640*g.scaledHeight)
	}
	if g.scaledSize != g.scaledWidth*g.scaledHeight {
		t.Errorf("scaledSize = %d, want %d", g.scaledSize, g.scaledWidth*g.scaledHeight)
	}
}

func TestGeometry_DiffThreshold(t *testing.T) {
	video := VideoSettings{Width: 3, Height: 3, Format: decode.FormatGray}

	// 9 scaled pixels: the threshold floors the fraction
	tests := []struct {
		fraction float64
		want     int
	}{
		{0, 0},
		{0.5, 4},
		{0.6, 5},
		{1, 9},
	}

	for _, tt := range tests {
		cfg := Config{GaussianSize: 0, ScaleDenominator: 1, MinChangedPixels: tt.fraction}
		g := newGeometry(video, cfg)
		if g.diffThreshold != tt.want {
			t.Errorf("diffThreshold(%.1f) = %d, want %d", tt.fraction, g.diffThreshold, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	video := VideoSettings{Width: 640, Height: 480, Format: decode.FormatGray}
	valid := Config{
		GaussianSize:       1,
		ScaleDenominator:   2,
		BgStabilLength:     10,
		MotionStabilLength: 2,
		MinPixelDiff:       10,
		MinChangedPixels:   0.1,
	}

	if err := valid.validate(video); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config, *VideoSettings)
	}{
		{"zero scale", func(c *Config, v *VideoSettings) { c.ScaleDenominator = 0 }},
		{"zero bg length", func(c *Config, v *VideoSettings) { c.BgStabilLength = 0 }},
		{"zero mvt length", func(c *Config, v *VideoSettings) { c.MotionStabilLength = 0 }},
		{"negative changed pixels", func(c *Config, v *VideoSettings) { c.MinChangedPixels = -0.1 }},
		{"changed pixels above one", func(c *Config, v *VideoSettings) { c.MinChangedPixels = 1.1 }},
		{"pixel diff above 255", func(c *Config, v *VideoSettings) { c.MinPixelDiff = 256 }},
		{"negative pixel diff", func(c *Config, v *VideoSettings) { c.MinPixelDiff = -1 }},
		{"zero width", func(c *Config, v *VideoSettings) { v.Width = 0 }},
		{"width below kernel", func(c *Config, v *VideoSettings) { v.Width = 3; c.GaussianSize = 1; c.ScaleDenominator = 2 }},
		{"height below kernel", func(c *Config, v *VideoSettings) { v.Height = 5; c.GaussianSize = 1; c.ScaleDenominator = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			vid := video
			tt.mutate(&cfg, &vid)

			err := cfg.validate(vid)
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// Width or height exactly equal to the scaled kernel length is the smallest
// accepted geometry.
func TestConfig_ValidateBoundary(t *testing.T) {
	// g = (2*1+1)*2 = 6
	cfg := Config{GaussianSize: 1, ScaleDenominator: 2, BgStabilLength: 1, MotionStabilLength: 1}

	if err := cfg.validate(VideoSettings{Width: 6, Height: 6, Format: decode.FormatGray}); err != nil {
		t.Errorf("width == kernel length should validate, got %v", err)
	}
	if err := cfg.validate(VideoSettings{Width: 5, Height: 6, Format: decode.FormatGray}); err == nil {
		t.Error("width below kernel length should be rejected")
	}
}
