package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/ayusman/vigil/internal/app"
	"github.com/ayusman/vigil/internal/capture"
	"github.com/ayusman/vigil/internal/compute"
	"github.com/ayusman/vigil/internal/decode"
	"github.com/ayusman/vigil/internal/motion"
	"github.com/ayusman/vigil/internal/server"
	"github.com/ayusman/vigil/internal/store"
	"github.com/ayusman/vigil/internal/tray"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func run() error {
	var (
		width     = flag.Int("width", 640, "frame width in pixels")
		height    = flag.Int("height", 480, "frame height in pixels")
		fps       = flag.Int("fps", 5, "nominal frames per second")
		format    = flag.String("format", "rgb", "decoded frame format: rgb or gray")
		gaussian  = flag.Int("gaussian-size", 1, "gaussian blur size (0 disables blur)")
		scale     = flag.Int("scale", 2, "integer downscale denominator")
		bgLen     = flag.Int("bg-frames", 10, "frames averaged into the background")
		mvtLen    = flag.Int("motion-frames", 2, "frames averaged into the movement window")
		pixelDiff = flag.Int("pixel-diff", 10, "minimum per-pixel difference [0-255]")
		fraction  = flag.Float64("changed-fraction", 0.01, "fraction of pixels that must change [0-1]")
		device    = flag.String("device", "cpu", "compute device: cpu, gpu, or a device index")
		kernels   = flag.String("kernels", "", "directory overriding the embedded kernel sources")
		camera    = flag.Int("camera", 0, "camera device ID")
		streamURL = flag.String("stream", "", "MJPEG stream URL (overrides -camera)")
		dbPath    = flag.String("db", "", "path to the event database (default ~/.vigil/vigil.db)")
		hookDir   = flag.String("hooks", "", "directory of motion-event hooks")
		addr      = flag.String("addr", ":8080", "HTTP listen address")
		withTray  = flag.Bool("tray", false, "show the system tray")
	)
	flag.Parse()

	fmt.Println("Vigil - Motion Detection")

	frameFormat := decode.FormatRGB
	switch *format {
	case "rgb":
	case "gray":
		frameFormat = decode.FormatGray
	default:
		return fmt.Errorf("unknown frame format %q", *format)
	}

	deviceCfg, err := parseDevice(*device)
	if err != nil {
		return err
	}

	// Initialize the store
	path := *dbPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir := filepath.Join(homeDir, ".vigil")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		path = filepath.Join(dataDir, "vigil.db")
	}

	st, err := store.New(path)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	// Build the frame source
	var source capture.Source
	if *streamURL != "" {
		source = capture.NewMJPEGStream(*streamURL)
	} else {
		source = capture.NewCamera(*camera, *width, *height)
	}

	// The server is built after the app (it streams the app's frames), but
	// the verdict callback needs to reach its motion feed; the variable is
	// assigned before the pipeline starts.
	var srv *server.Server

	application, err := app.New(app.Config{
		Store:   st,
		HookDir: *hookDir,
		Source:  source,
		Video: motion.VideoSettings{
			Width:  *width,
			Height: *height,
			FPS:    *fps,
			Format: frameFormat,
		},
		Motion: motion.Config{
			GaussianSize:       *gaussian,
			ScaleDenominator:   *scale,
			BgStabilLength:     *bgLen,
			MotionStabilLength: *mvtLen,
			MinPixelDiff:       *pixelDiff,
			MinChangedPixels:   *fraction,
			DecodeMethod:       decode.MethodAccurate,
			KernelDir:          *kernels,
		},
		Device: deviceCfg,
		OnVerdict: func(source string, detected bool, eventID string) {
			if srv == nil {
				return
			}
			srv.Motion().Broadcast(server.MotionMessage{
				Source:  source,
				Motion:  detected,
				EventID: eventID,
			})
		},
	})
	if err != nil {
		return err
	}

	srv = server.New(server.Config{Store: st, Frames: application})

	if err := application.Start(); err != nil {
		return err
	}
	defer application.Stop()

	go func() {
		fmt.Printf("Starting server on %s\n", *addr)
		if err := srv.ListenAndServe(*addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Restore the persisted detection toggle
	if value, err := st.Settings().Get("enabled"); err == nil && value == "false" {
		application.SetEnabled(false)
	}

	if *withTray {
		t := tray.New()
		t.OnToggle(func(enabled bool) {
			application.SetEnabled(enabled)
			if err := st.Settings().Set("enabled", strconv.FormatBool(enabled)); err != nil {
				log.Printf("Failed to persist toggle: %v", err)
			}
		})
		t.OnDashboard(func() { openBrowser("http://localhost" + *addr) })
		t.OnQuit(func() {})
		t.Run() // blocks until quit
		return nil
	}

	// Headless: run until interrupted
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println("Shutting down")

	return nil
}

// parseDevice maps the -device flag onto a device configuration.
func parseDevice(value string) (compute.DeviceConfig, error) {
	switch value {
	case "cpu":
		return compute.DeviceConfig{Mode: compute.SelectCPU}, nil
	case "gpu":
		return compute.DeviceConfig{Mode: compute.SelectGPU}, nil
	}

	choice, err := strconv.Atoi(value)
	if err != nil {
		return compute.DeviceConfig{}, fmt.Errorf("unknown device %q", value)
	}
	return compute.DeviceConfig{Mode: compute.SelectSpecific, Choice: choice}, nil
}

// openBrowser opens the dashboard URL with the platform's opener.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch {
	case fileExists("/usr/bin/xdg-open"):
		cmd = exec.Command("xdg-open", url)
	case fileExists("/usr/bin/open"):
		cmd = exec.Command("open", url)
	default:
		log.Printf("Dashboard available at %s", url)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to open browser: %v", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
