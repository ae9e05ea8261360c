package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/vigil/internal/app"
	"github.com/ayusman/vigil/internal/capture"
	"github.com/ayusman/vigil/internal/compute"
	"github.com/ayusman/vigil/internal/decode"
	"github.com/ayusman/vigil/internal/motion"
	"github.com/ayusman/vigil/internal/server"
	"github.com/ayusman/vigil/internal/store"
	"github.com/ayusman/vigil/testdata"
)

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "data.db")

	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	black, err := testdata.UniformGrayJPEG(16, 16, 0)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}
	white, err := testdata.UniformGrayJPEG(16, 16, 255)
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}

	source := capture.NewMockSource([][]byte{black, black, white, white}, true)

	verdicts := make(chan bool, 64)
	application, err := app.New(app.Config{
		Store:   s,
		HookDir: filepath.Join(tmpDir, "hooks"),
		Source:  source,
		Video:   motion.VideoSettings{Width: 16, Height: 16, FPS: 5, Format: decode.FormatGray},
		Motion: motion.Config{
			GaussianSize: 1, ScaleDenominator: 1,
			BgStabilLength: 1, MotionStabilLength: 1,
			MinPixelDiff: 50, MinChangedPixels: 0.1,
		},
		Device:  compute.DeviceConfig{Mode: compute.SelectCPU},
		Runtime: compute.NewCPURuntime(),
		OnVerdict: func(source string, detected bool, eventID string) {
			select {
			case verdicts <- detected:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}

	srv := server.New(server.Config{Store: s, Frames: application})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	t.Run("HealthBeforeDetection", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/health")
		if err != nil {
			t.Fatalf("health error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("health status = %d", resp.StatusCode)
		}
	})

	if err := application.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Run("DetectsMotion", func(t *testing.T) {
		deadline := time.After(5 * time.Second)
		for {
			select {
			case v := <-verdicts:
				if v {
					return
				}
			case <-deadline:
				t.Fatal("no motion detected within the deadline")
			}
		}
	})

	// Stop closes the in-flight event so it appears finished in the API
	application.Stop()

	t.Run("EventVisibleInAPI", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/events")
		if err != nil {
			t.Fatalf("list events error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var response struct {
			Events []struct {
				ID     string `json:"id"`
				Source string `json:"source"`
				Active bool   `json:"active"`
				Frames int    `json:"frames"`
			} `json:"events"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if len(response.Events) == 0 {
			t.Fatal("no events recorded")
		}

		e := response.Events[0]
		if e.Source != "mock" {
			t.Errorf("event source = %q, want mock", e.Source)
		}
		if e.Active {
			t.Error("event should be finished after Stop")
		}

		// The item endpoint serves the same event
		one, err := client.Get(ts.URL + "/api/events/" + e.ID)
		if err != nil {
			t.Fatalf("get event error = %v", err)
		}
		one.Body.Close()
		if one.StatusCode != http.StatusOK {
			t.Errorf("get event status = %d", one.StatusCode)
		}
	})

	t.Run("APIStillWorks", func(t *testing.T) {
		resp, _ := client.Get(ts.URL + "/api/health")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("health check failed after app operations")
		}
		resp.Body.Close()
	})
}

// The identical detector fed the identical stream must produce the identical
// event record, end to end.
func TestE2E_DeterministicAcrossRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	frames := make([][]byte, 0, 8)
	for _, v := range []byte{0, 0, 255, 255, 0, 0, 255, 255} {
		jpeg, err := testdata.UniformGrayJPEG(8, 8, v)
		if err != nil {
			t.Fatalf("fixture error = %v", err)
		}
		frames = append(frames, jpeg)
	}

	run := func() []bool {
		video := motion.VideoSettings{Width: 8, Height: 8, Format: decode.FormatGray}
		cfg := motion.Config{
			GaussianSize: 0, ScaleDenominator: 1,
			BgStabilLength: 2, MotionStabilLength: 1,
			MinPixelDiff: 40, MinChangedPixels: 0,
		}

		d, err := motion.New(video, cfg, compute.DeviceConfig{Mode: compute.SelectCPU}, compute.NewCPURuntime(), nil)
		if err != nil {
			t.Fatalf("motion.New() error = %v", err)
		}
		defer d.Close()

		var verdicts []bool
		for _, frame := range frames {
			v, err := d.DetectOnFrame(frame)
			if err != nil {
				t.Fatalf("DetectOnFrame error = %v", err)
			}
			verdicts = append(verdicts, v)
		}
		return verdicts
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("verdict %d differs across runs: %v vs %v", i, first[i], second[i])
		}
	}
}
