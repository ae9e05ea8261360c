package capture

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
)

// mjpegSource reads frames from an MJPEG-over-HTTP stream, the
// multipart/x-mixed-replace format served by IP cameras.
type mjpegSource struct {
	url    string
	mu     sync.Mutex
	resp   *http.Response
	reader *multipart.Reader
	fps    int
}

// NewMJPEGStream creates a Source reading from an MJPEG HTTP URL. The frame
// rate is whatever the remote camera pushes; SetFPS is a no-op.
func NewMJPEGStream(url string) Source {
	return &mjpegSource{url: url, fps: DefaultFPS}
}

// Open connects to the stream and prepares the multipart reader.
func (m *mjpegSource) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resp != nil {
		return nil
	}

	resp, err := http.Get(m.url)
	if err != nil {
		return fmt.Errorf("connect mjpeg stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("mjpeg stream returned status %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] == "" {
		resp.Body.Close()
		return errors.New("stream is not multipart/x-mixed-replace")
	}

	m.resp = resp
	m.reader = multipart.NewReader(resp.Body, params["boundary"])

	return nil
}

// Close disconnects from the stream.
func (m *mjpegSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resp == nil {
		return nil
	}

	err := m.resp.Body.Close()
	m.resp = nil
	m.reader = nil

	return err
}

// ReadFrame returns the next JPEG part from the stream.
func (m *mjpegSource) ReadFrame() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reader == nil {
		return nil, ErrSourceNotOpen
	}

	part, err := m.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("read mjpeg part: %w", err)
	}
	defer part.Close()

	var frame []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := part.Read(buf)
		frame = append(frame, buf[:n]...)
		if err != nil {
			break
		}
	}

	if len(frame) == 0 {
		return nil, errors.New("empty mjpeg part")
	}

	return frame, nil
}

// SetFPS is ignored; the remote camera controls the rate.
func (m *mjpegSource) SetFPS(fps int) {}

// FPS returns the nominal frame rate used for pipeline pacing.
func (m *mjpegSource) FPS() int { return m.fps }

// Name identifies the source by its URL.
func (m *mjpegSource) Name() string { return m.url }
