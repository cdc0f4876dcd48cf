package device

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mattn/go-mjpeg"
)

func init() {
	Register("mjpeg", OpenMJPEG)
}

// A part that takes longer than this to arrive means the upstream has stalled.
const mjpegReadTimeout = 10 * time.Second

var errUpstreamStalled = errors.New("upstream stalled")

var mjpegClient = &http.Client{
	Transport: &http.Transport{
		ResponseHeaderTimeout: 10 * time.Second,
	},
}

// MJPEG reads frames from a network camera serving multipart/x-mixed-replace.
type MJPEG struct {
	url         string
	body        io.Closer
	dec         *mjpeg.Decoder
	readTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func OpenMJPEG(cfg Config) (Device, error) {
	if cfg.URL == "" {
		return nil, errors.New("mjpeg driver needs a device URL")
	}

	res, err := mjpegClient.Get(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("connect %s: unexpected status %s", cfg.URL, res.Status)
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		res.Body.Close()
		return nil, fmt.Errorf("decode stream from %s: %w", cfg.URL, err)
	}

	return &MJPEG{url: cfg.URL, body: res.Body, dec: dec, readTimeout: mjpegReadTimeout}, nil
}

// Read decodes the next part. The body is closed if the part does not arrive
// within readTimeout, which unblocks the decoder with an error.
func (m *MJPEG) Read() (*image.NRGBA, bool, error) {
	var stalled atomic.Bool
	watchdog := time.AfterFunc(m.readTimeout, func() {
		stalled.Store(true)
		m.close()
	})
	img, err := m.dec.Decode()
	watchdog.Stop()

	if stalled.Load() {
		return nil, false, fmt.Errorf("read stream from %s: %w after %v", m.url, errUpstreamStalled, m.readTimeout)
	}
	if err != nil {
		var formatErr jpeg.FormatError
		var unsupportedErr jpeg.UnsupportedError
		if errors.As(err, &formatErr) || errors.As(err, &unsupportedErr) || errors.Is(err, image.ErrFormat) {
			// A bad part does not poison the stream; the next part may be fine.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read stream from %s: %w", m.url, err)
	}
	return imaging.Clone(img), true, nil
}

func (m *MJPEG) Close() error {
	return m.close()
}

func (m *MJPEG) close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.body.Close()
	})
	return m.closeErr
}
