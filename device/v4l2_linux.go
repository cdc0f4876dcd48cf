//go:build linux

package device

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/blackjack/webcam"
	"github.com/disintegration/imaging"
	"golang.org/x/sys/unix"
)

// FormatMJPEG is the V4L2 fourcc for motion JPEG.
const FormatMJPEG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)

// Seconds WaitForFrame may block before the read is reported as not ready.
const v4l2FrameTimeout = 1

func init() {
	Register("v4l2", OpenV4L2)
}

type V4L2 struct {
	cam    *webcam.Webcam
	path   string
	closed bool
}

// OpenV4L2 opens /dev/video<Index> in MJPEG mode.
func OpenV4L2(cfg Config) (Device, error) {
	path := fmt.Sprintf("/dev/video%d", cfg.Index)
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return nil, fmt.Errorf("access %s: %w", path, err)
	}

	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if _, ok := cam.GetSupportedFormats()[FormatMJPEG]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%s does not support MJPEG capture", path)
	}

	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	if _, _, _, err := cam.SetImageFormat(FormatMJPEG, uint32(w), uint32(h)); err != nil {
		cam.Close()
		return nil, fmt.Errorf("set format on %s: %w", path, err)
	}

	cam.SetBufferCount(1)
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("start streaming on %s: %w", path, err)
	}

	return &V4L2{cam: cam, path: path}, nil
}

func (v *V4L2) Read() (*image.NRGBA, bool, error) {
	if v.closed {
		return nil, false, errClosed
	}

	if err := v.cam.WaitForFrame(v4l2FrameTimeout); err != nil {
		if _, ok := err.(*webcam.Timeout); ok {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wait for frame on %s: %w", v.path, err)
	}

	buf, idx, err := v.cam.GetFrame()
	if err != nil {
		return nil, false, fmt.Errorf("get frame on %s: %w", v.path, err)
	}
	if len(buf) == 0 {
		v.cam.ReleaseFrame(idx)
		return nil, false, nil
	}

	// The buffer is mmapped and reused once released.
	data := make([]byte, len(buf))
	copy(data, buf)
	if err := v.cam.ReleaseFrame(idx); err != nil {
		return nil, false, fmt.Errorf("release frame on %s: %w", v.path, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		// Cameras occasionally hand out truncated frames while settling.
		return nil, false, nil
	}
	return imaging.Clone(img), true, nil
}

func (v *V4L2) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	v.cam.StopStreaming()
	return v.cam.Close()
}
