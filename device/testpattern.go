package device

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/Tutortoise/live-detection-stream/overlay"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480

	testPatternInterval = time.Second / 30
)

var errClosed = errors.New("device closed")

func init() {
	Register("testpattern", OpenTestPattern)
}

// TestPattern is a synthetic camera producing scrolling colour bars at about
// 30 frames per second. Read blocks until the next frame is due.
type TestPattern struct {
	width, height int

	mu     sync.Mutex
	closed bool
	next   time.Time
	tick   int
}

func OpenTestPattern(cfg Config) (Device, error) {
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultWidth, DefaultHeight
	}
	return &TestPattern{width: w, height: h, next: time.Now()}, nil
}

var bars = []color.NRGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
}

func (p *TestPattern) Read() (*image.NRGBA, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, errClosed
	}

	if wait := time.Until(p.next); wait > 0 {
		time.Sleep(wait)
	}
	p.next = time.Now().Add(testPatternInterval)
	p.tick++

	img := image.NewNRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := p.width/len(bars) + 1
	shift := p.tick * 4
	for y := 0; y < p.height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < p.width; x++ {
			c := bars[((x+shift)/barWidth)%len(bars)]
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}

	// A box sweeping across the frame gives detectors and viewers something moving.
	size := p.height / 4
	x := (p.tick * 6) % (p.width + size)
	overlay.Rect(img, image.Rect(x-size, p.height/2-size/2, x, p.height/2+size/2), color.Black, 4)

	return img, true, nil
}

func (p *TestPattern) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
