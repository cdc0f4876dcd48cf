package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/Tutortoise/live-detection-stream/offload"

	"github.com/disintegration/imaging"
)

const DefaultQuality = 95

var ErrEncode = errors.New("frame encode failed")

// Encoder compresses frames to JPEG on the offload pool.
type Encoder struct {
	pool    *offload.Pool
	quality int
}

func New(pool *offload.Pool, quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{pool: pool, quality: quality}
}

func (e *Encoder) Encode(ctx context.Context, frame image.Image) ([]byte, error) {
	return offload.Do(ctx, e.pool, func() ([]byte, error) {
		return e.encode(frame)
	})
}

func (e *Encoder) encode(frame image.Image) ([]byte, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrEncode)
	}

	var buf bytes.Buffer
	buf.Grow(frame.Bounds().Dx() * frame.Bounds().Dy() / 4)
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
