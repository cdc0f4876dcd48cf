package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/Tutortoise/live-detection-stream/offload"
)

func TestEncodeProducesJPEG(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	frame := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	data, err := New(pool, 0).Encode(context.Background(), frame)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Errorf("output does not start with a JPEG SOI marker")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not decodable: %v", err)
	}
	if got := img.Bounds().Size(); got != image.Pt(64, 48) {
		t.Errorf("decoded size = %v, want 64x48", got)
	}
}

func TestEncodeEmptyFrameFails(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	enc := New(pool, 80)
	for _, frame := range []image.Image{nil, image.NewNRGBA(image.Rectangle{})} {
		if _, err := enc.Encode(context.Background(), frame); !errors.Is(err, ErrEncode) {
			t.Errorf("Encode(%v) error = %v, want ErrEncode", frame, err)
		}
	}
}

func TestQualityDefaults(t *testing.T) {
	for _, q := range []int{-1, 0, 101} {
		if got := New(nil, q).quality; got != DefaultQuality {
			t.Errorf("New(%d).quality = %d, want %d", q, got, DefaultQuality)
		}
	}
	if got := New(nil, 50).quality; got != 50 {
		t.Errorf("New(50).quality = %d, want 50", got)
	}
}
