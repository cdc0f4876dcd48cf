package detections

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/Tutortoise/live-detection-stream/models"
	"github.com/Tutortoise/live-detection-stream/offload"
	"github.com/Tutortoise/live-detection-stream/overlay"
)

type fakeDetector struct {
	dets []models.Detection
	err  error
	seen image.Image
}

func (f *fakeDetector) Detect(img image.Image) ([]models.Detection, error) {
	f.seen = img
	return f.dets, f.err
}

func TestLabelFormat(t *testing.T) {
	tests := []struct {
		det  models.Detection
		want string
	}{
		{models.Detection{Label: "person", Confidence: 0.873}, "person 0.87"},
		{models.Detection{Label: "dog", Confidence: 1}, "dog 1.00"},
		{models.Detection{Label: "traffic light", Confidence: 0.006}, "traffic light 0.01"},
	}
	for _, tt := range tests {
		if got := Label(tt.det); got != tt.want {
			t.Errorf("Label(%+v) = %q, want %q", tt.det, got, tt.want)
		}
	}
}

// TestDrawOverlaysCopy validates the annotated frame carries a rectangle at
// the detection coordinates and that the input frame is left untouched.
func TestDrawOverlaysCopy(t *testing.T) {
	frame := image.NewNRGBA(image.Rect(0, 0, 120, 100))
	det := models.Detection{Box: image.Rect(20, 40, 90, 95), Label: "person", Confidence: 0.873}

	a := NewAnnotator(nil, nil)
	out := a.Draw(frame, []models.Detection{det})

	if out == frame {
		t.Fatalf("Draw() returned the input frame, want a copy")
	}
	for _, p := range []image.Point{{20, 40}, {90, 40}, {20, 95}, {90, 95}, {55, 40}, {20, 70}} {
		if got := out.NRGBAAt(p.X, p.Y); got != overlay.Green {
			t.Errorf("annotated pixel %v = %v, want box colour", p, got)
		}
	}
	if got := out.NRGBAAt(55, 70); got == overlay.Green {
		t.Errorf("box interior was painted")
	}

	labelPainted := false
	for y := 40 - labelOffset - 12; y < 40-labelOffset+2; y++ {
		for x := 20; x < 20+len("person 0.87")*7; x++ {
			if out.NRGBAAt(x, y) == overlay.Green {
				labelPainted = true
			}
		}
	}
	if !labelPainted {
		t.Errorf("no label pixels found above the box")
	}

	for i, b := range frame.Pix {
		if b != 0 {
			t.Fatalf("input frame modified at byte %d", i)
		}
	}
}

func TestInferRunsDetectorOnPool(t *testing.T) {
	pool := offload.New(1)
	defer pool.Close()

	frame := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	want := []models.Detection{{Box: image.Rect(1, 1, 4, 4), Label: "cat", Confidence: 0.5}}
	det := &fakeDetector{dets: want}

	got, err := NewAnnotator(pool, det).Infer(context.Background(), frame)
	if err != nil {
		t.Fatalf("Infer() failed: %v", err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Infer() = %v, want %v", got, want)
	}
	if det.seen != frame {
		t.Errorf("detector did not receive the frame")
	}

	det.err = errors.New("model crashed")
	if _, err := NewAnnotator(pool, det).Infer(context.Background(), frame); err == nil {
		t.Errorf("Infer() error = nil, want detector error")
	}
}
