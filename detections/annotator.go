package detections

import (
	"context"
	"fmt"
	"image"

	"github.com/Tutortoise/live-detection-stream/models"
	"github.com/Tutortoise/live-detection-stream/offload"
	"github.com/Tutortoise/live-detection-stream/overlay"

	"github.com/disintegration/imaging"
)

const (
	boxThickness = 2
	labelOffset  = 10
)

// Annotator runs a Detector on the offload pool and draws its results.
type Annotator struct {
	pool     *offload.Pool
	detector Detector
}

func NewAnnotator(pool *offload.Pool, detector Detector) *Annotator {
	return &Annotator{pool: pool, detector: detector}
}

// Infer runs detection on a worker. There is no deadline: the call returns
// when the detector does.
func (a *Annotator) Infer(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	return offload.Do(ctx, a.pool, func() ([]models.Detection, error) {
		return a.detector.Detect(frame)
	})
}

// Draw returns a copy of frame with a box and label per detection. frame is
// not modified.
func (a *Annotator) Draw(frame image.Image, dets []models.Detection) *image.NRGBA {
	annotated := imaging.Clone(frame)
	for _, det := range dets {
		overlay.Rect(annotated, det.Box, overlay.Green, boxThickness)
		overlay.Text(annotated, Label(det), image.Pt(det.Box.Min.X, det.Box.Min.Y-labelOffset), overlay.Green, 1)
	}
	return annotated
}

// Label formats a detection as "<class> <confidence>", e.g. "person 0.87".
func Label(det models.Detection) string {
	return fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
}
