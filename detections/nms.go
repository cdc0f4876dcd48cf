package detections

import (
	"image"
	"math"
	"sort"

	"github.com/Tutortoise/live-detection-stream/models"
)

func calculateIOU(box1, box2 image.Rectangle) float64 {
	x1 := math.Max(float64(box1.Min.X), float64(box2.Min.X))
	y1 := math.Max(float64(box1.Min.Y), float64(box2.Min.Y))
	x2 := math.Min(float64(box1.Max.X), float64(box2.Max.X))
	y2 := math.Min(float64(box1.Max.Y), float64(box2.Max.Y))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64(box1.Dx() * box1.Dy())
	area2 := float64(box2.Dx() * box2.Dy())
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

// nonMaxSuppression keeps the most confident box of every overlapping group
// within the same class. The result is sorted by confidence.
func nonMaxSuppression(detections []models.Detection, iouThreshold float64) []models.Detection {
	if len(detections) == 0 {
		return nil
	}
	sortDetectionsByConfidence(detections)

	kept := make([]models.Detection, 0, len(detections))
	suppressed := make([]bool, len(detections))
	for i, det := range detections {
		if suppressed[i] {
			continue
		}
		kept = append(kept, det)
		for j := i + 1; j < len(detections); j++ {
			if suppressed[j] || detections[j].ClassID != det.ClassID {
				continue
			}
			if calculateIOU(det.Box, detections[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
