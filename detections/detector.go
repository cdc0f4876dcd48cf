package detections

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync"

	"github.com/Tutortoise/live-detection-stream/models"

	"github.com/disintegration/imaging"
)

// Detector finds objects in an image. Calls are synchronous and may take
// arbitrarily long.
type Detector interface {
	Detect(img image.Image) ([]models.Detection, error)
}

type ProcessingError struct {
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

type ONNXConfig struct {
	ModelPath     string
	Sessions      int
	Classes       []string
	ConfThreshold float32
	IouThreshold  float64
}

// ONNXDetector runs a YOLOv8-style model exported to ONNX: one input
// "images" of shape [1,3,640,640] and one output "output0" of shape
// [1,4+classes,8400] holding centre boxes followed by class scores.
type ONNXDetector struct {
	pool    *SessionPool
	classes []string
	conf    float32
	iou     float64
}

func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	if len(cfg.Classes) == 0 {
		cfg.Classes = CocoClasses
	}
	if cfg.ConfThreshold <= 0 {
		cfg.ConfThreshold = ConfThreshold
	}
	if cfg.IouThreshold <= 0 {
		cfg.IouThreshold = IouThreshold
	}
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}

	threads := runtime.NumCPU() / cfg.Sessions
	pool, err := NewSessionPool(cfg.Sessions, func() (*ModelSession, error) {
		return initSession(cfg.ModelPath, len(cfg.Classes), threads)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model session pool: %w", err)
	}

	return &ONNXDetector{
		pool:    pool,
		classes: cfg.Classes,
		conf:    cfg.ConfThreshold,
		iou:     cfg.IouThreshold,
	}, nil
}

func (d *ONNXDetector) Detect(img image.Image) ([]models.Detection, error) {
	session, err := d.pool.Acquire(context.Background())
	if err != nil {
		return nil, &ProcessingError{Message: "acquire model session", Cause: err}
	}
	defer d.pool.Release(session)

	resized := imaging.Resize(img, InputWidth, InputHeight, imaging.Linear)
	prepareInput(resized, session.Input.GetData())

	if err := session.Session.Run(); err != nil {
		return nil, &ProcessingError{Message: "model inference", Cause: err}
	}

	bounds := img.Bounds()
	dets, err := processPredictions(session.Output.GetData(), d.classes, d.conf, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, &ProcessingError{Message: "process predictions", Cause: err}
	}

	return nonMaxSuppression(dets, d.iou), nil
}

func (d *ONNXDetector) Metrics() SessionPoolMetrics {
	return d.pool.GetMetrics()
}

func (d *ONNXDetector) Close() {
	d.pool.Destroy()
}

// prepareInput writes img into dst as planar RGB scaled to [0,1], splitting
// rows across CPUs.
func prepareInput(img *image.NRGBA, dst []float32) {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	channelSize := width * height
	numWorkers := runtime.GOMAXPROCS(0)
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for start := 0; start < height; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > height {
			end = height
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride:]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					dst[i] = float32(src[x*4]) / 255.0
					dst[channelSize+i] = float32(src[x*4+1]) / 255.0
					dst[channelSize*2+i] = float32(src[x*4+2]) / 255.0
				}
			}
		}(start, end)
	}
	wg.Wait()
}

// processPredictions decodes a [4+classes, NumPredictions] output into
// detections scaled to the original image size.
func processPredictions(predictions []float32, classes []string, threshold float32, originalWidth, originalHeight int) ([]models.Detection, error) {
	numClasses := len(classes)
	expectedSize := (4 + numClasses) * NumPredictions
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	const chunkSize = 1024
	numWorkers := runtime.NumCPU()
	jobs := make(chan int, numWorkers)
	results := make(chan []models.Detection, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]models.Detection, 0, 16)

			for start := range jobs {
				end := start + chunkSize
				if end > NumPredictions {
					end = NumPredictions
				}

				for i := start; i < end; i++ {
					bestClass, bestScore := -1, threshold
					for c := 0; c < numClasses; c++ {
						if score := predictions[(4+c)*NumPredictions+i]; score >= bestScore {
							bestClass, bestScore = c, score
						}
					}
					if bestClass < 0 {
						continue
					}

					box := calculateBBox(
						predictions[i],
						predictions[NumPredictions+i],
						predictions[2*NumPredictions+i],
						predictions[3*NumPredictions+i],
						originalWidth, originalHeight,
					)
					if box.Empty() {
						continue
					}
					local = append(local, models.Detection{
						Box:        box,
						ClassID:    bestClass,
						Label:      classes[bestClass],
						Confidence: bestScore,
					})
				}
			}

			if len(local) > 0 {
				results <- local
			}
		}()
	}

	go func() {
		for i := 0; i < NumPredictions; i += chunkSize {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	detections := make([]models.Detection, 0, 32)
	for chunk := range results {
		detections = append(detections, chunk...)
	}

	return detections, nil
}

// calculateBBox converts a centre box in model input pixels to a corner box
// in original image pixels, clamped to the image.
func calculateBBox(cx, cy, w, h float32, origWidth, origHeight int) image.Rectangle {
	scaleX := float32(origWidth) / InputWidth
	scaleY := float32(origHeight) / InputHeight

	x1 := (cx - w/2) * scaleX
	y1 := (cy - h/2) * scaleY
	x2 := (cx + w/2) * scaleX
	y2 := (cy + h/2) * scaleY

	r := image.Rect(int(x1), int(y1), int(x2), int(y2))
	return r.Intersect(image.Rect(0, 0, origWidth, origHeight))
}
