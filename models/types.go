package models

import (
	"image"
	"time"
)

// Detection is one labelled box in frame pixel coordinates.
type Detection struct {
	Box        image.Rectangle
	ClassID    int
	Label      string
	Confidence float32
}

type FrameTimings struct {
	SessionID string
	Frame     uint64
	Read      time.Duration
	Inference time.Duration
	Draw      time.Duration
	Encode    time.Duration
	Write     time.Duration
	Total     time.Duration
}
