//go:build gocv

package device

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

func init() {
	Register("gocv", OpenGoCV)
}

// GoCV captures through OpenCV. Built only with -tags gocv since it needs cgo
// and an OpenCV installation.
type GoCV struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func OpenGoCV(cfg Config) (Device, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if cfg.URL != "" {
		vc, err = gocv.OpenVideoCapture(cfg.URL)
	} else {
		vc, err = gocv.OpenVideoCapture(cfg.Index)
	}
	if err != nil {
		return nil, fmt.Errorf("open capture %d: %w", cfg.Index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture %d is not open", cfg.Index)
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	return &GoCV{vc: vc, mat: gocv.NewMat()}, nil
}

func (g *GoCV) Read() (*image.NRGBA, bool, error) {
	if ok := g.vc.Read(&g.mat); !ok || g.mat.Empty() {
		return nil, false, nil
	}

	img, err := g.mat.ToImage()
	if err != nil {
		return nil, false, fmt.Errorf("convert frame: %w", err)
	}
	return imaging.Clone(img), true, nil
}

func (g *GoCV) Close() error {
	g.mat.Close()
	return g.vc.Close()
}
