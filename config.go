package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Tutortoise/live-detection-stream/detections"
	"github.com/Tutortoise/live-detection-stream/device"
	"github.com/Tutortoise/live-detection-stream/encoder"
	"github.com/Tutortoise/live-detection-stream/offload"
)

// Detection variants.
const (
	DetectServer  = "server"
	DetectBrowser = "browser"
	DetectNone    = "none"
)

type Config struct {
	Addr string

	Driver    string
	Device    int
	DeviceURL string
	Width     int
	Height    int

	Detect        string
	ModelPath     string
	OnnxLibPath   string
	ConfThreshold float64
	IouThreshold  float64

	Workers int
	Quality int
	Debug   bool
}

func defaultConfig() Config {
	return Config{
		Addr:          ":8080",
		Driver:        "testpattern",
		Device:        0,
		Width:         device.DefaultWidth,
		Height:        device.DefaultHeight,
		Detect:        DetectServer,
		ModelPath:     "models/yolov8n.onnx",
		ConfThreshold: detections.ConfThreshold,
		IouThreshold:  detections.IouThreshold,
		Workers:       offload.DefaultSize,
		Quality:       encoder.DefaultQuality,
	}
}

// parseConfig reads the command line. Everything is fixed for the lifetime of
// the process.
func parseConfig(name string, args []string, output io.Writer) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "capture driver: "+strings.Join(device.Drivers(), ", "))
	fs.IntVar(&cfg.Device, "device", cfg.Device, "camera index (v4l2 opens /dev/video<N>)")
	fs.StringVar(&cfg.DeviceURL, "device-url", cfg.DeviceURL, "camera URL for the mjpeg driver")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "requested frame width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "requested frame height")
	fs.StringVar(&cfg.Detect, "detect", cfg.Detect, "object detection: server, browser or none")
	fs.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "YOLOv8 ONNX model for server-side detection")
	fs.StringVar(&cfg.OnnxLibPath, "onnx-lib", cfg.OnnxLibPath, "path to the onnxruntime shared library")
	fs.Float64Var(&cfg.ConfThreshold, "conf", cfg.ConfThreshold, "minimum detection confidence")
	fs.Float64Var(&cfg.IouThreshold, "iou", cfg.IouThreshold, "non-maximum suppression IoU threshold")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "offload pool size (blocking calls run at once)")
	fs.IntVar(&cfg.Quality, "quality", cfg.Quality, "JPEG quality 1-100")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging with per-frame timings")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if _, err := device.Lookup(c.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.Device < 0 {
		errs = append(errs, fmt.Errorf("device index must be >= 0, got %d", c.Device))
	}
	if c.Driver == "mjpeg" && c.DeviceURL == "" {
		errs = append(errs, errors.New("mjpeg driver needs -device-url"))
	}
	if c.Width < 0 || c.Height < 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %dx%d", c.Width, c.Height))
	}
	switch c.Detect {
	case DetectServer:
		if c.ModelPath == "" {
			errs = append(errs, errors.New("server-side detection needs -model"))
		}
	case DetectBrowser, DetectNone:
	default:
		errs = append(errs, fmt.Errorf("detect must be server, browser or none, got %q", c.Detect))
	}
	if c.ConfThreshold <= 0 || c.ConfThreshold > 1 {
		errs = append(errs, fmt.Errorf("conf must be in (0,1], got %v", c.ConfThreshold))
	}
	if c.IouThreshold <= 0 || c.IouThreshold > 1 {
		errs = append(errs, fmt.Errorf("iou must be in (0,1], got %v", c.IouThreshold))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Errorf("quality must be in [1,100], got %d", c.Quality))
	}

	return errors.Join(errs...)
}

func (c Config) deviceConfig() device.Config {
	return device.Config{
		Index:  c.Device,
		URL:    c.DeviceURL,
		Width:  c.Width,
		Height: c.Height,
	}
}
