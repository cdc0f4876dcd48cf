package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Tutortoise/live-detection-stream/offload"
)

// Source is one open device handle whose blocking calls run on the offload pool.
type Source struct {
	dev  Device
	pool *offload.Pool

	releaseOnce sync.Once
	releaseErr  error
}

// Open opens a handle on the offload pool. Any failure is reported as
// ErrDeviceUnavailable.
func Open(ctx context.Context, pool *offload.Pool, driver Driver, cfg Config) (*Source, error) {
	dev, err := offload.Do(ctx, pool, func() (Device, error) {
		return driver(cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: driver returned no device", ErrDeviceUnavailable)
	}
	return &Source{dev: dev, pool: pool}, nil
}

type readResult struct {
	frame *image.NRGBA
	ready bool
}

func (s *Source) Next(ctx context.Context) (*image.NRGBA, bool, error) {
	r, err := offload.Do(ctx, s.pool, func() (readResult, error) {
		frame, ready, err := s.dev.Read()
		return readResult{frame, ready && frame != nil}, err
	})
	if err != nil {
		return nil, false, err
	}
	return r.frame, r.ready, nil
}

// Release closes the handle exactly once, however many times it is called.
// It is not bound to any request context: the close is always submitted.
func (s *Source) Release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = offload.Run(context.Background(), s.pool, s.dev.Close)
		if errors.Is(s.releaseErr, offload.ErrPoolClosed) {
			// Pool already shut down; the handle still has to go.
			s.releaseErr = s.dev.Close()
		}
	})
	return s.releaseErr
}
