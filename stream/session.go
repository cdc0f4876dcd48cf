package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/Tutortoise/live-detection-stream/models"
	"github.com/Tutortoise/live-detection-stream/overlay"

	"github.com/rs/zerolog"
)

type State int

const (
	StateInit State = iota
	StateStreaming
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var errPeerGone = errors.New("peer gone")

var fpsOrigin = image.Pt(10, 30)

// session is the per-connection capture loop. Every stage is awaited before
// the next one starts, so the device handle is never used concurrently.
type session struct {
	id      string
	handler *Handler
	source  FrameSource
	log     zerolog.Logger

	state    State
	prevTime time.Time
	lastFPS  float64
	frames   uint64
	err      error
}

func (s *session) run(ctx context.Context, w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	defer s.close(rc)

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache, private")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.state = StateStreaming
	s.log.Info().Msg("stream started")
	if err := flush(rc); err != nil {
		s.err = fmt.Errorf("%w: %w", errPeerGone, err)
		return
	}

	s.prevTime = s.handler.now()
	for {
		if ctx.Err() != nil {
			s.err = ctx.Err()
			return
		}
		if err := s.step(ctx, w, rc); err != nil {
			s.err = err
			return
		}
	}
}

// step runs one iteration. A not-ready read returns nil without producing a
// frame.
func (s *session) step(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController) error {
	h := s.handler
	timings := models.FrameTimings{SessionID: s.id, Frame: s.frames + 1}
	start := time.Now()

	frame, ready, err := s.source.Next(ctx)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	if !ready {
		s.sleep(ctx, h.backoff)
		return nil
	}
	timings.Read = time.Since(start)

	if h.annotator != nil {
		inferStart := time.Now()
		dets, err := h.annotator.Infer(ctx, frame)
		if err != nil {
			return fmt.Errorf("detect objects: %w", err)
		}
		timings.Inference = time.Since(inferStart)

		drawStart := time.Now()
		frame = h.annotator.Draw(frame, dets)
		timings.Draw = time.Since(drawStart)
	}

	now := h.now()
	s.lastFPS = FrameRate(s.prevTime, now)
	s.prevTime = now
	overlay.Text(frame, fmt.Sprintf("FPS: %.2f", s.lastFPS), fpsOrigin, overlay.Yellow, 2)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	encodeStart := time.Now()
	data, err := h.encoder.Encode(ctx, frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	timings.Encode = time.Since(encodeStart)

	writeStart := time.Now()
	if err := setWriteDeadline(rc, h.writeTimeout); err != nil {
		return fmt.Errorf("%w: %w", errPeerGone, err)
	}
	if err := WriteChunk(w, data); err != nil {
		return fmt.Errorf("%w: %w", errPeerGone, err)
	}
	if err := flush(rc); err != nil {
		return fmt.Errorf("%w: %w", errPeerGone, err)
	}
	timings.Write = time.Since(writeStart)
	timings.Total = time.Since(start)

	s.frames++
	h.frames.Add(1)
	s.logTimings(&timings)
	return nil
}

func (s *session) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// close releases the device on every exit path, then finalizes the response
// as far as the peer still allows.
func (s *session) close(rc *http.ResponseController) {
	s.state = StateDraining

	if err := s.source.Release(); err != nil {
		s.log.Warn().Err(err).Msg("device release failed")
	}

	// The peer may already be gone; nothing to do about a failed flush.
	_ = flush(rc)

	s.state = StateClosed

	switch {
	case s.err == nil:
		s.log.Info().Uint64("frames", s.frames).Msg("stream closed")
	case errors.Is(s.err, errPeerGone), errors.Is(s.err, context.Canceled), errors.Is(s.err, context.DeadlineExceeded):
		s.log.Info().
			Uint64("frames", s.frames).
			Float64("last_fps", s.lastFPS).
			AnErr("reason", s.err).
			Msg("client disconnected, stream closed")
	default:
		s.log.Error().
			Err(s.err).
			Uint64("frames", s.frames).
			Msg("stream session failed")
	}
}

func (s *session) logTimings(t *models.FrameTimings) {
	s.log.Debug().
		Uint64("frame", t.Frame).
		Float64("fps", s.lastFPS).
		Dur("read", t.Read).
		Dur("inference", t.Inference).
		Dur("draw", t.Draw).
		Dur("encode", t.Encode).
		Dur("write", t.Write).
		Dur("total", t.Total).
		Msg("frame timings")
}
