package stream

import (
	"context"
	"image"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/live-detection-stream/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FrameSource is an open device handle. Release must be safe to call more
// than once.
type FrameSource interface {
	Next(ctx context.Context) (frame *image.NRGBA, ready bool, err error)
	Release() error
}

// Opener acquires a fresh FrameSource for one session.
type Opener func(ctx context.Context) (FrameSource, error)

type Annotator interface {
	Infer(ctx context.Context, frame image.Image) ([]models.Detection, error)
	Draw(frame image.Image, dets []models.Detection) *image.NRGBA
}

// DefaultWriteTimeout bounds how long one chunk may take to reach the client.
const DefaultWriteTimeout = 5 * time.Second

type Encoder interface {
	Encode(ctx context.Context, frame image.Image) ([]byte, error)
}

// Handler serves the multipart stream. Each request gets its own session and
// its own device handle.
type Handler struct {
	open         Opener
	encoder      Encoder
	annotator    Annotator
	log          zerolog.Logger
	now          func() time.Time
	backoff      time.Duration
	writeTimeout time.Duration

	active atomic.Int64
	total  atomic.Int64
	frames atomic.Uint64
}

type Option func(*Handler)

// WithAnnotator enables per-frame detection.
func WithAnnotator(a Annotator) Option {
	return func(h *Handler) { h.annotator = a }
}

func WithLogger(log zerolog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithWriteTimeout sets the per-chunk write deadline. A client that cannot
// take a chunk in time is treated as gone. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// WithBackoff sets how long to wait after a not-ready read.
func WithBackoff(d time.Duration) Option {
	return func(h *Handler) { h.backoff = d }
}

func NewHandler(open Opener, enc Encoder, opts ...Option) *Handler {
	h := &Handler{
		open:    open,
		encoder: enc,
		log:     zerolog.Nop(),
		now:     time.Now,
		backoff: 10 * time.Millisecond,

		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type Stats struct {
	ActiveSessions int64  `json:"active_sessions"`
	TotalSessions  int64  `json:"total_sessions"`
	FramesStreamed uint64 `json:"frames_streamed"`
}

func (h *Handler) Stats() Stats {
	return Stats{
		ActiveSessions: h.active.Load(),
		TotalSessions:  h.total.Load(),
		FramesStreamed: h.frames.Load(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) *session {
	ctx := r.Context()
	id := uuid.NewString()
	log := h.log.With().Str("session", id).Str("remote", r.RemoteAddr).Logger()

	src, err := h.open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not open device, stream not started")
		SendErrorResponse(w, "device_unavailable", err.Error(), http.StatusServiceUnavailable)
		return nil
	}

	h.active.Add(1)
	h.total.Add(1)
	defer h.active.Add(-1)

	s := &session{
		id:      id,
		handler: h,
		source:  src,
		log:     log,
	}
	s.run(ctx, w)
	return s
}
