package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/live-detection-stream/detections"
	"github.com/Tutortoise/live-detection-stream/device"
	"github.com/Tutortoise/live-detection-stream/encoder"
	"github.com/Tutortoise/live-detection-stream/offload"
	"github.com/Tutortoise/live-detection-stream/stream"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

type AppState struct {
	Pool     *offload.Pool
	Stream   *stream.Handler
	Detector *detections.ONNXDetector
	Page     []byte
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func main() {
	cfg, err := parseConfig(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log := newLogger(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg Config, log zerolog.Logger) error {
	driver, err := device.Lookup(cfg.Driver)
	if err != nil {
		return err
	}

	page, err := loadPage(cfg.Detect)
	if err != nil {
		return err
	}

	pool := offload.New(cfg.Workers)
	defer pool.Close()

	enc := encoder.New(pool, cfg.Quality)
	devCfg := cfg.deviceConfig()
	open := func(ctx context.Context) (stream.FrameSource, error) {
		return device.Open(ctx, pool, driver, devCfg)
	}
	opts := []stream.Option{stream.WithLogger(log.With().Str("component", "stream").Logger())}

	state := &AppState{Pool: pool, Page: page}

	if cfg.Detect == DetectServer {
		if err := detections.InitRuntime(cfg.OnnxLibPath); err != nil {
			return err
		}
		defer detections.DestroyRuntime()

		// One model session per worker: inference never waits on another session.
		detector, err := detections.NewONNXDetector(detections.ONNXConfig{
			ModelPath:     cfg.ModelPath,
			Sessions:      cfg.Workers,
			ConfThreshold: float32(cfg.ConfThreshold),
			IouThreshold:  cfg.IouThreshold,
		})
		if err != nil {
			return err
		}
		defer detector.Close()

		state.Detector = detector
		opts = append(opts, stream.WithAnnotator(detections.NewAnnotator(pool, detector)))
		log.Info().Str("model", cfg.ModelPath).Msg("server-side detection enabled")
	}

	state.Stream = stream.NewHandler(open, enc, opts...)

	// Request contexts derive from baseCtx so that cancelling it ends every
	// running stream; Shutdown alone would wait on them forever.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	srv := &http.Server{
		Handler:           newRouter(state),
		Addr:              cfg.Addr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("driver", cfg.Driver).
			Int("device", cfg.Device).
			Str("detect", cfg.Detect).
			Int("workers", cfg.Workers).
			Msg("starting server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down, ending active streams")
	cancelStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Drain offloaded work before the detector and runtime are torn down.
	pool.Close()
	return nil
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", state.handleIndex).Methods(http.MethodGet)
	r.Handle("/video_feed", state.Stream).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	state.addMonitoringRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		stream.SendErrorResponse(w, "not_found", MsgNotFound, http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		stream.SendErrorResponse(w, "method_not_allowed", MsgMethodNotAllowed, http.StatusMethodNotAllowed)
	})
	return r
}

func (s *AppState) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(s.Page)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"pool":   s.Pool.GetMetrics(),
		"stream": s.Stream.Stats(),
	}
	if s.Detector != nil {
		response["model_sessions"] = s.Detector.Metrics()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
