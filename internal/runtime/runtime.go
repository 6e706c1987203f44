package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glossalabs/glossa-core/internal/bus"
	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/eventstore"
	"github.com/glossalabs/glossa-core/internal/lipsync"
	"github.com/glossalabs/glossa-core/internal/natsserver"
	"github.com/glossalabs/glossa-core/internal/pipeline"
	"github.com/glossalabs/glossa-core/internal/protocol"
	"github.com/glossalabs/glossa-core/internal/room"
	"github.com/glossalabs/glossa-core/internal/server"
	"github.com/glossalabs/glossa-core/internal/stt"
	"github.com/glossalabs/glossa-core/internal/translate"
	"github.com/glossalabs/glossa-core/internal/tts"
)

// Runtime assembles and runs the whole broadcast node: telemetry, the event
// bus, the utterance store, the engine set, the room registry, the pipeline,
// and the HTTP/websocket ingress. Start blocks until ctx is canceled, then
// tears everything down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("open event store: %w", err)
	}

	recognizer, translator, synth, err := r.buildEngines()
	if err != nil {
		store.Close()
		busClient.Close()
		embedded.Shutdown()
		return err
	}

	registry := room.NewRegistry(r.logger)
	pl := pipeline.New(recognizer, translator, synth, registry, pipeline.Options{
		Bus:       busClient,
		Store:     store,
		CacheSize: r.cfg.Translate.CacheSize,
	}, r.logger)
	registry.SetOnRoomEmpty(pl.ReleaseRoom)

	var lipsyncClient *lipsync.Client
	if r.cfg.Lipsync.Enabled {
		lipsyncClient = lipsync.NewClient(r.cfg.Lipsync.Endpoint)
	}

	ingress := server.New(ctx, r.cfg, pl, registry, store, busClient, lipsyncClient, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.readyHandler(busClient))
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	ingress.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("default_room", r.cfg.Rooms.DefaultRoom),
		slog.String("default_language", r.cfg.Rooms.DefaultLanguage))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildEngines() (stt.Recognizer, translate.Translator, tts.Synthesizer, error) {
	var recognizer stt.Recognizer
	switch r.cfg.STT.Mode {
	case "exec":
		engine, err := stt.NewExecRecognizer(r.cfg.STT)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build stt engine: %w", err)
		}
		recognizer = engine
	default:
		recognizer = stt.NewMockRecognizer()
	}

	var translator translate.Translator
	switch r.cfg.Translate.Mode {
	case "http":
		translator = translate.NewHTTPTranslator(r.cfg.Translate.Endpoint)
	case "exec":
		engine, err := translate.NewExecTranslator(r.cfg.Translate.Command)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build translate engine: %w", err)
		}
		translator = engine
	default:
		translator = translate.NewMockTranslator()
	}

	sampleRate := r.cfg.TTS.SampleRate
	if sampleRate <= 0 {
		sampleRate = protocol.SampleRate
	}
	var synth tts.Synthesizer
	switch r.cfg.TTS.Mode {
	case "exec":
		engine, err := tts.NewExecSynth(r.cfg.TTS.Command, sampleRate)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build tts engine: %w", err)
		}
		synth = engine
	default:
		synth = tts.NewMockSynth(sampleRate)
	}

	r.logger.Info("engines ready",
		slog.String("stt", r.cfg.STT.Mode),
		slog.String("translate", r.cfg.Translate.Mode),
		slog.String("tts", r.cfg.TTS.Mode))
	return recognizer, translator, synth, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) readyHandler(busClient *bus.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !r.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		if r.cfg.Bus.Enabled && !busClient.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("bus disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
