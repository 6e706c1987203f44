package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/glossalabs/glossa-core/internal/bus"
	"github.com/glossalabs/glossa-core/internal/eventstore"
	"github.com/glossalabs/glossa-core/internal/protocol"
	"github.com/glossalabs/glossa-core/internal/room"
	"github.com/glossalabs/glossa-core/internal/stt"
	"github.com/glossalabs/glossa-core/internal/translate"
	"github.com/glossalabs/glossa-core/internal/tts"
)

const (
	contextWindowSize = 2
	dedupeWindow      = 2 * time.Second
	engineTimeout     = 45 * time.Second
)

// roomState is the per-room pipeline state: the translation context window,
// the dedupe cache, and the utterance counter. Mutated only under the
// pipeline mutex, and only by the single segment-processing path of that
// room's session.
type roomState struct {
	contextWindow  []string
	lastTranscript string
	lastSeenAt     time.Time
	nextUtterance  int64
}

// Pipeline turns validated speech segments into per-subscriber deliveries:
// transcribe, dedupe, split into sentences, then fan each sentence out to
// every subscriber in its own language. Downstream failures never escape;
// they are logged and skip only the affected subscriber.
type Pipeline struct {
	log        *slog.Logger
	recognizer stt.Recognizer
	translator translate.Translator
	synth      tts.Synthesizer
	registry   *room.Registry
	bus        *bus.Client       // optional
	store      *eventstore.Store // optional
	cache      *lru.Cache[string, string]
	clock      func() time.Time

	mu    sync.Mutex
	rooms map[string]*roomState

	segmentsIn      metric.Int64Counter
	utterancesOut   metric.Int64Counter
	subscriberFails metric.Int64Counter
}

// Options carries the optional collaborators.
type Options struct {
	Bus       *bus.Client
	Store     *eventstore.Store
	CacheSize int
}

func New(recognizer stt.Recognizer, translator translate.Translator, synth tts.Synthesizer, registry *room.Registry, opts Options, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		log:        log.With(slog.String("component", "pipeline")),
		recognizer: recognizer,
		translator: translator,
		synth:      synth,
		registry:   registry,
		bus:        opts.Bus,
		store:      opts.Store,
		clock:      time.Now,
		rooms:      make(map[string]*roomState),
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, string](opts.CacheSize)
		if err != nil {
			p.log.Warn("translation cache disabled", slog.String("error", err.Error()))
		} else {
			p.cache = cache
		}
	}
	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter("github.com/glossalabs/glossa-core/pipeline")
	var err error
	if p.segmentsIn, err = meter.Int64Counter("glossa.pipeline.segments",
		metric.WithDescription("Validated segments entering the pipeline")); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	p.utterancesOut, _ = meter.Int64Counter("glossa.pipeline.utterances",
		metric.WithDescription("Utterances fanned out"))
	p.subscriberFails, _ = meter.Int64Counter("glossa.pipeline.subscriber_errors",
		metric.WithDescription("Per-subscriber fan-out failures"))
}

// ReleaseRoom drops the per-room pipeline state once a presenter session
// ends and the room has emptied.
func (p *Pipeline) ReleaseRoom(roomKey string) {
	key := room.Normalize(roomKey)
	p.mu.Lock()
	delete(p.rooms, key)
	p.mu.Unlock()
}

// Process runs one validated WAV segment through the full pipeline. It is
// side-effecting and never returns an error: every failure is scoped to a
// room, a subscriber, or a single utterance, and logged.
func (p *Pipeline) Process(ctx context.Context, roomKey string, wavData []byte) {
	key := room.Normalize(roomKey)
	if p.segmentsIn != nil {
		p.segmentsIn.Add(ctx, 1)
	}

	tctx, cancel := context.WithTimeout(ctx, engineTimeout)
	text, err := p.recognizer.Transcribe(tctx, wavData)
	cancel()
	if err != nil {
		p.log.Warn("transcription failed", slog.String("room", key), slog.String("error", err.Error()))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.log.Debug("no speech in segment", slog.String("room", key))
		return
	}

	if p.isDuplicate(key, text) {
		p.log.Debug("duplicate transcript dropped", slog.String("room", key))
		return
	}

	for _, sentence := range splitSentences(text) {
		p.fanOut(ctx, key, sentence)
	}
}

// isDuplicate applies the dedupe window and, for fresh text, records it as
// the room's last transcript.
func (p *Pipeline) isDuplicate(key, text string) bool {
	normalized := strings.ToLower(text)
	now := p.clock()

	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.roomStateLocked(key)
	if state.lastTranscript == normalized && now.Sub(state.lastSeenAt) < dedupeWindow {
		return true
	}
	state.lastTranscript = normalized
	state.lastSeenAt = now
	return false
}

func (p *Pipeline) roomStateLocked(key string) *roomState {
	state := p.rooms[key]
	if state == nil {
		state = &roomState{}
		p.rooms[key] = state
	}
	return state
}

// fanOut delivers one sentence to every subscriber of the room. The context
// snapshot is fixed before any engine call, so concurrently translating
// subscribers all see the same history. Fan-out for the next sentence does
// not begin until every subscriber goroutine for this one has returned,
// which keeps utterance ids non-decreasing on every channel.
func (p *Pipeline) fanOut(ctx context.Context, key, sentence string) {
	p.mu.Lock()
	state := p.roomStateLocked(key)
	state.nextUtterance++
	utteranceID := state.nextUtterance
	snapshot := append([]string(nil), state.contextWindow...)
	state.contextWindow = append(state.contextWindow, sentence)
	if len(state.contextWindow) > contextWindowSize {
		state.contextWindow = state.contextWindow[len(state.contextWindow)-contextWindowSize:]
	}
	p.mu.Unlock()

	p.record(ctx, key, utteranceID, sentence)

	subscribers := p.registry.Snapshot(key)
	if len(subscribers) == 0 {
		return
	}
	if p.utterancesOut != nil {
		p.utterancesOut.Add(ctx, 1)
	}

	var wg sync.WaitGroup
	for _, sub := range subscribers {
		wg.Add(1)
		go func(sub *room.Subscriber) {
			defer wg.Done()
			p.deliver(ctx, key, sub, utteranceID, sentence, snapshot)
		}(sub)
	}
	wg.Wait()
}

// deliver runs translate -> text -> synthesize -> audio -> visemes for one
// subscriber. Any failure skips the rest of this subscriber's utterance and
// nothing else.
func (p *Pipeline) deliver(ctx context.Context, key string, sub *room.Subscriber, utteranceID int64, sentence string, snapshot []string) {
	language := sub.Language()

	translated, err := p.translateCached(ctx, sentence, language, snapshot)
	if err != nil {
		p.subscriberFailure(ctx, key, sub.ID, language, utteranceID, "translate", err)
		return
	}
	sub.Channel.Send(protocol.NewTextMessage(utteranceID, sentence, translated, language))

	sctx, cancel := context.WithTimeout(ctx, engineTimeout)
	result, err := p.synth.Synthesize(sctx, translated, language)
	cancel()
	if err != nil {
		p.subscriberFailure(ctx, key, sub.ID, language, utteranceID, "synthesize", err)
		return
	}
	sub.Channel.Send(protocol.NewAudioMessage(utteranceID, result.Audio))
	sub.Channel.Send(protocol.NewVisemesMessage(utteranceID, result.Visemes))
}

func (p *Pipeline) translateCached(ctx context.Context, sentence, language string, snapshot []string) (string, error) {
	var cacheKey string
	if p.cache != nil {
		cacheKey = language + "\x1f" + strings.Join(snapshot, "\x1f") + "\x1f" + sentence
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	tctx, cancel := context.WithTimeout(ctx, engineTimeout)
	defer cancel()
	translated, err := p.translator.Translate(tctx, sentence, language, snapshot)
	if err != nil {
		return "", err
	}
	if p.cache != nil {
		p.cache.Add(cacheKey, translated)
	}
	return translated, nil
}

func (p *Pipeline) subscriberFailure(ctx context.Context, key, subscriberID, language string, utteranceID int64, stage string, err error) {
	if p.subscriberFails != nil {
		p.subscriberFails.Add(ctx, 1)
	}
	p.log.Warn("subscriber fan-out failed",
		slog.String("room", key),
		slog.String("subscriber", subscriberID),
		slog.String("language", language),
		slog.Int64("utterance_id", utteranceID),
		slog.String("stage", stage),
		slog.String("error", err.Error()))
}

// record publishes the finalized utterance on the bus and appends it to the
// event store. Both are best-effort observers of the live path.
func (p *Pipeline) record(ctx context.Context, key string, utteranceID int64, sentence string) {
	subscribers := len(p.registry.Snapshot(key))
	if p.bus != nil {
		event := protocol.UtteranceEvent{
			Room:        key,
			UtteranceID: utteranceID,
			Text:        sentence,
			Subscribers: subscribers,
			Timestamp:   p.clock().UTC(),
		}
		if err := p.bus.PublishUtterance(event); err != nil {
			p.log.Warn("failed to publish utterance event", slog.String("error", err.Error()))
		}
	}
	if p.store != nil {
		if err := p.store.AppendUtterance(ctx, key, utteranceID, sentence); err != nil {
			p.log.Warn("failed to record utterance", slog.String("error", err.Error()))
		}
	}
}
