package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/pipeline"
	"github.com/glossalabs/glossa-core/internal/protocol"
	"github.com/glossalabs/glossa-core/internal/room"
	"github.com/glossalabs/glossa-core/internal/vad"
)

// Publisher announces segments accepted for processing on the event bus.
// The bus client is the production implementation.
type Publisher interface {
	PublishSegment(event protocol.SegmentEvent) error
}

// Session is one presenter's live broadcast. The transport read loop calls
// HandleFrame inline; the VAD runs on that path because it is cheap and
// CPU-only, while validated segments cross a bounded queue to a worker so
// frame ingestion never blocks on engine calls. If the queue stays full past
// the enqueue wait the segment is dropped: live audio responsiveness wins
// over utterance completeness.
type Session struct {
	roomKey   string
	log       *slog.Logger
	detector  *vad.Detector
	validator *vad.Validator
	pipeline  *pipeline.Pipeline
	registry  *room.Registry
	publisher Publisher // optional

	ctx         context.Context
	queue       chan []byte
	enqueueWait time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func New(ctx context.Context, roomKey string, cfg config.AudioConfig, pl *pipeline.Pipeline, registry *room.Registry, pub Publisher, log *slog.Logger) *Session {
	key := room.Normalize(roomKey)
	return &Session{
		roomKey:   key,
		log:       log.With(slog.String("component", "session"), slog.String("room", key)),
		detector:  vad.NewDetector(cfg),
		validator: vad.NewValidator(cfg),
		pipeline:  pl,
		registry:  registry,
		publisher: pub,

		ctx:         ctx,
		queue:       make(chan []byte, cfg.SegmentQueueSize),
		enqueueWait: time.Duration(cfg.SegmentEnqueueWait) * time.Millisecond,
	}
}

// Start launches the segment worker.
func (s *Session) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for wavData := range s.queue {
			s.pipeline.Process(s.ctx, s.roomKey, wavData)
		}
	}()
	s.log.Info("presenter session started")
}

// HandleFrame feeds one frame of presenter audio into the VAD. Malformed
// frames are discarded; segmentation and validation failures never surface
// to the transport.
func (s *Session) HandleFrame(frame []byte) {
	seg, err := s.detector.Push(frame)
	if err != nil {
		s.log.Warn("discarding malformed frame", slog.String("error", err.Error()))
		return
	}
	if seg != nil {
		s.finalize(seg)
	}
}

// HandlePose relays an opaque pose/gesture payload to every subscriber,
// bypassing the utterance pipeline entirely.
func (s *Session) HandlePose(data json.RawMessage) {
	msg := protocol.PoseMessage{Type: protocol.TypePose, Data: data}
	for _, sub := range s.registry.Snapshot(s.roomKey) {
		sub.Channel.Send(msg)
	}
}

// Close ends ingestion. Any in-progress segment is flushed and queued
// segments drain best-effort so subscribers still receive the tail of
// speech already captured. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if seg := s.detector.Flush(); seg != nil {
			s.finalize(seg)
		}
		close(s.queue)
		s.wg.Wait()
		// A room whose listeners are already gone (or never arrived) has
		// no one left to fire the registry's empty-room hook.
		if len(s.registry.Snapshot(s.roomKey)) == 0 {
			s.pipeline.ReleaseRoom(s.roomKey)
		}
		s.log.Info("presenter session closed")
	})
}

func (s *Session) finalize(seg *vad.Segment) {
	if err := s.validator.Validate(seg); err != nil {
		s.log.Debug("segment rejected",
			slog.Int64("duration_ms", seg.DurationMS()),
			slog.String("reason", err.Error()))
		return
	}

	wavData, err := vad.EncodeWAV(seg.PCM)
	if err != nil {
		s.log.Warn("failed to encode segment", slog.String("error", err.Error()))
		return
	}

	// Announce only segments that actually made the handoff; a dropped
	// segment must not look accepted to bus consumers.
	select {
	case s.queue <- wavData:
		s.publishSegmentEvent(seg)
	case <-time.After(s.enqueueWait):
		s.log.Warn("segment queue full, dropping segment",
			slog.Int64("duration_ms", seg.DurationMS()))
	case <-s.ctx.Done():
	}
}

func (s *Session) publishSegmentEvent(seg *vad.Segment) {
	if s.publisher == nil {
		return
	}
	event := protocol.SegmentEvent{
		Room:       s.roomKey,
		DurationMS: seg.DurationMS(),
		Bytes:      len(seg.PCM),
		Timestamp:  time.Now().UTC(),
	}
	if err := s.publisher.PublishSegment(event); err != nil {
		s.log.Warn("failed to publish segment event", slog.String("error", err.Error()))
	}
}
