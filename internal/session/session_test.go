package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/delivery"
	"github.com/glossalabs/glossa-core/internal/pipeline"
	"github.com/glossalabs/glossa-core/internal/protocol"
	"github.com/glossalabs/glossa-core/internal/room"
	"github.com/glossalabs/glossa-core/internal/stt"
	"github.com/glossalabs/glossa-core/internal/translate"
	"github.com/glossalabs/glossa-core/internal/tts"
)

type recordingConn struct {
	mu       sync.Mutex
	messages []any
}

func (c *recordingConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, v)
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.messages))
	copy(out, c.messages)
	return out
}

func frameWithAmplitude(amp int16) []byte {
	frame := make([]byte, protocol.FrameBytes)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(amp))
	}
	return frame
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T) (*Session, *recordingConn) {
	t.Helper()
	log := testLogger()
	registry := room.NewRegistry(log)
	conn := &recordingConn{}
	ch := delivery.NewChannel(conn, log, nil)
	if _, err := registry.Join("hall", "es", ch); err != nil {
		t.Fatalf("Join: %v", err)
	}

	pl := pipeline.New(
		stt.NewMockRecognizer(),
		translate.NewMockTranslator(),
		tts.NewMockSynth(protocol.SampleRate),
		registry,
		pipeline.Options{},
		log,
	)

	s := New(context.Background(), "Hall", config.Default().Audio, pl, registry, nil, log)
	s.Start()
	return s, conn
}

func TestSessionDeliversTranslationTriple(t *testing.T) {
	s, conn := newTestSession(t)

	voiced := frameWithAmplitude(4000)
	silent := frameWithAmplitude(0)
	for i := 0; i < 30; i++ {
		s.HandleFrame(voiced)
	}
	for i := 0; i < 20; i++ {
		s.HandleFrame(silent)
	}
	s.Close()

	messages := conn.snapshot()
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want text+audio+visemes", len(messages))
	}
	if _, ok := messages[0].(protocol.TextMessage); !ok {
		t.Fatalf("first message is %T, want TextMessage", messages[0])
	}
	if _, ok := messages[1].(protocol.AudioMessage); !ok {
		t.Fatalf("second message is %T, want AudioMessage", messages[1])
	}
	if _, ok := messages[2].(protocol.VisemesMessage); !ok {
		t.Fatalf("third message is %T, want VisemesMessage", messages[2])
	}
}

func TestSessionCloseFlushesOpenSegment(t *testing.T) {
	s, conn := newTestSession(t)

	// Enough speech to satisfy validation, but no trailing silence: the
	// segment is still open when the presenter disconnects.
	voiced := frameWithAmplitude(4000)
	for i := 0; i < 30; i++ {
		s.HandleFrame(voiced)
	}
	s.Close()

	if got := len(conn.snapshot()); got != 3 {
		t.Fatalf("got %d messages after flush, want 3", got)
	}
}

func TestSessionDiscardsMalformedFrames(t *testing.T) {
	s, conn := newTestSession(t)

	s.HandleFrame(make([]byte, 10))
	s.HandleFrame(nil)
	s.Close()

	if got := len(conn.snapshot()); got != 0 {
		t.Fatalf("got %d messages from malformed frames, want 0", got)
	}
}

func TestSessionRejectsSubValidationSegments(t *testing.T) {
	s, conn := newTestSession(t)

	// A blip with too few voiced frames finalizes but never reaches the
	// pipeline.
	voiced := frameWithAmplitude(4000)
	silent := frameWithAmplitude(0)
	for i := 0; i < 3; i++ {
		s.HandleFrame(voiced)
	}
	for i := 0; i < 20; i++ {
		s.HandleFrame(silent)
	}
	s.Close()

	if got := len(conn.snapshot()); got != 0 {
		t.Fatalf("got %d messages for rejected segment, want 0", got)
	}
}

func TestSessionPoseBypassesPipeline(t *testing.T) {
	s, conn := newTestSession(t)
	defer s.Close()

	payload := json.RawMessage(`{"joint":"head","yaw":0.4}`)
	s.HandlePose(payload)

	messages := conn.snapshot()
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1 pose", len(messages))
	}
	pose, ok := messages[0].(protocol.PoseMessage)
	if !ok {
		t.Fatalf("message is %T, want PoseMessage", messages[0])
	}
	if pose.Type != protocol.TypePose {
		t.Fatalf("pose type = %q", pose.Type)
	}
	if string(pose.Data) != string(payload) {
		t.Fatalf("pose data = %s", pose.Data)
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	s.Close()
	s.Close()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.SegmentEvent
}

func (p *recordingPublisher) PublishSegment(event protocol.SegmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func speak(s *Session, voicedFrames, silentFrames int) {
	voiced := frameWithAmplitude(4000)
	silent := frameWithAmplitude(0)
	for i := 0; i < voicedFrames; i++ {
		s.HandleFrame(voiced)
	}
	for i := 0; i < silentFrames; i++ {
		s.HandleFrame(silent)
	}
}

func TestSessionDroppedSegmentIsNotAnnounced(t *testing.T) {
	log := testLogger()
	registry := room.NewRegistry(log)
	pl := pipeline.New(
		stt.NewMockRecognizer(),
		translate.NewMockTranslator(),
		tts.NewMockSynth(protocol.SampleRate),
		registry,
		pipeline.Options{},
		log,
	)

	cfg := config.Default().Audio
	cfg.SegmentQueueSize = 1
	cfg.SegmentEnqueueWait = 1

	pub := &recordingPublisher{}
	s := New(context.Background(), "hall", cfg, pl, registry, pub, log)
	// The worker is deliberately not started, so the queue holds one
	// segment and the second finalize must drop.
	speak(s, 30, 20)
	speak(s, 30, 20)

	if got := pub.count(); got != 1 {
		t.Fatalf("announced %d segments, want only the accepted one", got)
	}
}

func TestSessionCloseReleasesStateOfEmptyRoom(t *testing.T) {
	log := testLogger()
	registry := room.NewRegistry(log)
	pl := pipeline.New(
		stt.NewMockRecognizer(),
		translate.NewMockTranslator(),
		tts.NewMockSynth(protocol.SampleRate),
		registry,
		pipeline.Options{},
		log,
	)
	cfg := config.Default().Audio

	// A broadcast with no listeners still accrues room state.
	first := New(context.Background(), "studio", cfg, pl, registry, nil, log)
	first.Start()
	speak(first, 30, 20)
	first.Close()

	// A later broadcast in the same room starts a fresh utterance counter.
	conn := &recordingConn{}
	ch := delivery.NewChannel(conn, log, nil)
	if _, err := registry.Join("studio", "es", ch); err != nil {
		t.Fatalf("Join: %v", err)
	}
	second := New(context.Background(), "studio", cfg, pl, registry, nil, log)
	second.Start()
	speak(second, 30, 20)
	second.Close()

	messages := conn.snapshot()
	if len(messages) == 0 {
		t.Fatal("no messages delivered")
	}
	text, ok := messages[0].(protocol.TextMessage)
	if !ok {
		t.Fatalf("first message is %T, want TextMessage", messages[0])
	}
	if text.UtteranceID != 1 {
		t.Fatalf("utterance id = %d, want 1 after room state release", text.UtteranceID)
	}
}
