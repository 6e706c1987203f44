package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glossalabs/glossa-core/internal/delivery"
	"github.com/glossalabs/glossa-core/internal/lang"
	"github.com/glossalabs/glossa-core/internal/protocol"
	"github.com/glossalabs/glossa-core/internal/room"
	"github.com/glossalabs/glossa-core/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedRecognizer struct {
	mu      sync.Mutex
	results []string
}

func (r *scriptedRecognizer) Transcribe(context.Context, []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return "", nil
	}
	next := r.results[0]
	r.results = r.results[1:]
	return next, nil
}

type fakeTranslator struct {
	mu       sync.Mutex
	contexts [][]string
	failLang string
	delay    time.Duration
}

func (t *fakeTranslator) Translate(_ context.Context, sentence, target string, priorContext []string) (string, error) {
	if !lang.Supported(target) {
		return "", lang.ErrUnsupported{Code: target}
	}
	t.mu.Lock()
	t.contexts = append(t.contexts, append([]string(nil), priorContext...))
	t.mu.Unlock()
	if t.failLang == target {
		return "", fmt.Errorf("upstream translation outage")
	}
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	return "[" + target + "] " + sentence, nil
}

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
	return append([]any(nil), c.messages...)
}

func types(messages []any) []string {
	var out []string
	for _, msg := range messages {
		switch m := msg.(type) {
		case protocol.TextMessage:
			out = append(out, fmt.Sprintf("text:%d", m.UtteranceID))
		case protocol.AudioMessage:
			out = append(out, fmt.Sprintf("audio:%d", m.UtteranceID))
		case protocol.VisemesMessage:
			out = append(out, fmt.Sprintf("visemes:%d", m.UtteranceID))
		}
	}
	return out
}

func newTestPipeline(recognizer *scriptedRecognizer, translator *fakeTranslator) (*Pipeline, *room.Registry) {
	registry := room.NewRegistry(testLogger())
	p := New(recognizer, translator, tts.NewMockSynth(22050), registry, Options{CacheSize: 0}, testLogger())
	return p, registry
}

func joinWithConn(t *testing.T, registry *room.Registry, roomKey, language string) (*room.Subscriber, *recordingConn) {
	t.Helper()
	conn := &recordingConn{}
	ch := delivery.NewChannel(conn, testLogger(), nil)
	sub, err := registry.Join(roomKey, language, ch)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	return sub, conn
}

func TestProcessDeliversTripleInOrder(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"First point. Second point."}}
	translator := &fakeTranslator{delay: 5 * time.Millisecond}
	p, registry := newTestPipeline(recognizer, translator)
	_, conn := joinWithConn(t, registry, "aula", "fr")

	p.Process(context.Background(), "aula", []byte("wav"))

	got := types(conn.snapshot())
	want := []string{"text:1", "audio:1", "visemes:1", "text:2", "audio:2", "visemes:2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("message order = %v, want %v", got, want)
	}
}

func TestProcessDropsEmptyTranscript(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"   "}}
	p, registry := newTestPipeline(recognizer, &fakeTranslator{})
	_, conn := joinWithConn(t, registry, "aula", "de")

	p.Process(context.Background(), "aula", []byte("wav"))
	if len(conn.snapshot()) != 0 {
		t.Fatal("empty transcript must not fan out")
	}
}

func TestDedupeWithinWindow(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"Same thing.", "same thing.", "Same thing."}}
	p, registry := newTestPipeline(recognizer, &fakeTranslator{})
	_, conn := joinWithConn(t, registry, "aula", "es")

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.clock = func() time.Time { return now }

	p.Process(context.Background(), "aula", []byte("a"))
	// Case-insensitive repeat 1 s later: dropped.
	now = now.Add(time.Second)
	p.Process(context.Background(), "aula", []byte("b"))
	if got := len(types(conn.snapshot())); got != 3 {
		t.Fatalf("expected one fan-out (3 messages), got %d", got)
	}

	// Same text again 3 s later: past the window, delivered.
	now = now.Add(3 * time.Second)
	p.Process(context.Background(), "aula", []byte("c"))
	if got := len(types(conn.snapshot())); got != 6 {
		t.Fatalf("expected second fan-out (6 messages), got %d", got)
	}
}

func TestContextWindowHoldsTwoMostRecent(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"One. Two. Three. Four."}}
	translator := &fakeTranslator{}
	p, registry := newTestPipeline(recognizer, translator)
	joinWithConn(t, registry, "aula", "zh")

	p.Process(context.Background(), "aula", []byte("wav"))

	translator.mu.Lock()
	defer translator.mu.Unlock()
	if len(translator.contexts) != 4 {
		t.Fatalf("expected 4 translations, got %d", len(translator.contexts))
	}
	if len(translator.contexts[0]) != 0 {
		t.Fatalf("first sentence should have empty context, got %v", translator.contexts[0])
	}
	if got := strings.Join(translator.contexts[2], "|"); got != "One.|Two." {
		t.Fatalf("third context = %q, want the two most recent in order", got)
	}
	if got := strings.Join(translator.contexts[3], "|"); got != "Two.|Three." {
		t.Fatalf("fourth context = %q, want window to evict oldest", got)
	}
}

func TestContextUpdatesWithoutSubscribers(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"Alpha.", "Beta."}}
	translator := &fakeTranslator{}
	p, registry := newTestPipeline(recognizer, translator)

	// No subscribers yet: fan-out skipped but context advances.
	p.Process(context.Background(), "aula", []byte("a"))

	joinWithConn(t, registry, "aula", "ar")
	p.Process(context.Background(), "aula", []byte("b"))

	translator.mu.Lock()
	defer translator.mu.Unlock()
	if len(translator.contexts) != 1 {
		t.Fatalf("expected 1 translation, got %d", len(translator.contexts))
	}
	if got := strings.Join(translator.contexts[0], "|"); got != "Alpha." {
		t.Fatalf("context = %q, want the sentence seen before any subscriber joined", got)
	}
}

func TestSubscriberFailureIsIsolated(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"Important announcement."}}
	translator := &fakeTranslator{failLang: "fr"}
	p, registry := newTestPipeline(recognizer, translator)
	_, frConn := joinWithConn(t, registry, "aula", "fr")
	_, deConn := joinWithConn(t, registry, "aula", "de")

	p.Process(context.Background(), "aula", []byte("wav"))

	if len(frConn.snapshot()) != 0 {
		t.Fatal("failed subscriber must receive nothing for the utterance")
	}
	got := types(deConn.snapshot())
	want := []string{"text:1", "audio:1", "visemes:1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("healthy subscriber messages = %v, want %v", got, want)
	}
}

func TestUtteranceIDsAreStrictlyIncreasingAcrossSegments(t *testing.T) {
	recognizer := &scriptedRecognizer{results: []string{"First.", "Second."}}
	p, registry := newTestPipeline(recognizer, &fakeTranslator{})
	_, conn := joinWithConn(t, registry, "aula", "bn")

	p.Process(context.Background(), "aula", []byte("a"))
	p.Process(context.Background(), "aula", []byte("b"))

	var ids []int64
	for _, msg := range conn.snapshot() {
		if m, ok := msg.(protocol.TextMessage); ok {
			ids = append(ids, m.UtteranceID)
		}
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("utterance ids = %v, want [1 2]", ids)
	}
}

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello there. How are you?", []string{"Hello there.", "How are you?"}},
		{"no punctuation", []string{"no punctuation."}},
		{"Mr. smith left. The end.", []string{"Mr. smith left.", "The end."}},
		{"Wait... What happened?", []string{"Wait...", "What happened?"}},
		{"One! Two? Three.", []string{"One!", "Two?", "Three."}},
		{"trailing words here", []string{"trailing words here."}},
		{"", nil},
	}
	for _, tc := range cases {
		got := splitSentences(tc.in)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Fatalf("splitSentences(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
