package delivery

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingConn struct {
	mu       sync.Mutex
	messages []any
	failNext bool
	closed   bool
}

func (c *recordingConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return errors.New("broken pipe")
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) snapshot() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.messages...)
}

func TestChannelPreservesEnqueueOrder(t *testing.T) {
	conn := &recordingConn{}
	ch := NewChannel(conn, testLogger(), nil)

	for i := 0; i < 10; i++ {
		ch.Send(i)
	}
	got := conn.snapshot()
	if len(got) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(got))
	}
	for i, msg := range got {
		if msg != i {
			t.Fatalf("message %d out of order: %v", i, msg)
		}
	}
}

func TestChannelSendAfterCloseIsNoop(t *testing.T) {
	conn := &recordingConn{}
	ch := NewChannel(conn, testLogger(), nil)
	ch.Close()
	ch.Send("late")
	if len(conn.snapshot()) != 0 {
		t.Fatal("send after close must not reach the transport")
	}
	if !conn.closed {
		t.Fatal("close must propagate to the transport")
	}
}

func TestChannelWriteFailureMarksDead(t *testing.T) {
	conn := &recordingConn{failNext: true}
	deadCh := make(chan struct{})
	ch := NewChannel(conn, testLogger(), func() { close(deadCh) })

	ch.Send("first")
	if !ch.Closed() {
		t.Fatal("write failure must close the channel")
	}
	select {
	case <-deadCh:
	case <-time.After(time.Second):
		t.Fatal("onDead callback not invoked")
	}

	conn.mu.Lock()
	conn.failNext = false
	conn.mu.Unlock()
	ch.Send("second")
	if len(conn.snapshot()) != 0 {
		t.Fatal("sends after a dead transport must be dropped")
	}
}

func TestChannelSetOnDeadAfterConstruction(t *testing.T) {
	conn := &recordingConn{failNext: true}
	ch := NewChannel(conn, testLogger(), nil)

	deadCh := make(chan struct{})
	ch.SetOnDead(func() { close(deadCh) })

	ch.Send("doomed")
	select {
	case <-deadCh:
	case <-time.After(time.Second):
		t.Fatal("callback installed after construction not invoked")
	}
}

func TestChannelSetOnDeadOnDeadChannelNeverFires(t *testing.T) {
	conn := &recordingConn{failNext: true}
	ch := NewChannel(conn, testLogger(), nil)
	ch.Send("doomed")
	if !ch.Closed() {
		t.Fatal("write failure must close the channel")
	}

	fired := make(chan struct{})
	ch.SetOnDead(func() { close(fired) })
	ch.Close()
	select {
	case <-fired:
		t.Fatal("callback must not fire on an already dead channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelConcurrentSendersDoNotInterleave(t *testing.T) {
	conn := &recordingConn{}
	ch := NewChannel(conn, testLogger(), nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ch.Send(g)
			}
		}(g)
	}
	wg.Wait()

	if len(conn.snapshot()) != 400 {
		t.Fatalf("expected 400 messages, got %d", len(conn.snapshot()))
	}
}
