package vad

import (
	"encoding/binary"
	"testing"

	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/protocol"
)

func frameWithAmplitude(amp int16) []byte {
	frame := make([]byte, protocol.FrameBytes)
	for i := 0; i < len(frame); i += 2 {
		binary.LittleEndian.PutUint16(frame[i:], uint16(amp))
	}
	return frame
}

func pushFrames(t *testing.T, d *Detector, frame []byte, n int) []*Segment {
	t.Helper()
	var segments []*Segment
	for i := 0; i < n; i++ {
		seg, err := d.Push(frame)
		if err != nil {
			t.Fatalf("push frame: %v", err)
		}
		if seg != nil {
			segments = append(segments, seg)
		}
	}
	return segments
}

func TestDetectorRejectsPartialFrame(t *testing.T) {
	d := NewDetector(config.Default().Audio)
	if _, err := d.Push(make([]byte, protocol.FrameBytes-2)); err == nil {
		t.Fatal("expected error for partial frame")
	}
}

func TestDetectorSingleUtterance(t *testing.T) {
	cfg := config.Default().Audio
	d := NewDetector(cfg)

	silence := frameWithAmplitude(0)
	voiced := frameWithAmplitude(2000)

	// 5 s silence, 1 s speech, 0.4 s silence.
	if segs := pushFrames(t, d, silence, 250); len(segs) != 0 {
		t.Fatalf("silence produced %d segments", len(segs))
	}
	segs := pushFrames(t, d, voiced, 50)
	segs = append(segs, pushFrames(t, d, silence, 20)...)

	if len(segs) != 1 {
		t.Fatalf("expected exactly one segment, got %d", len(segs))
	}

	// The start-confirmation frames ride inside the pre-roll ring, so the
	// seeded segment is pre-roll + the post-confirmation voiced span + the
	// end-confirmation silence run.
	preRoll := cfg.PreRollMS / protocol.FrameDurationMS
	endRun := cfg.SilenceFinalizeMS / protocol.FrameDurationMS
	want := preRoll + (50 - cfg.StartFrames) + endRun
	got := segs[0].Frames()
	if got < want-1 || got > want+1 {
		t.Fatalf("expected ~%d frames, got %d", want, got)
	}
	if d.State() != StateIdle {
		t.Fatalf("expected idle after finalize, got %s", d.State())
	}
}

func TestDetectorHardDurationCap(t *testing.T) {
	cfg := config.Default().Audio
	cfg.MaxWords = 0 // isolate the duration cap
	d := NewDetector(cfg)

	voiced := frameWithAmplitude(2000)
	segs := pushFrames(t, d, voiced, 600)

	if len(segs) == 0 {
		t.Fatal("expected at least one segment from continuous speech")
	}
	maxFrames := cfg.MaxSegmentMS / protocol.FrameDurationMS
	for _, seg := range segs {
		if seg.Frames() > maxFrames {
			t.Fatalf("segment of %d frames exceeds cap of %d", seg.Frames(), maxFrames)
		}
	}
}

func TestDetectorWordCapSplitsOnShortGap(t *testing.T) {
	cfg := config.Default().Audio
	d := NewDetector(cfg)

	voiced := frameWithAmplitude(2000)
	silence := frameWithAmplitude(0)

	// Enough voiced frames to pass the word cap, then a 100 ms gap: the
	// detector should split well before the 5 s hard cap.
	segs := pushFrames(t, d, voiced, cfg.MaxWords*framesPerWord+framesPerWord)
	segs = append(segs, pushFrames(t, d, silence, cfg.WordSplitGapMS/protocol.FrameDurationMS)...)

	if len(segs) != 1 {
		t.Fatalf("expected word-cap split to finalize one segment, got %d", len(segs))
	}
	if segs[0].DurationMS() >= int64(cfg.MaxSegmentMS) {
		t.Fatalf("split segment should finalize before the hard cap, got %d ms", segs[0].DurationMS())
	}
}

func TestDetectorSingleUnvoicedFrameResetsArming(t *testing.T) {
	cfg := config.Default().Audio
	d := NewDetector(cfg)

	voiced := frameWithAmplitude(2000)
	silence := frameWithAmplitude(0)

	for i := 0; i < 10; i++ {
		pushFrames(t, d, voiced, cfg.StartFrames-1)
		pushFrames(t, d, silence, 1)
	}
	if d.State() == StateSpeaking {
		t.Fatal("interrupted voicing runs must not confirm speech onset")
	}
}

func TestDetectorFlushReturnsPartialSegment(t *testing.T) {
	cfg := config.Default().Audio
	d := NewDetector(cfg)

	voiced := frameWithAmplitude(2000)
	pushFrames(t, d, voiced, 30)
	if d.State() != StateSpeaking {
		t.Fatalf("expected speaking state, got %s", d.State())
	}

	seg := d.Flush()
	if seg == nil || seg.Frames() == 0 {
		t.Fatal("expected flush to return the in-progress segment")
	}
	if d.State() != StateIdle {
		t.Fatalf("expected idle after flush, got %s", d.State())
	}
	if d.Flush() != nil {
		t.Fatal("second flush should return nil")
	}
}

func TestFrameRMS(t *testing.T) {
	if got := FrameRMS(frameWithAmplitude(0)); got != 0 {
		t.Fatalf("silent frame RMS = %v, want 0", got)
	}
	got := FrameRMS(frameWithAmplitude(1000))
	if got < 999 || got > 1001 {
		t.Fatalf("constant frame RMS = %v, want ~1000", got)
	}
}
