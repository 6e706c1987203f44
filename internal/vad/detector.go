package vad

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/glossalabs/glossa-core/internal/config"
	"github.com/glossalabs/glossa-core/internal/protocol"
)

// State enumerates the detector's segmentation states.
type State int

const (
	StateIdle State = iota
	StateArming
	StateSpeaking
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArming:
		return "arming"
	case StateSpeaking:
		return "speaking"
	case StateFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// A voiced frame maps to roughly this many frames per spoken word; the
// estimated-words counter is a pacing heuristic, not a transcription.
const framesPerWord = 8

// Segment is an ordered run of frames collected between speech onset and
// offset, prefixed with the pre-roll captured before onset was confirmed.
type Segment struct {
	PCM      []byte
	FrameRMS []float64
}

// Frames returns the number of whole frames in the segment.
func (s *Segment) Frames() int {
	return len(s.FrameRMS)
}

// Duration returns the segment length in milliseconds.
func (s *Segment) DurationMS() int64 {
	return int64(len(s.FrameRMS)) * protocol.FrameDurationMS
}

func (s *Segment) appendFrame(frame []byte, rms float64) {
	s.PCM = append(s.PCM, frame...)
	s.FrameRMS = append(s.FrameRMS, rms)
}

// counters groups every per-segment counter so a single reset cannot miss
// one of them.
type counters struct {
	voicedRun    int
	silenceRun   int
	voicedFrames int
}

func (c *counters) reset() { *c = counters{} }

// Detector converts a stream of fixed-size PCM frames into bounded speech
// segments. Not safe for concurrent use; one detector belongs to exactly
// one ingestion goroutine.
type Detector struct {
	cfg   config.AudioConfig
	state State
	ctr   counters

	preRoll    [][]byte
	preRollRMS []float64
	preRollCap int

	current *Segment

	endFrames     int
	silenceFrames int
	maxFrames     int
	splitGap      int
}

func NewDetector(cfg config.AudioConfig) *Detector {
	d := &Detector{
		cfg:           cfg,
		preRollCap:    cfg.PreRollMS / protocol.FrameDurationMS,
		endFrames:     cfg.EndFrames,
		silenceFrames: cfg.SilenceFinalizeMS / protocol.FrameDurationMS,
		maxFrames:     cfg.MaxSegmentMS / protocol.FrameDurationMS,
		splitGap:      cfg.WordSplitGapMS / protocol.FrameDurationMS,
	}
	if d.preRollCap < 0 {
		d.preRollCap = 0
	}
	return d
}

// State returns the current segmentation state.
func (d *Detector) State() State { return d.state }

// Push feeds one 20 ms frame into the state machine. It returns a finalized
// segment when speech offset, the hard duration cap, or the word-cap split
// fires, and nil otherwise.
func (d *Detector) Push(frame []byte) (*Segment, error) {
	if len(frame) != protocol.FrameBytes {
		return nil, fmt.Errorf("frame must be %d bytes, got %d", protocol.FrameBytes, len(frame))
	}
	rms := FrameRMS(frame)
	voiced := rms >= d.cfg.RMSThreshold

	switch d.state {
	case StateIdle, StateArming:
		d.pushPreRoll(frame, rms)
		if voiced {
			d.ctr.voicedRun++
			d.state = StateArming
			if d.ctr.voicedRun >= d.cfg.StartFrames {
				d.beginSegment()
			}
		} else {
			d.ctr.voicedRun = 0
			d.state = StateIdle
		}
		return nil, nil

	case StateSpeaking:
		d.current.appendFrame(frame, rms)
		if voiced {
			d.ctr.silenceRun = 0
			d.ctr.voicedFrames++
		} else {
			d.ctr.silenceRun++
		}
		if d.shouldFinalize() {
			return d.finalize(), nil
		}
		return nil, nil
	}
	return nil, nil
}

// Flush finalizes and returns any in-progress segment, for use when the
// presenter stream ends mid-speech. Returns nil when nothing is buffered.
func (d *Detector) Flush() *Segment {
	if d.state != StateSpeaking {
		d.reset()
		return nil
	}
	return d.finalize()
}

func (d *Detector) pushPreRoll(frame []byte, rms float64) {
	if d.preRollCap == 0 {
		return
	}
	if len(d.preRoll) == d.preRollCap {
		d.preRoll = d.preRoll[1:]
		d.preRollRMS = d.preRollRMS[1:]
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	d.preRoll = append(d.preRoll, buf)
	d.preRollRMS = append(d.preRollRMS, rms)
}

func (d *Detector) beginSegment() {
	seg := &Segment{}
	for i, frame := range d.preRoll {
		seg.appendFrame(frame, d.preRollRMS[i])
	}
	d.preRoll = nil
	d.preRollRMS = nil
	d.current = seg
	voiced := d.ctr.voicedRun
	d.ctr.reset()
	d.ctr.voicedFrames = voiced
	d.state = StateSpeaking
}

func (d *Detector) shouldFinalize() bool {
	if d.ctr.silenceRun >= d.endFrames && d.ctr.silenceRun >= d.silenceFrames {
		return true
	}
	if d.current.Frames() >= d.maxFrames {
		return true
	}
	if d.cfg.MaxWords > 0 && d.estimatedWords() >= d.cfg.MaxWords && d.ctr.silenceRun >= d.splitGap {
		return true
	}
	return false
}

func (d *Detector) estimatedWords() int {
	return d.ctr.voicedFrames / framesPerWord
}

func (d *Detector) finalize() *Segment {
	d.state = StateFinalizing
	seg := d.current
	d.reset()
	return seg
}

func (d *Detector) reset() {
	d.current = nil
	d.ctr.reset()
	d.preRoll = nil
	d.preRollRMS = nil
	d.state = StateIdle
}

// FrameRMS measures frame loudness as root-mean-square amplitude over
// little-endian 16-bit samples.
func FrameRMS(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	n := len(frame) / 2
	var sum float64
	for i := 0; i < n; i++ {
		sample := float64(int16(binary.LittleEndian.Uint16(frame[i*2:])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(n))
}
