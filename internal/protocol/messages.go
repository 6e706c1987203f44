package protocol

import (
	"encoding/json"
	"time"
)

// Frame layout constants for presenter audio. All VAD logic operates in
// whole frames; partial frames are discarded at the edge.
const (
	SampleRate      = 16000
	Channels        = 1
	BitDepth        = 16
	FrameDurationMS = 20
	FrameBytes      = SampleRate / 1000 * FrameDurationMS * (BitDepth / 8) * Channels
)

// Viseme is a single mouth-shape event, offset in milliseconds from the
// start of the utterance's audio.
type Viseme struct {
	OffsetMS int64 `json:"offset_ms"`
	ID       int   `json:"viseme_id"`
}

// TextMessage carries the source and translated sentence for one utterance.
type TextMessage struct {
	Type           string `json:"type"`
	UtteranceID    int64  `json:"utterance_id"`
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	Language       string `json:"language"`
}

// AudioMessage carries synthesized speech for one utterance. Audio bytes
// encode as base64 on the wire via encoding/json.
type AudioMessage struct {
	Type        string `json:"type"`
	UtteranceID int64  `json:"utterance_id"`
	Audio       []byte `json:"audio"`
}

// VisemesMessage carries mouth-shape timing for one utterance.
type VisemesMessage struct {
	Type        string   `json:"type"`
	UtteranceID int64    `json:"utterance_id"`
	Visemes     []Viseme `json:"visemes"`
}

// PoseMessage relays opaque presenter pose/gesture payloads verbatim to
// every subscriber without passing through the utterance pipeline.
type PoseMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	TypeText    = "text"
	TypeAudio   = "audio"
	TypeVisemes = "visemes"
	TypePose    = "pose"
)

func NewTextMessage(utteranceID int64, source, translated, language string) TextMessage {
	return TextMessage{Type: TypeText, UtteranceID: utteranceID, SourceText: source, TranslatedText: translated, Language: language}
}

func NewAudioMessage(utteranceID int64, audio []byte) AudioMessage {
	return AudioMessage{Type: TypeAudio, UtteranceID: utteranceID, Audio: audio}
}

func NewVisemesMessage(utteranceID int64, visemes []Viseme) VisemesMessage {
	return VisemesMessage{Type: TypeVisemes, UtteranceID: utteranceID, Visemes: visemes}
}

// SegmentEvent announces a validated speech segment on the bus.
type SegmentEvent struct {
	Room       string    `json:"room"`
	DurationMS int64     `json:"duration_ms"`
	Bytes      int       `json:"bytes"`
	Timestamp  time.Time `json:"timestamp"`
}

// UtteranceEvent announces a finalized utterance on the bus.
type UtteranceEvent struct {
	Room        string    `json:"room"`
	UtteranceID int64     `json:"utterance_id"`
	Text        string    `json:"text"`
	Subscribers int       `json:"subscribers"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectSegmentPrefix  = "audio.segment"
	SubjectUtteranceFinal = "utterance.final"
)
