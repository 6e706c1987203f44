package tts

import (
	"context"
	"strings"

	"github.com/glossalabs/glossa-core/internal/lang"
	"github.com/glossalabs/glossa-core/internal/protocol"
)

// Rough speaking pace used to size mock audio and space mock visemes.
const mockMSPerWord = 350

type mockSynth struct {
	sampleRate int
}

func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) Synthesize(_ context.Context, text, language string) (Result, error) {
	if _, err := lang.Lookup(language); err != nil {
		return Result{}, err
	}

	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	durationMS := words * mockMSPerWord
	pcm := make([]byte, m.sampleRate/1000*durationMS*2)

	visemes := make([]protocol.Viseme, 0, words)
	for i := 0; i < words; i++ {
		visemes = append(visemes, protocol.Viseme{
			OffsetMS: int64(i * mockMSPerWord),
			ID:       i % 22,
		})
	}
	return Result{Audio: pcm, Visemes: visemes}, nil
}
