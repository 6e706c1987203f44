package tts

import (
	"context"

	"github.com/glossalabs/glossa-core/internal/protocol"
)

// Result is one synthesized utterance: encoded audio plus its mouth-shape
// timeline, offsets normalized to milliseconds.
type Result struct {
	Audio   []byte
	Visemes []protocol.Viseme
}

// Synthesizer abstracts the speech synthesis engine. Unsupported languages
// fail with lang.ErrUnsupported; other failures are upstream faults scoped
// to the single call.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (Result, error)
}
