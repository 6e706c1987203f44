package stt

import "context"

// Recognizer abstracts the transcription engine. Input is a complete WAV
// buffer (self-describing header). An empty string with a nil error means
// the engine heard no speech; that is not a failure.
type Recognizer interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}
