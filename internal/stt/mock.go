package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, wavData []byte) (string, error) {
	if len(wavData) == 0 {
		return "", nil
	}
	return fmt.Sprintf("Mock transcript of %d bytes.", len(wavData)), nil
}
