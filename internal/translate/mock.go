package translate

import (
	"context"
	"fmt"

	"github.com/glossalabs/glossa-core/internal/lang"
)

type mockTranslator struct{}

func NewMockTranslator() Translator {
	return &mockTranslator{}
}

func (m *mockTranslator) Translate(_ context.Context, sentence, targetLanguage string, _ []string) (string, error) {
	if !lang.Supported(targetLanguage) {
		return "", lang.ErrUnsupported{Code: targetLanguage}
	}
	return fmt.Sprintf("[%s] %s", targetLanguage, sentence), nil
}
