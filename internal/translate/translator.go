package translate

import "context"

// Translator abstracts the translation engine. Context carries the prior
// sentences of the same speech, oldest first, for pronoun and name
// continuity. Unsupported target languages fail with lang.ErrUnsupported;
// any other failure is an upstream fault scoped to this one call.
type Translator interface {
	Translate(ctx context.Context, sentence, targetLanguage string, priorContext []string) (string, error)
}
