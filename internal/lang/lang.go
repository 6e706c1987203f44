package lang

import "fmt"

// Voice describes the display and synthesis identity bound to a target
// language. The supported set is closed; adding a language means adding a
// voice here.
type Voice struct {
	Code        string
	DisplayName string
	VoiceID     string
}

var supported = map[string]Voice{
	"ar": {Code: "ar", DisplayName: "Arabic", VoiceID: "ar-XA-Wavenet-B"},
	"fr": {Code: "fr", DisplayName: "French", VoiceID: "fr-FR-Wavenet-C"},
	"de": {Code: "de", DisplayName: "German", VoiceID: "de-DE-Wavenet-B"},
	"es": {Code: "es", DisplayName: "Spanish", VoiceID: "es-ES-Wavenet-B"},
	"bn": {Code: "bn", DisplayName: "Bengali", VoiceID: "bn-IN-Wavenet-A"},
	"zh": {Code: "zh", DisplayName: "Chinese", VoiceID: "cmn-CN-Wavenet-A"},
}

// Default is used when a listener joins without naming a language.
const Default = "es"

// ErrUnsupported reports a language code outside the supported set.
type ErrUnsupported struct {
	Code string
}

func (e ErrUnsupported) Error() string {
	return fmt.Sprintf("unsupported language %q", e.Code)
}

// Supported reports whether code is in the supported set.
func Supported(code string) bool {
	_, ok := supported[code]
	return ok
}

// Lookup returns the voice identity for code.
func Lookup(code string) (Voice, error) {
	v, ok := supported[code]
	if !ok {
		return Voice{}, ErrUnsupported{Code: code}
	}
	return v, nil
}

// Codes returns the supported language codes.
func Codes() []string {
	codes := make([]string, 0, len(supported))
	for code := range supported {
		codes = append(codes, code)
	}
	return codes
}
