package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/glossalabs/glossa-core/internal/lang"
)

type httpTranslator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTranslator targets a translation service exposing POST
// /v1/translate with a JSON body and JSON reply.
func NewHTTPTranslator(endpoint string) Translator {
	return &httpTranslator{endpoint: endpoint, client: http.DefaultClient}
}

type httpRequest struct {
	Text    string   `json:"text"`
	Target  string   `json:"target"`
	Context []string `json:"context,omitempty"`
}

type httpResponse struct {
	Text string `json:"text"`
}

func (t *httpTranslator) Translate(ctx context.Context, sentence, targetLanguage string, priorContext []string) (string, error) {
	if !lang.Supported(targetLanguage) {
		return "", lang.ErrUnsupported{Code: targetLanguage}
	}

	payload := httpRequest{Text: sentence, Target: targetLanguage, Context: priorContext}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/v1/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("translate service returned status %s", resp.Status)
	}

	var decoded httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	return decoded.Text, nil
}
