package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/glossalabs/glossa-core/internal/lang"
)

type execTranslator struct {
	cmd []string
	mu  sync.Mutex
}

type execPayload struct {
	Text    string   `json:"text"`
	Target  string   `json:"target"`
	Context []string `json:"context,omitempty"`
}

type execReply struct {
	Text string `json:"text"`
}

// NewExecTranslator shells out to an external translation command that
// reads a JSON request on stdin and prints a JSON reply on stdout.
func NewExecTranslator(command string) (Translator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translate command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translate command is empty")
	}
	return &execTranslator{cmd: args}, nil
}

func (t *execTranslator) Translate(ctx context.Context, sentence, targetLanguage string, priorContext []string) (string, error) {
	if !lang.Supported(targetLanguage) {
		return "", lang.ErrUnsupported{Code: targetLanguage}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	payload, err := json.Marshal(execPayload{Text: sentence, Target: targetLanguage, Context: priorContext})
	if err != nil {
		return "", err
	}

	command := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("translate command failed: %w: %s", err, stderr.String())
	}

	var reply execReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		return "", fmt.Errorf("decode translate reply: %w", err)
	}
	return reply.Text, nil
}
