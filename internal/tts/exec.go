package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/glossalabs/glossa-core/internal/lang"
	"github.com/glossalabs/glossa-core/internal/protocol"
)

type execSynth struct {
	cmd        []string
	sampleRate int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
}

type execResponse struct {
	AudioBase64 string `json:"audio_base64"`
	Visemes     []struct {
		OffsetMS int64 `json:"offset_ms"`
		ID       int   `json:"viseme_id"`
	} `json:"visemes"`
}

// NewExecSynth shells out to an external synthesis command that reads a
// JSON request on stdin and prints a JSON reply on stdout.
func NewExecSynth(command string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command is empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, text, language string) (Result, error) {
	voice, err := lang.Lookup(language)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{
		Text:       text,
		Voice:      voice.VoiceID,
		Language:   language,
		SampleRate: e.sampleRate,
	})
	if err != nil {
		return Result{}, err
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode tts response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return Result{}, fmt.Errorf("decode tts audio: %w", err)
	}

	visemes := make([]protocol.Viseme, 0, len(resp.Visemes))
	for _, v := range resp.Visemes {
		visemes = append(visemes, protocol.Viseme{OffsetMS: v.OffsetMS, ID: v.ID})
	}
	return Result{Audio: audio, Visemes: visemes}, nil
}
