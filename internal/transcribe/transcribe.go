// Package transcribe defines the speech-to-text capability the pipeline
// consumes and a whisper.cpp CLI driver implementing it.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Word is one transcribed token with its time range in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcriber converts an audio file into word-level timestamps.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Word, error)
}

// WhisperCLI drives the whisper.cpp command-line binary. The binary writes a
// JSON sidecar next to the audio file; each run overwrites it, so stage
// re-execution is safe.
type WhisperCLI struct {
	Binary    string
	ModelPath string

	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewWhisperCLI returns a driver invoking binary with the model at modelPath.
func NewWhisperCLI(binary, modelPath string) *WhisperCLI {
	if binary == "" {
		binary = "whisper-cli"
	}
	return &WhisperCLI{Binary: binary, ModelPath: modelPath, run: runCommand}
}

type whisperOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe runs the binary with max-token-length 1 so every transcription
// entry is a single word, then parses the JSON sidecar.
func (t *WhisperCLI) Transcribe(ctx context.Context, audioPath string) ([]Word, error) {
	outBase := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".transcript"
	args := []string{
		"-m", t.ModelPath,
		"-f", audioPath,
		"-ml", "1",
		"-oj",
		"-of", outBase,
	}
	if _, err := t.run(ctx, t.Binary, args...); err != nil {
		return nil, fmt.Errorf("transcribe_failed: %w", err)
	}
	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("transcribe_failed: read output: %w", err)
	}
	return ParseWhisperJSON(data)
}

// ParseWhisperJSON converts whisper.cpp JSON output into words, dropping
// empty and non-lexical tokens.
func ParseWhisperJSON(data []byte) ([]Word, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("transcribe_failed: parse output: %w", err)
	}
	words := make([]Word, 0, len(out.Transcription))
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" || strings.HasPrefix(text, "[") {
			continue
		}
		words = append(words, Word{
			Word:  text,
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
		})
	}
	return words, nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	log.Debug().Str("cmd", name).Strs("args", args).Msg("running transcriber")
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stderr.String(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stderr.String(), nil
}
