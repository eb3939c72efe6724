// Package transcribe runs the external speech-to-text engine against
// finished audio artifacts.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// WhisperCLI invokes a whisper.cpp style CLI with an artifact path.
// Only stdout is treated as transcript content; stderr carries progress
// noise and is discarded without being parsed. A non-zero exit status
// yields no transcript.
type WhisperCLI struct {
	Path      string
	ModelPath string
	Language  string
	Threads   int
	Timeout   time.Duration
}

// Config mirrors the configuration surface for the transcription engine.
type Config struct {
	Path      string
	ModelPath string
	Language  string
	Threads   int
	Timeout   time.Duration
}

func NewWhisperCLI(cfg Config) (*WhisperCLI, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "whisper-cli"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: whisper CLI not found (%s)", path)
	}

	threads := cfg.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
		if threads > 8 {
			threads = 8
		}
		if threads < 2 {
			threads = 2
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &WhisperCLI{
		Path:      resolved,
		ModelPath: strings.TrimSpace(cfg.ModelPath),
		Language:  strings.TrimSpace(cfg.Language),
		Threads:   threads,
		Timeout:   timeout,
	}, nil
}

// Transcribe runs the CLI against the artifact and returns trimmed
// stdout. An empty result means no speech was detected.
func (w *WhisperCLI) Transcribe(ctx context.Context, artifactPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.Path, w.args(artifactPath)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("transcribe: whisper timed out after %s", w.Timeout)
		}
		return "", fmt.Errorf("transcribe: whisper failed: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

func (w *WhisperCLI) args(artifactPath string) []string {
	var args []string
	if w.ModelPath != "" {
		args = append(args, "-m", w.ModelPath)
	}
	if w.Language != "" {
		args = append(args, "-l", w.Language)
	}
	if w.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.Threads))
	}
	// -nt strips timestamps so stdout is plain transcript text.
	args = append(args, "-nt", "-f", artifactPath)
	return args
}
