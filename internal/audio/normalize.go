// Package audio normalizes captured voice into the layout the
// transcription engine expects, via an external ffmpeg process.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Voice transport native format and the transcriber target format.
const (
	SourceSampleRate = 48000
	SourceChannels   = 2
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// FFmpeg converts raw PCM16LE 48kHz stereo read from a pipe into a
// 16kHz mono WAV artifact. Success means the process exited zero and
// the artifact exists with audio data in it.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

func NewFFmpeg(path string, timeout time.Duration) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFmpeg{Path: path, Timeout: timeout}
}

// Normalize streams pcm into ffmpeg's stdin and writes the artifact at
// outPath. It blocks until the process exits or the timeout elapses.
func (f *FFmpeg) Normalize(ctx context.Context, pcm io.Reader, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	args := []string{
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SourceSampleRate),
		"-ac", fmt.Sprintf("%d", SourceChannels),
		"-i", "pipe:0",
		"-ar", fmt.Sprintf("%d", TargetSampleRate),
		"-ac", fmt.Sprintf("%d", TargetChannels),
		"-y",
		outPath,
	}

	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdin = pcm
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("audio: ffmpeg timed out after %s", f.Timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		// ffmpeg banners are long; keep the tail, which holds the cause.
		if len(detail) > 2<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(2<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("audio: ffmpeg failed: %s", detail)
	}

	info, err := ProbeWAVFile(outPath)
	if err != nil {
		return fmt.Errorf("audio: artifact unreadable: %w", err)
	}
	if info.DataBytes == 0 {
		return fmt.Errorf("audio: artifact is empty")
	}
	return nil
}
