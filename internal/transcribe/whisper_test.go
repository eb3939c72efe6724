package transcribe

import (
	"strings"
	"testing"
	"time"
)

func TestArgsIncludeArtifactLast(t *testing.T) {
	w := &WhisperCLI{
		Path:      "/usr/bin/whisper-cli",
		ModelPath: "/models/ggml-base.bin",
		Language:  "en",
		Threads:   4,
		Timeout:   time.Minute,
	}
	args := w.args("/tmp/vc_1_u1.wav")
	joined := strings.Join(args, " ")
	if joined != "-m /models/ggml-base.bin -l en -t 4 -nt -f /tmp/vc_1_u1.wav" {
		t.Fatalf("args = %q", joined)
	}
}

func TestArgsOmitUnsetFlags(t *testing.T) {
	w := &WhisperCLI{Path: "/usr/bin/whisper-cli", Timeout: time.Minute}
	args := w.args("a.wav")
	joined := strings.Join(args, " ")
	if joined != "-nt -f a.wav" {
		t.Fatalf("args = %q", joined)
	}
}

func TestNewWhisperCLIThreadDefaults(t *testing.T) {
	// sh is present everywhere the tests run; the lookup only needs an
	// executable on PATH.
	w, err := NewWhisperCLI(Config{Path: "sh"})
	if err != nil {
		t.Fatalf("NewWhisperCLI() error = %v", err)
	}
	if w.Threads < 2 || w.Threads > 8 {
		t.Fatalf("Threads = %d, want auto-picked in [2,8]", w.Threads)
	}
	if w.Timeout != 60*time.Second {
		t.Fatalf("Timeout = %v, want 60s default", w.Timeout)
	}
}

func TestNewWhisperCLIMissingBinary(t *testing.T) {
	if _, err := NewWhisperCLI(Config{Path: "definitely-not-a-real-binary-name"}); err == nil {
		t.Fatalf("NewWhisperCLI should fail for a missing binary")
	}
}
