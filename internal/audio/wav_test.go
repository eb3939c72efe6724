package audio

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := make([]byte, 320) // 10ms of 16kHz mono PCM16
	path := filepath.Join(t.TempDir(), "probe.wav")
	if err := WriteWAVPCM16LEFile(path, pcm, 16000, 1); err != nil {
		t.Fatalf("WriteWAVPCM16LEFile() error = %v", err)
	}

	info, err := ProbeWAVFile(path)
	if err != nil {
		t.Fatalf("ProbeWAVFile() error = %v", err)
	}
	if info.SampleRate != 16000 || info.NumChannels != 1 {
		t.Fatalf("layout = %d/%d, want 16000/1", info.SampleRate, info.NumChannels)
	}
	if info.DataBytes != len(pcm) {
		t.Fatalf("DataBytes = %d, want %d", info.DataBytes, len(pcm))
	}
}

func TestProbeWAVRejectsGarbage(t *testing.T) {
	if _, err := ProbeWAV(bytes.NewReader([]byte("definitely not a wav file"))); err == nil {
		t.Fatalf("ProbeWAV should reject non-RIFF input")
	}
	if _, err := ProbeWAV(bytes.NewReader(nil)); err == nil {
		t.Fatalf("ProbeWAV should reject empty input")
	}
}

func TestProbeWAVEmptyData(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, nil, 16000, 1); err != nil {
		t.Fatalf("WriteWAVPCM16LETo() error = %v", err)
	}
	info, err := ProbeWAV(&buf)
	if err != nil {
		t.Fatalf("ProbeWAV() error = %v", err)
	}
	if info.DataBytes != 0 {
		t.Fatalf("DataBytes = %d, want 0", info.DataBytes)
	}
}

func TestProbeWAVTruncatedChunk(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, make([]byte, 64), 16000, 1); err != nil {
		t.Fatalf("WriteWAVPCM16LETo() error = %v", err)
	}
	cut := buf.Bytes()[:20]
	_, err := ProbeWAV(bytes.NewReader(cut))
	if err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Fatalf("ProbeWAV(truncated) error = %v, want truncation complaint", err)
	}
}
