package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WAVInfo summarizes the fmt and data chunks of a RIFF/WAVE file.
type WAVInfo struct {
	SampleRate  int
	NumChannels int
	DataBytes   int
}

// ProbeWAVFile reads the header of a WAV file and reports its layout.
// Used to verify that the normalizer produced a usable, non-empty
// artifact before handing it to the transcriber.
func ProbeWAVFile(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, err
	}
	defer f.Close()
	return ProbeWAV(f)
}

// ProbeWAV reads a WAV stream header. It walks chunks until both the
// fmt and data chunks have been seen.
func ProbeWAV(r io.Reader) (WAVInfo, error) {
	br := bufio.NewReader(r)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("audio: short WAV header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, fmt.Errorf("audio: not a RIFF/WAVE stream")
	}

	var info WAVInfo
	haveFmt, haveData := false, false
	for !haveFmt || !haveData {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("audio: truncated WAV chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(br, body); err != nil {
				return WAVInfo{}, fmt.Errorf("audio: truncated fmt chunk: %w", err)
			}
			if size < 16 {
				return WAVInfo{}, fmt.Errorf("audio: fmt chunk too small")
			}
			info.NumChannels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			info.DataBytes = int(size)
			haveData = true
			// No need to read the samples themselves.
		default:
			if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil {
				return WAVInfo{}, fmt.Errorf("audio: skipping %q chunk: %w", id, err)
			}
		}
	}
	return info, nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate, numChannels int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRate, numChannels)
}

// WriteWAVPCM16LETo writes raw PCM16LE audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate, numChannels int) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if numChannels <= 0 {
		numChannels = 1
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
