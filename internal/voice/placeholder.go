package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	placeholderSampleRate = 22050
	minPlaceholder        = time.Second
	maxPlaceholder        = 30 * time.Second
)

// Placeholder writes silent WAV files sized to the text they stand in for.
// File names end in "_placeholder.wav" so they are recognizable on disk.
type Placeholder struct{}

// Synthesize writes req.OutPath + "_placeholder.wav".
func (Placeholder) Synthesize(_ context.Context, req Request) (string, error) {
	d := EstimateDuration(req.Text)
	d = min(max(d, minPlaceholder), maxPlaceholder)

	out := req.OutPath + "_placeholder.wav"
	if _, err := writeAtomically(out, bytes.NewReader(silentWAV(d, placeholderSampleRate))); err != nil {
		return "", fmt.Errorf("write placeholder audio: %w", err)
	}
	return out, nil
}

// silentWAV returns a mono 16-bit PCM WAV of d silence.
func silentWAV(d time.Duration, sampleRate int) []byte {
	samples := int(d.Seconds() * float64(sampleRate))
	dataSize := uint32(samples * 2)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))           // chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
