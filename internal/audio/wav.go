package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// IsWAV sniffs a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WAVE"))
}

// EncodeWAV wraps float32 samples as a mono 16-bit PCM WAV blob.
// Used by the kiosk capture path so buffered chunks are self-describing.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		v := int16(math.Round(float64(clamp(s)) * 32767))
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(v))
	}
	return encodePCMWAV(pcm, 1, sampleRate, 16)
}

// encodePCMWAV wraps raw little-endian PCM bytes in a RIFF/WAVE container.
func encodePCMWAV(pcm []byte, channels, sampleRate, bits int) []byte {
	blockAlign := channels * bits / 8
	w := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+len(pcm)))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(channels))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate*blockAlign)) // byte rate
	binary.Write(w, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w, binary.LittleEndian, uint16(bits))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(len(pcm)))
	w.Write(pcm)
	return w.Bytes()
}

// wavInfo is the format and payload of a parsed RIFF/WAVE container.
type wavInfo struct {
	channels   int
	sampleRate int
	bits       int
	data       []byte
}

// parseWAV walks the RIFF chunk list and extracts the format and data chunk.
func parseWAV(b []byte) (wavInfo, bool) {
	if !IsWAV(b) {
		return wavInfo{}, false
	}
	var info wavInfo
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			return wavInfo{}, false
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return wavInfo{}, false
			}
			info.channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			info.sampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			info.bits = int(binary.LittleEndian.Uint16(b[body+14:]))
		case "data":
			info.data = b[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			// RIFF chunks are word aligned.
			off++
		}
	}
	if info.sampleRate == 0 || info.data == nil {
		return wavInfo{}, false
	}
	return info, true
}

// MergeChunks joins buffered session chunks into one audio blob. Kiosk
// capture emits each segment as a self-contained WAV file; naive
// concatenation would leave every segment after the first outside the leading
// container's declared data size, silently truncating the session. Chunks
// that all parse as same-format WAV are merged into a single container;
// anything else is concatenated as-is for the converter to sort out.
func MergeChunks(chunks [][]byte) []byte {
	switch len(chunks) {
	case 0:
		return nil
	case 1:
		return chunks[0]
	}

	first, ok := parseWAV(chunks[0])
	if !ok {
		return bytes.Join(chunks, nil)
	}

	payloads := make([][]byte, 0, len(chunks))
	payloads = append(payloads, first.data)
	total := len(first.data)
	for _, c := range chunks[1:] {
		info, ok := parseWAV(c)
		if !ok || info.channels != first.channels ||
			info.sampleRate != first.sampleRate || info.bits != first.bits {
			return bytes.Join(chunks, nil)
		}
		payloads = append(payloads, info.data)
		total += len(info.data)
	}

	pcm := make([]byte, 0, total)
	for _, p := range payloads {
		pcm = append(pcm, p...)
	}
	return encodePCMWAV(pcm, first.channels, first.sampleRate, first.bits)
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
