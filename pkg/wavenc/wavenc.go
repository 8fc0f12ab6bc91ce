// Package wavenc writes 16-bit mono PCM into a canonical RIFF/WAVE container.
package wavenc

import (
	"encoding/binary"
)

const (
	HeaderSize    = 44
	BitsPerSample = 16
	Channels      = 1
)

// Encode returns a 44-byte header followed by pcm as little-endian int16.
// The output depends only on its arguments.
func Encode(pcm []int16, sampleRate int) []byte {
	const blockAlign = Channels * BitsPerSample / 8
	dataSize := uint32(len(pcm) * 2)
	byteRate := uint32(sampleRate) * blockAlign

	out := make([]byte, HeaderSize+int(dataSize))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], 36+dataSize)
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // integer PCM
	le.PutUint16(out[22:24], Channels)
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], byteRate)
	le.PutUint16(out[32:34], blockAlign)
	le.PutUint16(out[34:36], BitsPerSample)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], dataSize)

	data := out[HeaderSize:]
	for i, s := range pcm {
		le.PutUint16(data[i*2:], uint16(s))
	}

	return out
}

// DataSize returns the data chunk size recorded in the header, or 0 if wav
// is shorter than a header.
func DataSize(wav []byte) uint32 {
	if len(wav) < HeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint32(wav[40:44])
}

// SampleRate returns the sample rate recorded in the header.
func SampleRate(wav []byte) int {
	if len(wav) < HeaderSize {
		return 0
	}
	return int(binary.LittleEndian.Uint32(wav[24:28]))
}
