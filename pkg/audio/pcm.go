package audio

import "encoding/binary"

// BytesLE encodes samples as signed 16-bit little-endian PCM, the wire form
// expected by the streaming transcription providers.
func BytesLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// SamplesLE decodes signed 16-bit little-endian PCM bytes back into samples.
// A trailing odd byte is ignored.
func SamplesLE(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
