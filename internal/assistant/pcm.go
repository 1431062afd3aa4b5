package assistant

import (
	"encoding/binary"
	"math"
	"time"
)

// Audio format shared by the capture side, the remote session and playback.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	FrameSamples     = 4096
)

// InputMimeType labels outbound audio chunks.
const InputMimeType = "audio/pcm;rate=16000"

// EncodePCM16 converts float samples to signed 16-bit little-endian PCM.
// Samples are clamped to [-1, 1]; negative values scale by 0x8000 and
// positive values by 0x7FFF.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		var n int16
		if v < 0 {
			n = int16(v * 0x8000)
		} else {
			n = int16(v * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(n))
	}
	return out
}

// DecodePCM16 converts signed 16-bit little-endian PCM to float samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		n := int16(binary.LittleEndian.Uint16(data[2*i:]))
		out[i] = float32(n) / 32768
	}
	return out
}

// PCMDuration returns the playing time of 16-bit mono PCM at rate.
func PCMDuration(data []byte, rate int) float64 {
	return float64(len(data)/2) / float64(rate)
}

// DecodeFloat32 reads little-endian float32 samples as sent by the
// browser capture worklet.
func DecodeFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}

// EncodeFloat32 is the inverse of DecodeFloat32.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}

// Framer slices a sample stream into FrameSamples-sized frames.
type Framer struct {
	size int
	buf  []float32
}

// NewFramer returns a framer producing frames of size samples.
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = FrameSamples
	}
	return &Framer{size: size, buf: make([]float32, 0, size)}
}

// Push adds samples and returns every frame completed by them. The
// remainder is kept for the next call.
func (f *Framer) Push(samples []float32) [][]float32 {
	var frames [][]float32
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			frames = append(frames, f.buf)
			f.buf = make([]float32, 0, f.size)
		}
	}
	return frames
}

// Buffered returns the number of samples waiting for a full frame.
func (f *Framer) Buffered() int { return len(f.buf) }

func seconds(d float64) time.Duration {
	return time.Duration(d * float64(time.Second))
}
