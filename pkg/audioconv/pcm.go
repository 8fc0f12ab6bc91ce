package audioconv

import "math"

// Quantize converts normalized samples to signed 16-bit PCM. Samples are
// clamped to [-1, 1]; negatives scale by 32768 and the rest by 32767, so
// -1 maps to -32768 and 1 to 32767. The product is truncated toward zero.
func Quantize(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		s := float64(v)
		if math.IsNaN(s) {
			continue
		}
		s = clamp(s, -1.0, 1.0)
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

// Int16ToFloat32 is the inverse of Quantize up to rounding.
func Int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

// Downmix averages interleaved frames into a single channel.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
