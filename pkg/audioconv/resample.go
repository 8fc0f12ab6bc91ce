package audioconv

import "math"

// Resample converts in from inRate to outRate with a block-average
// decimator: output sample i is the mean of the input window
// [round(i*ratio), round((i+1)*ratio)) where ratio = inRate/outRate.
// Equal rates return in unchanged.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 {
		return in
	}
	if len(in) == 0 {
		return []float32{}
	}

	ratio := float64(inRate) / float64(outRate)
	outN := int(math.Round(float64(len(in)) / ratio))
	out := make([]float32, outN)

	offset := 0
	var last float32
	for i := 0; i < outN; i++ {
		next := int(math.Round(float64(i+1) * ratio))

		var (
			acc   float64
			count int
		)
		for j := offset; j < next && j < len(in); j++ {
			acc += float64(in[j])
			count++
		}

		// upsampling leaves some windows empty; hold the previous value
		if count > 0 {
			last = float32(acc / float64(count))
		}
		out[i] = last
		offset = next
	}

	return out
}

// resampleLinear interpolates between neighbouring samples. Used for
// upsampling decoded files, where block averaging has nothing to average.
func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}
	ratio := float64(outSR) / float64(inSR)
	outN := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, outN)
	for i := 0; i < outN; i++ {
		src := float64(i) / ratio
		i0 := int(math.Floor(src))
		i1 := i0 + 1
		if i0 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		if i1 >= len(in) {
			out[i] = in[i0]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i1]*a
	}
	return out
}

// ResampleAny picks the decimator when going down and linear interpolation
// when going up.
func ResampleAny(in []float32, inRate, outRate int) []float32 {
	if inRate < outRate {
		return resampleLinear(in, inRate, outRate)
	}
	return Resample(in, inRate, outRate)
}
