package audio

import "math"

// Resample converts PCM samples from rateIn to rateOut using linear
// interpolation. Equal rates return the input untouched. There is no low-pass
// filtering before decimation, so downsampling introduces some aliasing --
// fine for intelligibility-grade voice, not for fidelity-grade audio.
func Resample(in []int16, rateIn, rateOut int) []int16 {
	if rateIn == rateOut {
		return in
	}

	ratio := float64(rateIn) / float64(rateOut)
	outLen := int(math.Round(float64(len(in)) / ratio))
	out := make([]int16, outLen)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		var s1 int16
		if idx >= 0 && idx < len(in) {
			s1 = in[idx]
		}
		s2 := s1
		if idx+1 >= 0 && idx+1 < len(in) {
			s2 = in[idx+1]
		}

		out[i] = s1 + int16((float64(s2)-float64(s1))*frac)
	}
	return out
}
