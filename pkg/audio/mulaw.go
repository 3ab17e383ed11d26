// Package audio converts between the narrowband mu-law encoding used by the
// telephony media stream and the linear PCM formats the conversational engine
// consumes and produces. All functions are pure and safe for concurrent use.
package audio

import "fmt"

const (
	muLawBias = 0x84  // 132, G.711 encoder bias
	muLawClip = 32635 // max magnitude before bias is added
)

// DecodeMuLaw expands 8-bit mu-law bytes into 16-bit linear PCM samples.
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = decodeMuLawSample(b)
	}
	return out
}

// EncodeMuLaw compresses 16-bit linear PCM samples into 8-bit mu-law bytes.
// The output length always equals the input sample count.
func EncodeMuLaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeMuLawSample(s)
	}
	return out
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	magnitude := (int32(mantissa)<<3 + muLawBias) << exponent
	magnitude -= muLawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

func encodeMuLawSample(s int16) byte {
	var sign byte
	x := int32(s)
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > muLawClip {
		x = muLawClip
	}
	x += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && x&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((x >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// PCMToBytes serializes samples as 16-bit signed little-endian PCM.
func PCMToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToPCM parses 16-bit signed little-endian PCM bytes into samples.
// It fails when the byte count is odd, which indicates a truncated frame.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm byte count %d is not sample-aligned", len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out, nil
}
