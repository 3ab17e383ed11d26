package audio

import (
	"encoding/base64"
	"fmt"
)

// Sample rates used across the two legs.
const (
	TelephonyRate = 8000  // mu-law media stream
	EngineInRate  = 16000 // PCM the engine accepts
	EngineOutRate = 24000 // PCM the engine produces
)

// TelephonyToEngine converts a base64 mu-law payload from the telephony leg
// into a base64 16-bit PCM payload at the engine's input rate.
func TelephonyToEngine(payloadB64 string) (string, error) {
	muLaw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("decode telephony payload: %w", err)
	}

	pcm8k := DecodeMuLaw(muLaw)
	pcm16k := Resample(pcm8k, TelephonyRate, EngineInRate)
	return base64.StdEncoding.EncodeToString(PCMToBytes(pcm16k)), nil
}

// EngineToTelephony converts a base64 16-bit PCM payload at the engine's
// native output rate into a base64 mu-law payload for the telephony leg.
func EngineToTelephony(payloadB64 string, engineRate int) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return "", fmt.Errorf("decode engine payload: %w", err)
	}

	pcm, err := BytesToPCM(raw)
	if err != nil {
		return "", fmt.Errorf("parse engine pcm: %w", err)
	}

	pcm8k := Resample(pcm, engineRate, TelephonyRate)
	return base64.StdEncoding.EncodeToString(EncodeMuLaw(pcm8k)), nil
}
