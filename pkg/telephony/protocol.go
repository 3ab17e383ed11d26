// Package telephony defines the JSON message vocabulary exchanged with the
// telephony media stream over its WebSocket leg.
package telephony

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes an inbound frame the bridge could not parse. These are
// logged and skipped; a malformed frame never terminates the session.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// ConnectedMessage is emitted once when the media stream socket opens.
type ConnectedMessage struct{}

// StartMessage carries the identifiers that correlate both legs of a call.
type StartMessage struct {
	StreamSID string
	CallSID   string
}

// MediaFrame carries one base64 mu-law audio payload from the caller.
type MediaFrame struct {
	Payload string
}

// StopMessage signals the end of the media stream.
type StopMessage struct{}

// MarkMessage acknowledges playback of a previously sent media frame.
type MarkMessage struct {
	Name string
}

// UnknownMessage is returned for event kinds the bridge does not handle.
// Callers ignore it rather than failing the stream.
type UnknownMessage struct {
	Event string
}

type inboundEnvelope struct {
	Event string `json:"event"`
	Start *struct {
		StreamSID string `json:"streamSid"`
		CallSID   string `json:"callSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// DecodeStreamMessage parses one inbound telephony frame into its typed
// variant. Unknown event kinds decode to UnknownMessage.
func DecodeStreamMessage(data []byte) (any, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}

	event := strings.TrimSpace(envelope.Event)
	switch event {
	case "connected":
		return ConnectedMessage{}, nil
	case "start":
		if envelope.Start == nil {
			return nil, badFrame("start frame missing start block", "start")
		}
		if strings.TrimSpace(envelope.Start.StreamSID) == "" {
			return nil, badFrame("start.streamSid is required", "start.streamSid")
		}
		return StartMessage{
			StreamSID: envelope.Start.StreamSID,
			CallSID:   envelope.Start.CallSID,
		}, nil
	case "media":
		if envelope.Media == nil || envelope.Media.Payload == "" {
			return nil, badFrame("media frame missing payload", "media.payload")
		}
		return MediaFrame{Payload: envelope.Media.Payload}, nil
	case "stop":
		return StopMessage{}, nil
	case "mark":
		name := ""
		if envelope.Mark != nil {
			name = envelope.Mark.Name
		}
		return MarkMessage{Name: name}, nil
	case "":
		return nil, badFrame("missing event", "event")
	default:
		return UnknownMessage{Event: event}, nil
	}
}

// OutboundMedia is an audio frame sent back to the caller.
type OutboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

// NewOutboundMedia builds a media frame tagged with the session's stream
// identifier.
func NewOutboundMedia(streamSID, payloadB64 string) OutboundMedia {
	return OutboundMedia{
		Event:     "media",
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: payloadB64},
	}
}

// OutboundClear tells the telephony leg to discard any queued audio. Sent when
// the engine reports the caller has begun speaking over it.
type OutboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// NewOutboundClear builds a clear-buffer control frame.
func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: "clear", StreamSID: streamSID}
}
