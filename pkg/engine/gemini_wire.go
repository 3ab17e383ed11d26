package engine

import (
	"encoding/json"
	"fmt"

	"github.com/carelink-ai/voicebridge/pkg/tools"
)

// Wire shapes for the bidirectional generation protocol. Field names follow
// the upstream service exactly; do not rename.

type geminiSetupFrame struct {
	Setup geminiSetup `json:"setup"`
}

type geminiSetup struct {
	Model             string                 `json:"model"`
	GenerationConfig  geminiGenerationConfig `json:"generation_config"`
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string            `json:"response_modalities"`
	SpeechConfig       *geminiSpeechConfig `json:"speech_config,omitempty"`
}

type geminiSpeechConfig struct {
	VoiceConfig geminiVoiceConfig `json:"voice_config"`
}

type geminiVoiceConfig struct {
	PrebuiltVoiceConfig geminiPrebuiltVoice `json:"prebuilt_voice_config"`
}

type geminiPrebuiltVoice struct {
	VoiceName string `json:"voice_name"`
}

type geminiContent struct {
	Parts []geminiTextPart `json:"parts"`
}

type geminiTextPart struct {
	Text string `json:"text"`
}

type geminiTool struct {
	FunctionDeclarations []tools.Definition `json:"function_declarations"`
}

type geminiRealtimeFrame struct {
	RealtimeInput geminiRealtimeInput `json:"realtime_input"`
}

type geminiRealtimeInput struct {
	MediaChunks []geminiMediaChunk `json:"media_chunks"`
}

type geminiMediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiToolResponseFrame struct {
	ToolResponse geminiToolResponse `json:"tool_response"`
}

type geminiToolResponse struct {
	FunctionResponses []geminiFunctionResponse `json:"function_responses"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	ID       string         `json:"id"`
	Response map[string]any `json:"response"`
}

type geminiServerMessage struct {
	ServerContent *geminiServerContent `json:"serverContent,omitempty"`
	ToolCall      *geminiToolCall      `json:"toolCall,omitempty"`
}

type geminiServerContent struct {
	ModelTurn          *geminiModelTurn     `json:"modelTurn,omitempty"`
	InputTranscription *geminiTranscription `json:"inputTranscription,omitempty"`
	Interrupted        bool                 `json:"interrupted,omitempty"`
	TurnComplete       bool                 `json:"turnComplete,omitempty"`
}

type geminiModelTurn struct {
	Parts []geminiServerPart `json:"parts,omitempty"`
}

type geminiServerPart struct {
	Text       string            `json:"text,omitempty"`
	Thought    bool              `json:"thought,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiTranscription struct {
	Text string `json:"text,omitempty"`
}

type geminiToolCall struct {
	FunctionCalls []geminiFunctionCall `json:"functionCalls,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	ID   string         `json:"id"`
	Args map[string]any `json:"args,omitempty"`
}

func decodeGeminiServerMessage(data []byte) (*geminiServerMessage, error) {
	var msg geminiServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	return &msg, nil
}

func newToolResponseFrame(results []tools.Result) geminiToolResponseFrame {
	frame := geminiToolResponseFrame{}
	frame.ToolResponse.FunctionResponses = make([]geminiFunctionResponse, len(results))
	for i, res := range results {
		frame.ToolResponse.FunctionResponses[i] = geminiFunctionResponse{
			Name:     res.Name,
			ID:       res.ID,
			Response: map[string]any{"content": res.Content},
		}
	}
	return frame
}
