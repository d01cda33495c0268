package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Connection status values reported to clients via status frames.
const (
	StatusConnecting   = "CONNECTING"
	StatusConnected    = "CONNECTED"
	StatusDisconnected = "DISCONNECTED"
	StatusError        = "ERROR"
)

type DecodeError struct {
	Code    string
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

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

type ClientConnect struct {
	Type string `json:"type"`
}

// AudioPayload is the inbound audio body, nested under the frame's data key.
type AudioPayload struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

type ClientAudio struct {
	Type string       `json:"type"`
	Data AudioPayload `json:"data"`
}

// PCM returns the decoded audio payload. DecodeClientMessage already
// validated the base64, so this only fails on frames built by hand.
func (a ClientAudio) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data.Data)
}

type ClientDisconnect struct {
	Type string `json:"type"`
}

type ClientPing struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "connect":
		var msg ClientConnect
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid connect frame", "")
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.Data.Data) == "" {
			return nil, badRequest("audio.data.data is required", "data")
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data.Data); err != nil {
			return nil, badRequest("audio.data.data must be base64", "data")
		}
		if !strings.Contains(msg.Data.MIMEType, "audio") {
			return nil, badRequest("audio.data.mimeType must be an audio type", "mimeType")
		}
		return msg, nil
	case "disconnect":
		var msg ClientDisconnect
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid disconnect frame", "")
		}
		return msg, nil
	case "ping":
		var msg ClientPing
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ping frame", "")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type StatusData struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ServerStatus struct {
	Type string     `json:"type"`
	Data StatusData `json:"data"`
}

// AudioData carries a base64 PCM chunk, or signals an interruption when
// Interrupt is set (Audio is empty in that case and the client must flush
// everything it has queued).
type AudioData struct {
	Audio     string `json:"audio,omitempty"`
	MIMEType  string `json:"mimeType,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
}

type ServerAudio struct {
	Type string    `json:"type"`
	Data AudioData `json:"data"`
}

type TranscriptionData struct {
	Text    string `json:"text"`
	IsUser  bool   `json:"isUser"`
	IsFinal bool   `json:"isFinal"`
}

type ServerTranscription struct {
	Type string            `json:"type"`
	Data TranscriptionData `json:"data"`
}

type FunctionCallData struct {
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
	CallID string         `json:"callId,omitempty"`
}

type ServerFunctionCall struct {
	Type string           `json:"type"`
	Data FunctionCallData `json:"data"`
}

type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

type ServerErrorFrame struct {
	Type string    `json:"type"`
	Data ErrorData `json:"data"`
}

type ServerPong struct {
	Type string `json:"type"`
}

func NewStatus(status, message string) ServerStatus {
	return ServerStatus{Type: "status", Data: StatusData{Status: status, Message: message}}
}

func NewAudioChunk(pcm []byte, mimeType string) ServerAudio {
	return ServerAudio{Type: "audio", Data: AudioData{Audio: base64.StdEncoding.EncodeToString(pcm), MIMEType: mimeType}}
}

func NewInterrupt() ServerAudio {
	return ServerAudio{Type: "audio", Data: AudioData{Interrupt: true}}
}

func NewTranscription(text string, isUser, isFinal bool) ServerTranscription {
	return ServerTranscription{Type: "transcription", Data: TranscriptionData{Text: text, IsUser: isUser, IsFinal: isFinal}}
}

func NewFunctionCall(name string, args map[string]any, callID string) ServerFunctionCall {
	if args == nil {
		args = map[string]any{}
	}
	return ServerFunctionCall{Type: "function_call", Data: FunctionCallData{Name: name, Args: args, CallID: callID}}
}

func NewError(code, message, param string) ServerErrorFrame {
	return ServerErrorFrame{Type: "error", Data: ErrorData{Code: code, Message: message, Param: param}}
}

func NewPong() ServerPong {
	return ServerPong{Type: "pong"}
}
