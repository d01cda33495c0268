// Package live manages upstream connections to the Gemini Live API: dialing,
// audio relay, transcription events, and interception of model function
// calls. The vendor SDK sits behind ModelClient so the connector logic stays
// testable.
package live

import (
	"context"
	"errors"
	"strings"

	"github.com/counselhub/voice-agent/pkg/gateway/tools"
)

var (
	// ErrCredential marks a close caused by API-key problems. Reconnecting
	// with the same key will not help.
	ErrCredential = errors.New("live: credential rejected")

	ErrNotConnected = errors.New("live: not connected")
)

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

type Transcript struct {
	Text  string
	Final bool
}

// ServerMessage is one upstream message flattened into the fields the
// connector cares about.
type ServerMessage struct {
	SetupComplete    bool
	Audio            []byte
	InputTranscript  *Transcript
	OutputTranscript *Transcript
	Interrupted      bool
	TurnComplete     bool
	FunctionCalls    []FunctionCall
}

type ConnectConfig struct {
	Model             string
	SystemInstruction string
	VoiceName         string
	Tools             []tools.Definition
	InSampleRateHz    int
}

type ModelConn interface {
	SendAudio(pcm []byte, mimeType string) error
	SendToolResponses(responses []FunctionResponse) error
	// Receive blocks for the next upstream message. It returns an error
	// once the connection is closed, from either side.
	Receive() (*ServerMessage, error)
	Close() error
}

type ModelClient interface {
	Connect(ctx context.Context, cfg ConnectConfig) (ModelConn, error)
}

var credentialMarkers = []string{"api key", "leaked", "invalid", "permission_denied"}

// IsCredentialError reports whether a close reason or error text points at
// key material rather than a transient fault.
func IsCredentialError(reason string) bool {
	lower := strings.ToLower(reason)
	for _, marker := range credentialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyCloseError wraps credential-shaped failures in ErrCredential so
// callers can errors.Is on them. Transient errors pass through unchanged.
func ClassifyCloseError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCredential) {
		return err
	}
	if IsCredentialError(err.Error()) {
		return errors.Join(ErrCredential, err)
	}
	return err
}
