package live

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient is the production ModelClient, backed by the Gemini Live API.
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("live: create gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Connect(ctx context.Context, cfg ConnectConfig) (ModelConn, error) {
	lcc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		SystemInstruction:        genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.VoiceName != "" {
		lcc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, def := range cfg.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: def.Parameters,
			})
		}
		lcc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	sess, err := g.client.Live.Connect(ctx, cfg.Model, lcc)
	if err != nil {
		return nil, fmt.Errorf("live: connect %s: %w", cfg.Model, err)
	}
	return &geminiConn{sess: sess}, nil
}

type geminiConn struct {
	sess *genai.Session
}

func (c *geminiConn) SendAudio(pcm []byte, mimeType string) error {
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "audio/pcm;rate=16000"
	}
	return c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: pcm, MIMEType: mimeType},
	})
}

func (c *geminiConn) SendToolResponses(responses []FunctionResponse) error {
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		})
	}
	return c.sess.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
}

func (c *geminiConn) Receive() (*ServerMessage, error) {
	raw, err := c.sess.Receive()
	if err != nil {
		return nil, err
	}
	return translateServerMessage(raw), nil
}

func (c *geminiConn) Close() error {
	return c.sess.Close()
}

func translateServerMessage(raw *genai.LiveServerMessage) *ServerMessage {
	msg := &ServerMessage{}
	if raw == nil {
		return msg
	}

	if raw.SetupComplete != nil {
		msg.SetupComplete = true
	}
	if tc := raw.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			msg.FunctionCalls = append(msg.FunctionCalls, FunctionCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}
	if sc := raw.ServerContent; sc != nil {
		msg.Interrupted = sc.Interrupted
		msg.TurnComplete = sc.TurnComplete
		if t := sc.InputTranscription; t != nil {
			msg.InputTranscript = &Transcript{Text: t.Text, Final: t.Finished}
		}
		if t := sc.OutputTranscription; t != nil {
			msg.OutputTranscript = &Transcript{Text: t.Text, Final: t.Finished}
		}
		if turn := sc.ModelTurn; turn != nil {
			for _, part := range turn.Parts {
				if part == nil || part.InlineData == nil {
					continue
				}
				if strings.HasPrefix(part.InlineData.MIMEType, "audio") {
					msg.Audio = append(msg.Audio, part.InlineData.Data...)
				}
			}
		}
	}
	return msg
}
