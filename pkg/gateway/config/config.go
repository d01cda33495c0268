package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Gemini Live upstream.
	GeminiAPIKey string
	LiveModel    string
	VoiceName    string

	// Default RAG backend used when a client connects without a browser-supplied
	// base URL. Takes precedence over RagContext.BaseURL from the widget.
	RagBaseURL string
	RagAPIKey  string

	// Session lifecycle.
	SessionTTL   time.Duration
	SweepEvery   time.Duration
	MemoryLimit  int
	ToolCacheTTL time.Duration

	// Audio shape. Input is what clients send us, output is what the model
	// streams back.
	AudioInSampleRateHz  int
	AudioOutSampleRateHz int

	// WebSocket limits.
	WSMaxMessageBytes int64
	WSWriteTimeout    time.Duration

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Tool HTTP client.
	ToolRequestTimeout time.Duration
	ToolRetryAttempts  int
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("VOICE_AGENT_ADDR", ":3001"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		LiveModel:            envOr("VOICE_AGENT_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		VoiceName:            envOr("VOICE_AGENT_VOICE", "Puck"),
		RagBaseURL:           strings.TrimSpace(os.Getenv("RAG_BASE_URL")),
		RagAPIKey:            strings.TrimSpace(os.Getenv("RAG_API_KEY")),
		SessionTTL:           envDurationOr("VOICE_AGENT_SESSION_TTL", 30*time.Minute),
		SweepEvery:           envDurationOr("VOICE_AGENT_SESSION_SWEEP_INTERVAL", 5*time.Minute),
		MemoryLimit:          envIntOr("VOICE_AGENT_MEMORY_LIMIT", 50),
		ToolCacheTTL:         envDurationOr("VOICE_AGENT_TOOL_CACHE_TTL", 15*time.Second),
		AudioInSampleRateHz:  envIntOr("VOICE_AGENT_AUDIO_IN_RATE", 16000),
		AudioOutSampleRateHz: envIntOr("VOICE_AGENT_AUDIO_OUT_RATE", 24000),
		WSMaxMessageBytes:    envInt64Or("VOICE_AGENT_WS_MAX_MESSAGE_BYTES", 1<<20), // 1 MiB
		WSWriteTimeout:       envDurationOr("VOICE_AGENT_WS_WRITE_TIMEOUT", 5*time.Second),
		CORSAllowedOrigins:   make(map[string]struct{}),
		ReadHeaderTimeout:    envDurationOr("VOICE_AGENT_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("VOICE_AGENT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		ToolRequestTimeout:   envDurationOr("VOICE_AGENT_TOOL_REQUEST_TIMEOUT", 30*time.Second),
		ToolRetryAttempts:    envIntOr("VOICE_AGENT_TOOL_RETRY_ATTEMPTS", 3),
	}

	for _, origin := range splitCSV(os.Getenv("VOICE_AGENT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("VOICE_AGENT_LIVE_MODEL must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_SESSION_TTL must be > 0")
	}
	if cfg.SweepEvery <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_SESSION_SWEEP_INTERVAL must be > 0")
	}
	if cfg.MemoryLimit <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_MEMORY_LIMIT must be > 0")
	}
	if cfg.ToolCacheTTL <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_TOOL_CACHE_TTL must be > 0")
	}
	if cfg.AudioInSampleRateHz <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_AUDIO_IN_RATE must be > 0")
	}
	if cfg.AudioOutSampleRateHz <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_AUDIO_OUT_RATE must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.ToolRequestTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_TOOL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ToolRetryAttempts <= 0 {
		return Config{}, fmt.Errorf("VOICE_AGENT_TOOL_RETRY_ATTEMPTS must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
