package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

type AgentConfig struct {
	ServerURL string
	MachineID string

	RecordDir     string
	RecordSeconds int
	PollInterval  int // seconds
	ArmDuration   int // seconds

	HMACSecret string

	CredsPath   string // empty = vault default
	FFmpegPath  string
	TyperPath   string
	TriggerFIFO string // empty = read triggers from stdin

	LogLevel  string
	LogFormat string
}

func AgentFromEnv() AgentConfig {
	return agentFromSource(source{})
}

// LoadAgent is AgentFromEnv with an optional YAML fallback file.
func LoadAgent(path string) (AgentConfig, error) {
	src, err := readFile(path)
	if err != nil {
		return AgentConfig{}, err
	}
	return agentFromSource(src), nil
}

func agentFromSource(src source) AgentConfig {
	return AgentConfig{
		ServerURL: strings.TrimRight(src.getDefault("SERVER_URL", "http://127.0.0.1:8000"), "/"),
		MachineID: src.getDefault("MACHINE_ID", defaultMachineID()),

		RecordDir:     src.getDefault("RECORD_DIR", filepath.Join(os.TempDir(), "zorder-recordings")),
		RecordSeconds: positive(src.getInt("RECORD_SECONDS", 180), 180),
		PollInterval:  positive(src.getInt("POLL_INTERVAL", 5), 5),
		ArmDuration:   positive(src.getInt("ARM_DURATION", 600), 600),

		HMACSecret: src.get("HMAC_SECRET"),

		CredsPath:   src.get("ZORDER_CREDS_PATH"),
		FFmpegPath:  src.getDefault("FFMPEG_PATH", "ffmpeg"),
		TyperPath:   src.getDefault("ZORDER_TYPER", "xdotool"),
		TriggerFIFO: src.get("ZORDER_TRIGGER_FIFO"),

		LogLevel:  src.getDefault("ZORDER_LOG_LEVEL", "info"),
		LogFormat: src.getDefault("ZORDER_LOG_FORMAT", "text"),
	}
}

func (c AgentConfig) RecordDuration() time.Duration {
	return time.Duration(c.RecordSeconds) * time.Second
}

func (c AgentConfig) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c AgentConfig) ArmWindow() time.Duration {
	return time.Duration(c.ArmDuration) * time.Second
}

func defaultMachineID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "AGENT-" + host
}

// Zero intervals would spin the poll loop or disarm instantly.
func positive(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
