package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string

	// DB
	Env         string // "dev" | "prod"
	DBDriver    string // "sqlite" | "postgres" | "memory"
	DBPath      string // e.g. "./data/zorder.db"
	DatabaseURL string // postgres DSN when DBDriver == "postgres"
	SeedDev     bool

	UploadDir  string
	ArchiveURL string // s3://bucket/prefix, gs://bucket/prefix, file:///dir

	WhatsApp    WhatsApp
	VerifyToken string

	// Shared with the agents. Empty disables signature checks.
	HMACSecret string

	EventRPS   int
	EventBurst int

	// Approval retention
	ApprovalRetentionDays int // 0 = keep forever
	PruneIntervalHours    int // how often the pruner runs (default 6)

	GRPCHealthAddr string // empty disables the gRPC health server
	RedisURL       string // empty keeps webhook dedup in memory

	LogLevel  string
	LogFormat string
}

type WhatsApp struct {
	Token       string
	PhoneID     string
	OwnerNumber string
	APIBase     string
}

// FromEnv reads the server configuration from the environment only.
func FromEnv() Config {
	return fromSource(source{})
}

// Load reads the server configuration from the environment, falling
// back to the YAML file at path for unset keys. An empty path is the
// same as FromEnv.
func Load(path string) (Config, error) {
	src, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	return fromSource(src), nil
}

func fromSource(src source) Config {
	addr := src.getDefault("ZORDER_HTTP_ADDR", ":8000")

	env := strings.ToLower(src.getDefault("ZORDER_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	driver := strings.ToLower(src.getDefault("DB_DRIVER", "sqlite"))
	switch driver {
	case "sqlite", "postgres", "memory":
	default:
		driver = "sqlite"
	}

	return Config{
		HTTPAddr: addr,

		Env:         env,
		DBDriver:    driver,
		DBPath:      src.getDefault("DB_PATH", "./data/zorder.db"),
		DatabaseURL: src.get("DATABASE_URL"),
		SeedDev:     src.getBool("ZORDER_SEED_DEV"),

		UploadDir:  src.getDefault("UPLOAD_DIR", "uploads"),
		ArchiveURL: src.get("RECORDING_ARCHIVE_URL"),

		WhatsApp: WhatsApp{
			Token:       src.get("WHATSAPP_TOKEN"),
			PhoneID:     src.get("WHATSAPP_PHONE_ID"),
			OwnerNumber: src.get("OWNER_WA_NUMBER"),
			APIBase:     src.getDefault("WHATSAPP_API_BASE", "https://graph.facebook.com/v21.0"),
		},
		VerifyToken: src.getDefault("VERIFY_TOKEN", "replace_me"),
		HMACSecret:  src.get("HMAC_SECRET"),

		EventRPS:   src.getInt("ZORDER_EVENT_RPS", 5),
		EventBurst: src.getInt("ZORDER_EVENT_BURST", 10),

		ApprovalRetentionDays: src.getInt("ZORDER_APPROVAL_RETENTION_DAYS", 0),
		PruneIntervalHours:    src.getInt("ZORDER_PRUNE_INTERVAL_HOURS", 6),

		GRPCHealthAddr: src.get("ZORDER_GRPC_HEALTH_ADDR"),
		RedisURL:       src.get("REDIS_URL"),

		LogLevel:  src.getDefault("ZORDER_LOG_LEVEL", "info"),
		LogFormat: src.getDefault("ZORDER_LOG_FORMAT", "text"),
	}
}

// source resolves a key from the environment first, then the optional
// config file.
type source struct {
	file map[string]string
}

func readFile(path string) (source, error) {
	if strings.TrimSpace(path) == "" {
		return source{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return source{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	file := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		file[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return source{file: file}, nil
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) getDefault(key, def string) string {
	v := s.get(key)
	if v == "" {
		return def
	}
	return v
}

func (s source) getInt(key string, def int) int {
	v := s.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s source) getBool(key string) bool {
	v := s.get(key)
	return strings.EqualFold(v, "true") || v == "1"
}
