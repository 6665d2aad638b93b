package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the tabtalk daemon settings.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	ProfileDir    string
	StartURL      string

	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	CORSOrigins      []string

	// Round timing
	EvalTimeoutMS    int
	CollectTimeoutMS int
	PasteRecoveryMS  int
	WatchIntervalMS  int

	// Destination
	Provider          string
	DisabledProviders []string
	LogOnly           bool

	// Caches
	SubtitleCacheSize int
	NotionCacheTTLMin int
	NotionRPS         float64

	// Files
	DownloadDir   string
	PromptsFile   string
	InterceptFile string
	JournalDir    string
	NtfyURL       string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:    getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:       getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser: getEnvBoolOrDefault("TABTALK_LAUNCH_BROWSER", false),
		ProfileDir:    getEnvOrDefault("TABTALK_PROFILE_DIR", "./browser_profile"),
		StartURL:      getEnvOrDefault("TABTALK_START_URL", "about:blank"),

		BindAddr:         getEnvOrDefault("TABTALK_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("TABTALK_PORT_CANDIDATES", nil),
		PortAutoFallback: getEnvBoolOrDefault("TABTALK_PORT_AUTO_FALLBACK", false),
		CORSOrigins:      getEnvListOrDefault("TABTALK_CORS_ORIGINS", nil),

		EvalTimeoutMS:    getEnvIntOrDefault("TABTALK_EVAL_TIMEOUT_MS", 15000),
		CollectTimeoutMS: getEnvIntOrDefault("TABTALK_COLLECT_TIMEOUT_MS", 10000),
		PasteRecoveryMS:  getEnvIntOrDefault("TABTALK_PASTE_RECOVERY_MS", 120000),
		WatchIntervalMS:  getEnvIntOrDefault("TABTALK_WATCH_INTERVAL_MS", 3000),

		Provider:          strings.ToLower(getEnvOrDefault("TABTALK_PROVIDER", "chatgpt")),
		DisabledProviders: getEnvListOrDefault("TABTALK_DISABLED_PROVIDERS", nil),
		LogOnly:           getEnvBoolOrDefault("TABTALK_LOG_ONLY", false),

		SubtitleCacheSize: getEnvIntOrDefault("TABTALK_SUBTITLE_CACHE_SIZE", 20),
		NotionCacheTTLMin: getEnvIntOrDefault("TABTALK_NOTION_CACHE_TTL_MIN", 30),
		NotionRPS:         getEnvFloatOrDefault("TABTALK_NOTION_RPS", 3),

		DownloadDir:   getEnvOrDefault("TABTALK_DOWNLOAD_DIR", "./downloads"),
		PromptsFile:   getEnvOrDefault("TABTALK_PROMPTS_FILE", "./config/prompts.yaml"),
		InterceptFile: getEnvOrDefault("TABTALK_INTERCEPT_FILE", "./config/intercept.yaml"),
		JournalDir:    getEnvOrDefault("TABTALK_JOURNAL_DIR", "./journal"),
		NtfyURL:       getEnvOrDefault("TABTALK_NTFY_URL", ""),

		LogLevel: strings.ToLower(getEnvOrDefault("TABTALK_LOG_LEVEL", "info")),
		LogFile:  getEnvOrDefault("TABTALK_LOG_FILE", "logs/tabtalk.log"),
	}

	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.CollectTimeoutMS <= 0 {
		cfg.CollectTimeoutMS = 10000
	}
	if cfg.PasteRecoveryMS < 0 {
		cfg.PasteRecoveryMS = 0
	}
	if cfg.WatchIntervalMS < 500 {
		cfg.WatchIntervalMS = 500
	}
	if cfg.SubtitleCacheSize < 1 {
		return nil, fmt.Errorf("config: TABTALK_SUBTITLE_CACHE_SIZE must be at least 1, got %d", cfg.SubtitleCacheSize)
	}
	if cfg.CDPPort <= 0 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by both CDP clients.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) CollectTimeout() time.Duration {
	return time.Duration(c.CollectTimeoutMS) * time.Millisecond
}

// PasteRecovery is zero when recovery is disabled.
func (c *Config) PasteRecovery() time.Duration {
	return time.Duration(c.PasteRecoveryMS) * time.Millisecond
}

func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMS) * time.Millisecond
}

func (c *Config) NotionCacheTTL() time.Duration {
	return time.Duration(c.NotionCacheTTLMin) * time.Minute
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
