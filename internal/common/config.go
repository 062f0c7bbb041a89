package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Jobs        JobsConfig      `toml:"jobs"`
	Research    ResearchConfig  `toml:"research"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Reports     ReportsConfig   `toml:"reports"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	Host           string   `toml:"host"`
	AllowedOrigins []string `toml:"allowed_origins"` // CORS origins; empty or "*" allows all
}

// Storage backends
const (
	StorageTypeMemory   = "memory"
	StorageTypeBadger   = "badger"
	StorageTypePostgres = "postgres"
)

type StorageConfig struct {
	Type     string         `toml:"type"` // "memory", "badger" or "postgres"
	Badger   BadgerConfig   `toml:"badger"`
	Postgres PostgresConfig `toml:"postgres"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PostgresConfig represents the pgx connection settings
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max_conns"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	Dir        string   `toml:"dir"`         // Directory for file output
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// JobsConfig controls retention of in-memory job records
type JobsConfig struct {
	RetentionMaxAge  string `toml:"retention_max_age"` // Evict terminal jobs older than this ("" disables)
	MaxEntries       int    `toml:"max_entries"`       // Upper bound on tracked jobs (0 = unbounded)
	EvictionSchedule string `toml:"eviction_schedule"` // Cron expression for the eviction sweep
}

// ResearchConfig controls the research pipeline
type ResearchConfig struct {
	Provider        string `toml:"provider"`          // "claude", "gemini" or "offline"
	StartDelay      string `toml:"start_delay"`       // Grace period before a job starts, lets observers attach
	FetchTimeout    string `toml:"fetch_timeout"`     // HTTP timeout for the website stage
	MaxSiteBytes    int    `toml:"max_site_bytes"`    // Maximum website body size read
	MaxParallelism  int    `toml:"max_parallelism"`   // Concurrent research topics
	UserAgent       string `toml:"user_agent"`        // User agent for website fetches
	MaxContextChars int    `toml:"max_context_chars"` // Website markdown passed to the model
}

// WebSocketConfig contains configuration for status streaming
type WebSocketConfig struct {
	SendTimeout      string `toml:"send_timeout"`      // Bound on a single subscriber write
	ProgressInterval string `toml:"progress_interval"` // Minimum gap between progress events per job ("" disables throttling)
	ReadBufferSize   int    `toml:"read_buffer_size"`
	WriteBufferSize  int    `toml:"write_buffer_size"`
}

// ReportsConfig controls generated report artifacts
type ReportsConfig struct {
	Dir string `toml:"dir"` // Output directory for generated PDFs
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// NewDefaultConfig returns a configuration with production-safe defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           8000,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:5174"},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Badger: BadgerConfig{
				Path: "./data/dossier",
			},
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			Dir:        "./logs",
			TimeFormat: "15:04:05",
		},
		Jobs: JobsConfig{
			RetentionMaxAge:  "24h",
			MaxEntries:       10000,
			EvictionSchedule: "@every 10m",
		},
		Research: ResearchConfig{
			Provider:        "offline",
			StartDelay:      "1s",
			FetchTimeout:    "20s",
			MaxSiteBytes:    2 * 1024 * 1024,
			MaxParallelism:  4,
			UserAgent:       "dossier/1.0 (+https://github.com/ternarybob/dossier)",
			MaxContextChars: 12000,
		},
		WebSocket: WebSocketConfig{
			SendTimeout:      "5s",
			ProgressInterval: "500ms",
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		Reports: ReportsConfig{
			Dir: "reports",
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.3,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			Temperature: 0.3,
		},
	}
}

// LoadFromFiles loads configuration with priority defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier ones. Missing files are an error.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies DOSSIER_* environment variables on top of file configuration
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DOSSIER_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("DOSSIER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DOSSIER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if origins := os.Getenv("DOSSIER_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitString(origins, ",")
	}

	if storageType := os.Getenv("DOSSIER_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if badgerPath := os.Getenv("DOSSIER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if dsn := os.Getenv("DOSSIER_POSTGRES_DSN"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	} else if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	}

	if level := os.Getenv("DOSSIER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DOSSIER_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitString(output, ",")
	}

	if provider := os.Getenv("DOSSIER_RESEARCH_PROVIDER"); provider != "" {
		config.Research.Provider = provider
	}
	if delay := os.Getenv("DOSSIER_RESEARCH_START_DELAY"); delay != "" {
		config.Research.StartDelay = delay
	}

	if dir := os.Getenv("DOSSIER_REPORTS_DIR"); dir != "" {
		config.Reports.Dir = dir
	}

	// API keys: project-specific variable first, then the vendor convention
	if key := os.Getenv("DOSSIER_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}
	if key := os.Getenv("DOSSIER_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = key
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageTypeMemory, StorageTypeBadger, StorageTypePostgres:
	default:
		return fmt.Errorf("invalid storage type %q (expected memory, badger or postgres)", c.Storage.Type)
	}

	if c.Storage.Type == StorageTypePostgres && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required when storage type is postgres")
	}

	switch c.Research.Provider {
	case "claude", "gemini", "offline":
	default:
		return fmt.Errorf("invalid research provider %q (expected claude, gemini or offline)", c.Research.Provider)
	}

	for name, value := range map[string]string{
		"jobs.retention_max_age":      c.Jobs.RetentionMaxAge,
		"research.start_delay":        c.Research.StartDelay,
		"research.fetch_timeout":      c.Research.FetchTimeout,
		"websocket.send_timeout":      c.WebSocket.SendTimeout,
		"websocket.progress_interval": c.WebSocket.ProgressInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if c.Jobs.EvictionSchedule != "" {
		if err := ValidateSchedule(c.Jobs.EvictionSchedule); err != nil {
			return fmt.Errorf("invalid jobs.eviction_schedule: %w", err)
		}
	}

	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}

// ValidateSchedule validates a cron expression, including descriptors such as "@every 5m"
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// ParseDurationOr parses a duration string, returning def when empty or invalid
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func splitString(s, sep string) []string {
	var parts []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
