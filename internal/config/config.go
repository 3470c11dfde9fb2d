// Package config loads the KIOKU_-prefixed environment configuration and
// derives the file-system and backend names the rest of the system uses.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to its slog level. Unrecognised levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// VectorMode selects the ANN backend.
type VectorMode string

const (
	// VectorAuto probes server, then embedded, then ephemeral, and keeps
	// the first backend that answers.
	VectorAuto VectorMode = "auto"

	// VectorServer uses a remote Qdrant instance.
	VectorServer VectorMode = "server"

	// VectorEmbedded uses the on-disk SQLite vector store.
	VectorEmbedded VectorMode = "embedded"

	// VectorEphemeral keeps vectors in process memory only.
	VectorEphemeral VectorMode = "ephemeral"
)

// IsValid reports whether m is a recognised vector mode.
func (m VectorMode) IsValid() bool {
	switch m {
	case VectorAuto, VectorServer, VectorEmbedded, VectorEphemeral:
		return true
	}
	return false
}

// Config is the resolved runtime configuration. Build one with [Load].
type Config struct {
	// UserID namespaces the vector collection and graph name so several
	// people can share one backend. Empty means single-user defaults.
	UserID string

	// MemoryDir is the root of the markdown log.
	MemoryDir string

	// DataDir holds the derived databases.
	DataDir string

	// VectorMode selects the ANN backend, VectorAuto by default.
	VectorMode VectorMode

	// VectorHost and VectorPort locate the Qdrant server for the server
	// and auto modes.
	VectorHost string
	VectorPort int

	// VectorPersistDir overrides the embedded store's directory. Empty
	// derives it from DataDir.
	VectorPersistDir string

	// FalkorHost and FalkorPort locate the FalkorDB server.
	FalkorHost string
	FalkorPort int

	// OllamaHost is the Ollama base URL for embeddings and local models.
	OllamaHost string

	// OllamaModel is the embedding model name.
	OllamaModel string

	// AnthropicAPIKey, when set, makes anthropic the extraction provider.
	AnthropicAPIKey string

	// ExtractProvider and ExtractModel select the extraction LLM when no
	// Anthropic key is present.
	ExtractProvider string
	ExtractModel    string

	// LogLevel controls slog verbosity.
	LogLevel LogLevel

	// HTTPAddr is the health and metrics listen address. Empty disables
	// the listener.
	HTTPAddr string

	// Timezone names the zone used to stamp new memories.
	Timezone string
}

// Defaults mirrors the out-of-the-box single-user setup.
func Defaults() Config {
	return Config{
		MemoryDir:       "./memories",
		DataDir:         "./data",
		VectorMode:      VectorAuto,
		VectorHost:      "localhost",
		VectorPort:      6334,
		FalkorHost:      "localhost",
		FalkorPort:      6379,
		OllamaHost:      "http://localhost:11434",
		OllamaModel:     "nomic-embed-text",
		ExtractProvider: "ollama",
		ExtractModel:    "qwen2.5:3b",
		LogLevel:        LogInfo,
		Timezone:        "Asia/Ho_Chi_Minh",
	}
}

// Load reads .env (when present), applies KIOKU_ environment variables over
// [Defaults], and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a config from the given lookup function, typically
// [os.Getenv]. Split out from [Load] for tests.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	setString(&cfg.UserID, getenv, "KIOKU_USER_ID")
	setString(&cfg.MemoryDir, getenv, "KIOKU_MEMORY_DIR")
	setString(&cfg.DataDir, getenv, "KIOKU_DATA_DIR")

	// The VECTOR_ names are canonical; the CHROMA_ spellings are accepted
	// for compatibility with older deployments.
	if v := firstOf(getenv, "KIOKU_VECTOR_MODE", "KIOKU_CHROMA_MODE"); v != "" {
		cfg.VectorMode = VectorMode(v)
	}
	setString(&cfg.VectorHost, getenv, "KIOKU_VECTOR_HOST", "KIOKU_CHROMA_HOST")
	setString(&cfg.VectorPersistDir, getenv, "KIOKU_VECTOR_PERSIST_DIR", "KIOKU_CHROMA_PERSIST_DIR")

	var errs []error
	if err := setInt(&cfg.VectorPort, getenv, "KIOKU_VECTOR_PORT", "KIOKU_CHROMA_PORT"); err != nil {
		errs = append(errs, err)
	}
	setString(&cfg.FalkorHost, getenv, "KIOKU_FALKORDB_HOST")
	if err := setInt(&cfg.FalkorPort, getenv, "KIOKU_FALKORDB_PORT"); err != nil {
		errs = append(errs, err)
	}

	setString(&cfg.OllamaHost, getenv, "KIOKU_OLLAMA_HOST")
	setString(&cfg.OllamaModel, getenv, "KIOKU_OLLAMA_MODEL")
	setString(&cfg.AnthropicAPIKey, getenv, "KIOKU_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	setString(&cfg.ExtractProvider, getenv, "KIOKU_EXTRACT_PROVIDER")
	setString(&cfg.ExtractModel, getenv, "KIOKU_EXTRACT_MODEL")

	if v := getenv("KIOKU_LOG_LEVEL"); v != "" {
		cfg.LogLevel = LogLevel(v)
	}
	setString(&cfg.HTTPAddr, getenv, "KIOKU_HTTP_ADDR")
	setString(&cfg.Timezone, getenv, "KIOKU_TIMEZONE")

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the coherence of the config, joining all failures found.
func (c *Config) Validate() error {
	var errs []error
	if c.MemoryDir == "" {
		errs = append(errs, errors.New("config: memory dir is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("config: data dir is required"))
	}
	if !c.VectorMode.IsValid() {
		errs = append(errs, fmt.Errorf("config: vector mode %q is invalid; valid values: auto, server, embedded, ephemeral", c.VectorMode))
	}
	if !c.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: log level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if c.VectorPort <= 0 || c.VectorPort > 65535 {
		errs = append(errs, fmt.Errorf("config: vector port %d is out of range", c.VectorPort))
	}
	if c.FalkorPort <= 0 || c.FalkorPort > 65535 {
		errs = append(errs, fmt.Errorf("config: falkordb port %d is out of range", c.FalkorPort))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("config: timezone %q: %w", c.Timezone, err))
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// KeywordDBPath is the SQLite FTS database file.
func (c *Config) KeywordDBPath() string {
	return filepath.Join(c.DataDir, "kioku_fts.db")
}

// VectorDir is the embedded vector store's directory.
func (c *Config) VectorDir() string {
	if c.VectorPersistDir != "" {
		return c.VectorPersistDir
	}
	return filepath.Join(c.DataDir, "chroma")
}

// VectorAddr is the Qdrant server host.
func (c *Config) VectorAddr() string {
	return c.VectorHost
}

// FalkorAddr is the FalkorDB host:port.
func (c *Config) FalkorAddr() string {
	return c.FalkorHost + ":" + strconv.Itoa(c.FalkorPort)
}

// CollectionName is the vector collection, namespaced per user.
func (c *Config) CollectionName() string {
	if c.singleUser() {
		return "memories"
	}
	return "memories_" + c.UserID
}

// GraphName is the knowledge graph key, namespaced per user.
func (c *Config) GraphName() string {
	if c.singleUser() {
		return "kioku_kg"
	}
	return "kioku_kg_" + c.UserID
}

// singleUser reports whether the user ID leaves the backend names
// unsuffixed. The literal "default" means the same as unset.
func (c *Config) singleUser() bool {
	return c.UserID == "" || c.UserID == "default"
}

// setString assigns the first non-empty value among keys to dst.
func setString(dst *string, getenv func(string) string, keys ...string) {
	if v := firstOf(getenv, keys...); v != "" {
		*dst = v
	}
}

// setInt parses the first non-empty value among keys into dst.
func setInt(dst *int, getenv func(string) string, keys ...string) error {
	v := firstOf(getenv, keys...)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s %q is not a number", keys[0], v)
	}
	*dst = n
	return nil
}

func firstOf(getenv func(string) string, keys ...string) string {
	for _, k := range keys {
		if v := getenv(k); v != "" {
			return v
		}
	}
	return ""
}
