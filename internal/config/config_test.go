package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// env builds a lookup over a literal map, missing keys resolving empty.
func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.VectorMode != VectorAuto {
		t.Errorf("VectorMode = %q, want auto", cfg.VectorMode)
	}
	if cfg.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.OllamaModel != "nomic-embed-text" {
		t.Errorf("OllamaModel = %q", cfg.OllamaModel)
	}
	if cfg.FalkorAddr() != "localhost:6379" {
		t.Errorf("FalkorAddr = %q", cfg.FalkorAddr())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"KIOKU_USER_ID":       "phuc",
		"KIOKU_MEMORY_DIR":    "/srv/memories",
		"KIOKU_DATA_DIR":      "/srv/data",
		"KIOKU_VECTOR_MODE":   "server",
		"KIOKU_VECTOR_HOST":   "qdrant.local",
		"KIOKU_VECTOR_PORT":   "7000",
		"KIOKU_FALKORDB_HOST": "falkor.local",
		"KIOKU_FALKORDB_PORT": "6380",
		"KIOKU_LOG_LEVEL":     "debug",
		"KIOKU_HTTP_ADDR":     ":9090",
		"KIOKU_TIMEZONE":      "UTC",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.UserID != "phuc" || cfg.VectorMode != VectorServer || cfg.VectorPort != 7000 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.FalkorAddr() != "falkor.local:6380" {
		t.Errorf("FalkorAddr = %q", cfg.FalkorAddr())
	}
	if cfg.LogLevel.Slog() != slog.LevelDebug {
		t.Errorf("Slog = %v", cfg.LogLevel.Slog())
	}
}

func TestChromaAliases(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"KIOKU_CHROMA_MODE":        "embedded",
		"KIOKU_CHROMA_HOST":        "old.local",
		"KIOKU_CHROMA_PORT":        "8000",
		"KIOKU_CHROMA_PERSIST_DIR": "/srv/vectors",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.VectorMode != VectorEmbedded || cfg.VectorHost != "old.local" || cfg.VectorPort != 8000 {
		t.Errorf("aliases not applied: %+v", cfg)
	}
	if cfg.VectorDir() != "/srv/vectors" {
		t.Errorf("VectorDir = %q", cfg.VectorDir())
	}

	// Canonical spelling wins over the alias.
	cfg, err = FromEnv(env(map[string]string{
		"KIOKU_VECTOR_HOST": "new.local",
		"KIOKU_CHROMA_HOST": "old.local",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.VectorHost != "new.local" {
		t.Errorf("VectorHost = %q, want canonical spelling", cfg.VectorHost)
	}
}

func TestValidationJoinsErrors(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"KIOKU_VECTOR_MODE":   "sideways",
		"KIOKU_LOG_LEVEL":     "loud",
		"KIOKU_FALKORDB_PORT": "-1",
	}))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"vector mode", "log level", "falkordb port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestBadPortValue(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"KIOKU_VECTOR_PORT": "not-a-number"}))
	if err == nil {
		t.Fatal("non-numeric port accepted")
	}
}

func TestBadTimezone(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"KIOKU_TIMEZONE": "Mars/Olympus"}))
	if err == nil {
		t.Fatal("unknown timezone accepted")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		// A single validation failure is fine too; the join shape is not
		// part of the contract.
		t.Logf("single error: %v", err)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"KIOKU_DATA_DIR": "/srv/data"}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.KeywordDBPath() != "/srv/data/kioku_fts.db" {
		t.Errorf("KeywordDBPath = %q", cfg.KeywordDBPath())
	}
	if cfg.VectorDir() != "/srv/data/chroma" {
		t.Errorf("VectorDir = %q", cfg.VectorDir())
	}
}

func TestNamespacing(t *testing.T) {
	cfg, _ := FromEnv(env(nil))
	if cfg.CollectionName() != "memories" || cfg.GraphName() != "kioku_kg" {
		t.Errorf("single-user names = %q, %q", cfg.CollectionName(), cfg.GraphName())
	}
	cfg, _ = FromEnv(env(map[string]string{"KIOKU_USER_ID": "phuc"}))
	if cfg.CollectionName() != "memories_phuc" || cfg.GraphName() != "kioku_kg_phuc" {
		t.Errorf("namespaced = %q, %q", cfg.CollectionName(), cfg.GraphName())
	}
	cfg, _ = FromEnv(env(map[string]string{"KIOKU_USER_ID": "default"}))
	if cfg.CollectionName() != "memories" || cfg.GraphName() != "kioku_kg" {
		t.Errorf("default user names = %q, %q", cfg.CollectionName(), cfg.GraphName())
	}
}

func TestLocation(t *testing.T) {
	cfg, _ := FromEnv(env(nil))
	if cfg.Location().String() != "Asia/Ho_Chi_Minh" {
		t.Errorf("Location = %v", cfg.Location())
	}
}
