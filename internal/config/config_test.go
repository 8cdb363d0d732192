package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.ListWindow != 20 {
		t.Fatalf("expected list window 20, got %d", cfg.ListWindow)
	}
	if cfg.PaginationTTL <= cfg.ConfirmTTL {
		t.Fatalf("pagination TTL (%s) should outlive confirm TTL (%s)", cfg.PaginationTTL, cfg.ConfirmTTL)
	}
	if cfg.RateLimit.Limits[RouteChat] != 30 {
		t.Fatalf("unexpected chat ceiling: %d", cfg.RateLimit.Limits[RouteChat])
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("PLANNER_TIMEOUT", "1500")
	t.Setenv("CONFIRM_TTL", "90s")
	t.Setenv("RATE_LIMIT_SCENE", "3")
	t.Setenv("LLM_PROVIDER", "OLLAMA")
	t.Setenv("MAX_MESSAGES", "not-a-number")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.PlannerTimeout != 1500*time.Millisecond {
		t.Fatalf("planner timeout: %s", cfg.PlannerTimeout)
	}
	if cfg.ConfirmTTL != 90*time.Second {
		t.Fatalf("confirm ttl: %s", cfg.ConfirmTTL)
	}
	if cfg.RateLimit.Limits[RouteScene] != 3 {
		t.Fatalf("scene ceiling: %d", cfg.RateLimit.Limits[RouteScene])
	}
	if cfg.LLM.Provider != "ollama" {
		t.Fatalf("provider: %q", cfg.LLM.Provider)
	}
	if cfg.Limits.MaxMessages != 40 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.Limits.MaxMessages)
	}
}

func TestConfigFromEnv_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	doc := `
list_window: 5
heartbeat_interval: 2s
rate_limit:
  window: 10s
  limits:
    chat: 7
llm:
  provider: openrouter
  model: some/model
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("CHAT_GATEWAY_CONFIG", path)
	t.Setenv("LLM_MODEL_NAME", "env/model")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.ListWindow != 5 || cfg.HeartbeatInterval != 2*time.Second {
		t.Fatalf("yaml values not applied: window=%d heartbeat=%s", cfg.ListWindow, cfg.HeartbeatInterval)
	}
	if cfg.RateLimit.Window != 10*time.Second || cfg.RateLimit.Limits[RouteChat] != 7 {
		t.Fatalf("yaml rate limit not applied: %+v", cfg.RateLimit)
	}
	if cfg.LLM.Provider != "openrouter" || cfg.LLM.Model != "env/model" {
		t.Fatalf("env should win over yaml: %+v", cfg.LLM)
	}
}

func TestValidate_RejectsZeroThreshold(t *testing.T) {
	cfg := Default()
	cfg.LLMBreaker.Threshold = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero breaker threshold")
	}
}
