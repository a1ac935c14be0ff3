package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.HCP.HostName != "app.terraform.io" {
		t.Errorf("expected host app.terraform.io, got %s", cfg.HCP.HostName)
	}
	if cfg.HCP.CallbackTimeout != 10*time.Second {
		t.Errorf("expected callback timeout 10s, got %v", cfg.HCP.CallbackTimeout)
	}
	if cfg.EventBus.Name != "default" {
		t.Errorf("expected bus name default, got %s", cfg.EventBus.Name)
	}
	if cfg.EventBus.DetailType != "tfplan-analyzer" {
		t.Errorf("expected detail type tfplan-analyzer, got %s", cfg.EventBus.DetailType)
	}
	if cfg.LLM.MaxToolRounds != 8 {
		t.Errorf("expected max tool rounds 8, got %d", cfg.LLM.MaxToolRounds)
	}
	if cfg.LLM.Timeout != 15*time.Minute {
		t.Errorf("expected analyzer timeout 15m, got %v", cfg.LLM.Timeout)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
verify:
  organization: "acme"
  workspace_prefix: "prod-"
  stages: ["post_plan"]
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Verify.Organization != "acme" || cfg.Verify.WorkspacePrefix != "prod-" {
		t.Errorf("unexpected verify section: %+v", cfg.Verify)
	}
	if len(cfg.Verify.Stages) != 1 || cfg.Verify.Stages[0] != "post_plan" {
		t.Errorf("expected stages [post_plan], got %v", cfg.Verify.Stages)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("RUNTASK_PORT", "7070")
	t.Setenv("HCP_TF_HOST_NAME", "tfe.example.com")
	t.Setenv("HCP_TF_USE_WAF", "true")
	t.Setenv("EVENT_BUS_NAME", "runtasks")
	t.Setenv("EVENT_RULE_DETAIL_TYPE", "tfplan-analyzer-eu")
	t.Setenv("HCP_TF_ORG", "acme")
	t.Setenv("WORKSPACE_PREFIX", "prod-")
	t.Setenv("RUNTASK_STAGES", "pre_plan, post_plan,,")
	t.Setenv("ANALYZER_MAX_TOOL_ROUNDS", "3")
	t.Setenv("ANALYZER_TIMEOUT", "2m")
	t.Setenv("RUNTASK_LOG_LEVEL", "warn")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.HCP.HostName != "tfe.example.com" {
		t.Errorf("expected host tfe.example.com, got %s", cfg.HCP.HostName)
	}
	if !cfg.HCP.UseEdgeSecret {
		t.Error("expected edge secret enabled")
	}
	if cfg.EventBus.Name != "runtasks" || cfg.EventBus.DetailType != "tfplan-analyzer-eu" {
		t.Errorf("unexpected event bus: %+v", cfg.EventBus)
	}
	if cfg.Verify.Organization != "acme" || cfg.Verify.WorkspacePrefix != "prod-" {
		t.Errorf("unexpected verify: %+v", cfg.Verify)
	}
	if strings.Join(cfg.Verify.Stages, "|") != "pre_plan|post_plan" {
		t.Errorf("expected stages pre_plan|post_plan, got %v", cfg.Verify.Stages)
	}
	if cfg.LLM.MaxToolRounds != 3 || cfg.LLM.Timeout != 2*time.Minute {
		t.Errorf("unexpected llm limits: %+v", cfg.LLM)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
}

func TestEnvInvalidNumbersIgnored(t *testing.T) {
	cfg := Defaults()
	t.Setenv("ANALYZER_MAX_TOOL_ROUNDS", "many")
	t.Setenv("ANALYZER_TIMEOUT", "soon")
	loadEnv(&cfg)

	if cfg.LLM.MaxToolRounds != 8 {
		t.Errorf("invalid int should keep default, got %d", cfg.LLM.MaxToolRounds)
	}
	if cfg.LLM.Timeout != 15*time.Minute {
		t.Errorf("invalid duration should keep default, got %v", cfg.LLM.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"empty host", func(c *Config) { c.HCP.HostName = "" }, "hcp.host_name"},
		{"edge secret without id", func(c *Config) { c.HCP.UseEdgeSecret = true; c.HCP.EdgeSecretID = "" }, "hcp.edge_secret_id"},
		{"unknown bus", func(c *Config) { c.EventBus.Driver = "kafka" }, "event_bus.driver"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }, "llm.provider"},
		{"zero tool rounds", func(c *Config) { c.LLM.MaxToolRounds = 0 }, "llm.max_tool_rounds"},
		{"half guardrail", func(c *Config) { c.LLM.GuardrailID = "gr-1" }, "guardrail"},
		{"cloudwatch without group", func(c *Config) { c.RunLog.Driver = "cloudwatch" }, "log_group_name"},
		{"unknown secrets driver", func(c *Config) { c.Secrets.Driver = "vault" }, "secrets.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFrom(t *testing.T) {
	t.Setenv("HCP_TF_ORG", "from-env")
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "runtask.yaml")
	if err := os.WriteFile(yamlPath, []byte("verify:\n  organization: from-yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Verify.Organization != "from-env" {
		t.Errorf("env should override yaml, got %s", cfg.Verify.Organization)
	}
}
