package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "runtask.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "RUNTASK_PORT")
	setInt64(&cfg.Server.MaxBodyBytes, "RUNTASK_MAX_BODY_BYTES")
	setDuration(&cfg.Server.ShutdownTimeout, "RUNTASK_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.WebhookRate, "RUNTASK_WEBHOOK_RATE")
	setInt(&cfg.Server.WebhookBurst, "RUNTASK_WEBHOOK_BURST")

	// HCP Terraform
	setString(&cfg.HCP.HostName, "HCP_TF_HOST_NAME")
	setString(&cfg.HCP.HMACSecretID, "HCP_TF_HMAC_SECRET_ARN")
	setBool(&cfg.HCP.UseEdgeSecret, "HCP_TF_USE_WAF")
	setString(&cfg.HCP.EdgeSecretID, "HCP_TF_CF_SECRET_ARN")
	setDuration(&cfg.HCP.CallbackTimeout, "HCP_TF_CALLBACK_TIMEOUT")
	setInt64(&cfg.HCP.BundleMaxBytes, "HCP_TF_BUNDLE_MAX_BYTES")
	setBool(&cfg.HCP.CloudWatchLinks, "HCP_TF_CLOUDWATCH_LINKS")

	// Event bus
	setString(&cfg.EventBus.Driver, "EVENT_BUS_DRIVER")
	setString(&cfg.EventBus.Name, "EVENT_BUS_NAME")
	setString(&cfg.EventBus.DetailType, "EVENT_RULE_DETAIL_TYPE")
	setInt(&cfg.EventBus.Concurrency, "EVENT_BUS_CONCURRENCY")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.LedgerBucket, "NATS_LEDGER_BUCKET")
	setDuration(&cfg.NATS.LedgerTTL, "NATS_LEDGER_TTL")

	// Verification
	setString(&cfg.Verify.Organization, "HCP_TF_ORG")
	setString(&cfg.Verify.WorkspacePrefix, "WORKSPACE_PREFIX")
	setList(&cfg.Verify.Stages, "RUNTASK_STAGES")

	// Analysis
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.ModelID, "BEDROCK_LLM_MODEL")
	setString(&cfg.LLM.GuardrailID, "BEDROCK_GUARDRAIL_ID")
	setString(&cfg.LLM.GuardrailVersion, "BEDROCK_GUARDRAIL_VERSION")
	setInt(&cfg.LLM.MaxToolRounds, "ANALYZER_MAX_TOOL_ROUNDS")
	setDuration(&cfg.LLM.Timeout, "ANALYZER_TIMEOUT")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")

	// Secrets
	setString(&cfg.Secrets.Driver, "SECRETS_DRIVER")
	setDuration(&cfg.Secrets.CacheTTL, "SECRETS_CACHE_TTL")

	// Run log
	setString(&cfg.RunLog.Driver, "RUNLOG_DRIVER")
	setString(&cfg.RunLog.LogGroupName, "CW_LOG_GROUP_NAME")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RUNTASK_PG_MAX_CONNS")

	setString(&cfg.GitHub.TokenSecretID, "GITHUB_TOKEN_SECRET_ARN")
	setString(&cfg.GitHub.APIURL, "GITHUB_API_URL")
	setString(&cfg.AWS.Region, "AWS_REGION")
	setString(&cfg.Events.APIKey, "EVENTS_API_KEY")

	// Logging
	setString(&cfg.Logging.Level, "log_level")
	setString(&cfg.Logging.Level, "RUNTASK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RUNTASK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RUNTASK_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "RUNTASK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "RUNTASK_BREAKER_TIMEOUT")

	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	setFloat64(&cfg.Telemetry.SampleRate, "RUNTASK_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and that driver choices are known.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.HCP.HostName == "" {
		return errors.New("hcp.host_name is required")
	}
	if cfg.HCP.HMACSecretID == "" {
		return errors.New("hcp.hmac_secret_id is required")
	}
	if cfg.HCP.UseEdgeSecret && cfg.HCP.EdgeSecretID == "" {
		return errors.New("hcp.edge_secret_id is required when hcp.use_edge_secret is set")
	}
	if cfg.EventBus.DetailType == "" {
		return errors.New("event_bus.detail_type is required")
	}
	if cfg.EventBus.Concurrency < 1 {
		return errors.New("event_bus.concurrency must be >= 1")
	}
	if err := oneOf("event_bus.driver", cfg.EventBus.Driver, "nats", "eventbridge"); err != nil {
		return err
	}
	if cfg.EventBus.Driver == "nats" && cfg.NATS.URL == "" {
		return errors.New("nats.url is required for the nats event bus")
	}
	if err := oneOf("llm.provider", cfg.LLM.Provider, "bedrock", "litellm"); err != nil {
		return err
	}
	if cfg.LLM.ModelID == "" {
		return errors.New("llm.model_id is required")
	}
	if cfg.LLM.MaxToolRounds < 1 {
		return errors.New("llm.max_tool_rounds must be >= 1")
	}
	if (cfg.LLM.GuardrailID == "") != (cfg.LLM.GuardrailVersion == "") {
		return errors.New("llm.guardrail_id and llm.guardrail_version must be set together")
	}
	if err := oneOf("secrets.driver", cfg.Secrets.Driver, "env", "secretsmanager"); err != nil {
		return err
	}
	if err := oneOf("runlog.driver", cfg.RunLog.Driver, "none", "cloudwatch", "postgres"); err != nil {
		return err
	}
	if cfg.RunLog.Driver == "cloudwatch" && cfg.RunLog.LogGroupName == "" {
		return errors.New("runlog.log_group_name is required for the cloudwatch run log")
	}
	if cfg.RunLog.Driver == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres run log")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value)
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
