package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, resolved from .env and the
// environment at startup.
type Config struct {
	Port         string
	Env          string
	LogLevel     string
	DatabaseDSN  string
	PipelinePath string
	Artifact     ArtifactConfig
	Providers    ProvidersConfig
	Router       RouterConfig
	Health       HealthConfig
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ProvidersConfig holds per-provider API keys and model overrides. An
// empty key leaves the provider registered as not_configured.
type ProvidersConfig struct {
	DeepSeekKey      string
	DeepSeekModel    string
	ClaudeKey        string
	ClaudeModel      string
	OpenAIKey        string
	OpenAIModel      string
	OpenAIImageModel string
	GeminiKey        string
	GeminiModel      string
	StabilityKey     string
	StabilityEngine  string
}

type RouterConfig struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
}

type HealthConfig struct {
	DegradedAfter int
	OfflineAfter  int
	FailureWindow time.Duration
	ProbeSpec     string
	SelfHeal      bool
}

// Load resolves configuration. A .env file is honored when present but
// never required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), ":8080")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	env := firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), "local")

	return &Config{
		Port:         port,
		Env:          env,
		LogLevel:     firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		DatabaseDSN:  firstNonEmpty(strings.TrimSpace(os.Getenv("DATABASE_DSN")), "gameforge.db"),
		PipelinePath: strings.TrimSpace(os.Getenv("PIPELINE_PATH")),
		Artifact:     loadArtifactConfig(env),
		Providers:    loadProvidersConfig(),
		Router: RouterConfig{
			AttemptTimeout: envDuration("ROUTER_ATTEMPT_TIMEOUT", 45*time.Second),
			MaxAttempts:    envInt("ROUTER_MAX_ATTEMPTS", 3),
		},
		Health: HealthConfig{
			DegradedAfter: envInt("HEALTH_DEGRADED_AFTER", 3),
			OfflineAfter:  envInt("HEALTH_OFFLINE_AFTER", 6),
			FailureWindow: envDuration("HEALTH_FAILURE_WINDOW", 2*time.Minute),
			ProbeSpec:     firstNonEmpty(strings.TrimSpace(os.Getenv("HEALTH_PROBE_SPEC")), "*/1 * * * *"),
			SelfHeal:      envBool("HEALTH_SELF_HEAL", false),
		},
	}, nil
}

func loadArtifactConfig(env string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(env)
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "gameforge-artifacts"),
		UseSSL:    resolveArtifactUseSSL(env),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	return envBool("ARTIFACT_S3_USE_SSL", true)
}

func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		DeepSeekKey:      strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY")),
		DeepSeekModel:    firstNonEmpty(strings.TrimSpace(os.Getenv("DEEPSEEK_MODEL")), "deepseek-chat"),
		ClaudeKey:        strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		ClaudeModel:      firstNonEmpty(strings.TrimSpace(os.Getenv("CLAUDE_MODEL")), "claude-sonnet-4-20250514"),
		OpenAIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:      firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), "gpt-4o"),
		OpenAIImageModel: firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_IMAGE_MODEL")), "dall-e-3"),
		GeminiKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:      firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "gemini-2.0-flash"),
		StabilityKey:     strings.TrimSpace(os.Getenv("STABILITY_API_KEY")),
		StabilityEngine:  firstNonEmpty(strings.TrimSpace(os.Getenv("STABILITY_ENGINE")), "stable-diffusion-xl-1024-v1-0"),
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
