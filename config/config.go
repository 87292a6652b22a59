// Package config loads orchestrator configuration from the process
// environment into a plain struct, rather than exposing package-level
// globals: every component that needs a setting receives it as an explicit
// constructor parameter, the same discipline runtime/agent/runtime applies
// to its own RunPolicy/Options types.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is every environment-derived setting an orchestratord process
// needs to construct its Manager/Planner/Programmer/Reviewer graphs, the
// sandbox coordinator, and the model fallback chain.
type Config struct {
	// GitHub App identity used to mint installation tokens.
	AppID                int64
	AppPrivateKey        string
	AppName              string
	SecretsEncryptionKey string

	// Webhook/session token and cookie names.
	InstallationTokenCookie string
	UserLoginCookie         string
	UserIDCookie            string
	InstallationIDCookie    string
	APIBearerTokens         []string

	// LocalMode skips GitHub/sandbox I/O, running graphs against an
	// already-populated ThreadState for local development.
	LocalMode bool

	// Sandbox.
	SandboxSnapshotName string
	SandboxProviderAddr string

	// Model fallback chain: provider preference order shared by every task
	// class.
	ModelFallbackChain []string

	// Ambient operational settings.
	LogLevel          string
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
	RedisAddr         string
	MongoURI          string
}

// Load reads Config from the process environment. Required variables that
// are missing or malformed are reported together rather than one at a time,
// so a misconfigured deployment fails with a complete list on its first
// attempt.
func Load() (*Config, error) {
	var errs []string
	req := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			errs = append(errs, fmt.Sprintf("%s is required", name))
		}
		return v
	}

	cfg := &Config{
		AppName:                 req("APP_NAME"),
		AppPrivateKey:           req("APP_PRIVATE_KEY"),
		SecretsEncryptionKey:    req("SECRETS_ENCRYPTION_KEY"),
		SandboxSnapshotName:     req("SANDBOX_SNAPSHOT_NAME"),
		InstallationTokenCookie: envOr("INSTALLATION_TOKEN_COOKIE", "gh_installation_token"),
		UserLoginCookie:         envOr("USER_LOGIN_COOKIE", "gh_user_login"),
		UserIDCookie:            envOr("USER_ID_COOKIE", "gh_user_id"),
		InstallationIDCookie:    envOr("INSTALLATION_ID_COOKIE", "gh_installation_id"),
		LocalMode:               envBool("LOCAL_MODE", false),
		SandboxProviderAddr:     os.Getenv("SANDBOX_PROVIDER_ADDR"),
		LogLevel:                envOr("LOG_LEVEL", "info"),
		TemporalHostPort:        os.Getenv("TEMPORAL_HOST_PORT"),
		TemporalNamespace:       envOr("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue:       envOr("TEMPORAL_TASK_QUEUE", "orchestrator"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		MongoURI:                os.Getenv("MONGO_URI"),
	}

	appID := req("APP_ID")
	if appID != "" {
		id, err := strconv.ParseInt(appID, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("APP_ID must be an integer: %v", err))
		}
		cfg.AppID = id
	}

	if chain := os.Getenv("MODEL_FALLBACK_CHAIN"); chain != "" {
		cfg.ModelFallbackChain = splitAndTrim(chain)
	}
	if tokens := os.Getenv("API_BEARER_TOKENS"); tokens != "" {
		cfg.APIBearerTokens = splitAndTrim(tokens)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
