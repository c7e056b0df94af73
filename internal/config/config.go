package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// SpeechResultMode controls how a recognized utterance is composed into any
// unsent input the user already typed.
type SpeechResultMode string

const (
	// SpeechResultReplace discards the pending input and uses the transcript.
	SpeechResultReplace SpeechResultMode = "replace"
	// SpeechResultAppend joins the transcript to the pending input with a space.
	SpeechResultAppend SpeechResultMode = "append"
)

// Config contains all runtime settings for the consulta client service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	BackendBaseURL string
	BackendTimeout time.Duration
	BackendMode    string

	AvatarProviderOrigin string

	SpeechLang       string
	SpeechResultMode SpeechResultMode

	HistoryLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "consultavirtual"),
		AllowAnyOrigin:   false,
		BackendBaseURL:   stringsTrimSpace("BACKEND_BASE_URL"),
		BackendMode:      envOrDefault("BACKEND_MODE", "http"),
		// D-ID serves the embedded agent widget from this fixed origin.
		AvatarProviderOrigin: envOrDefault("AVATAR_PROVIDER_ORIGIN", "https://agent.d-id.com"),
		SpeechLang:           envOrDefault("SPEECH_LANG", "es-ES"),
		SpeechResultMode:     SpeechResultMode(envOrDefault("SPEECH_RESULT_MODE", string(SpeechResultReplace))),
		HistoryLimit:         10,
		BackendTimeout:       30 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		// Consultation pages stay open a while between exchanges.
		SessionInactivityTimeout: 10 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.BackendMode))
	if mode == "" {
		mode = "http"
	}
	if mode != "http" && mode != "mock" {
		return Config{}, fmt.Errorf("BACKEND_MODE must be http or mock, got %q", cfg.BackendMode)
	}
	cfg.BackendMode = mode

	if cfg.BackendMode == "http" {
		if cfg.BackendBaseURL == "" {
			return Config{}, fmt.Errorf("BACKEND_BASE_URL is required")
		}
		u, err := url.Parse(cfg.BackendBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("BACKEND_BASE_URL must be an absolute http(s) URL, got %q", cfg.BackendBaseURL)
		}
	}

	switch cfg.SpeechResultMode {
	case SpeechResultReplace, SpeechResultAppend:
	default:
		return Config{}, fmt.Errorf("SPEECH_RESULT_MODE must be replace or append, got %q", cfg.SpeechResultMode)
	}

	if cfg.AvatarProviderOrigin != "" {
		u, err := url.Parse(cfg.AvatarProviderOrigin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Config{}, fmt.Errorf("AVATAR_PROVIDER_ORIGIN must be an absolute http(s) origin, got %q", cfg.AvatarProviderOrigin)
		}
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("HISTORY_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
