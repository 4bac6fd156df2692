// Package config handles platform configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	DataDir  string `yaml:"data_dir"`

	// Session lifecycle
	SessionIdleTimeout  time.Duration `yaml:"session_idle_timeout"`
	SessionMaxDuration  time.Duration `yaml:"session_max_duration"`
	HousekeepInterval   time.Duration `yaml:"housekeep_interval"`
	EndWaitTimeout      time.Duration `yaml:"end_wait_timeout"`
	MaxConcurrentFinals int           `yaml:"max_concurrent_finalizations"`

	// Audio
	FFmpegPath     string        `yaml:"ffmpeg_path"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
	SampleRate     int           `yaml:"sample_rate"`
	KioskCapture   bool          `yaml:"kiosk_capture"`
	KioskSubjectID string        `yaml:"kiosk_subject_id"`

	// Speech-to-text (OpenAI-compatible audio transcriptions endpoint)
	STTBaseURL string        `yaml:"stt_base_url"`
	STTAPIKey  string        `yaml:"stt_api_key"`
	STTModel   string        `yaml:"stt_model"`
	STTTimeout time.Duration `yaml:"stt_timeout"`

	// Summarizer LLM (OpenAI-compatible chat completions endpoint)
	LLMBaseURL string        `yaml:"llm_base_url"`
	LLMAPIKey  string        `yaml:"llm_api_key"`
	LLMModels  []string      `yaml:"llm_models"` // ordered fallback list
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// Identification service
	IdentifyURL     string        `yaml:"identify_url"`
	IdentifyTimeout time.Duration `yaml:"identify_timeout"`
	AutoSessions    bool          `yaml:"auto_sessions"`
	AbsentFrames    int           `yaml:"absent_frames"`
}

// Load reads an optional YAML config file (KEEPSAKE_CONFIG) and applies
// environment variable overrides on top.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("KEEPSAKE_CONFIG"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)

	cfg.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	cfg.SessionMaxDuration = getEnvDuration("SESSION_MAX_DURATION", cfg.SessionMaxDuration)
	cfg.HousekeepInterval = getEnvDuration("HOUSEKEEP_INTERVAL", cfg.HousekeepInterval)
	cfg.EndWaitTimeout = getEnvDuration("END_WAIT_TIMEOUT", cfg.EndWaitTimeout)
	cfg.MaxConcurrentFinals = getEnvInt("MAX_CONCURRENT_FINALIZATIONS", cfg.MaxConcurrentFinals)

	cfg.FFmpegPath = getEnv("FFMPEG_PATH", cfg.FFmpegPath)
	cfg.ConvertTimeout = getEnvDuration("CONVERT_TIMEOUT", cfg.ConvertTimeout)
	cfg.SampleRate = getEnvInt("SAMPLE_RATE", cfg.SampleRate)
	cfg.KioskCapture = getEnvBool("KIOSK_CAPTURE", cfg.KioskCapture)
	cfg.KioskSubjectID = getEnv("KIOSK_SUBJECT_ID", cfg.KioskSubjectID)

	cfg.STTBaseURL = getEnv("STT_BASE_URL", cfg.STTBaseURL)
	cfg.STTAPIKey = getEnv("STT_API_KEY", cfg.STTAPIKey)
	cfg.STTModel = getEnv("STT_MODEL", cfg.STTModel)
	cfg.STTTimeout = getEnvDuration("STT_TIMEOUT", cfg.STTTimeout)

	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnv("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModels = getEnvList("LLM_MODELS", cfg.LLMModels)
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", cfg.LLMTimeout)

	cfg.IdentifyURL = getEnv("IDENTIFY_URL", cfg.IdentifyURL)
	cfg.IdentifyTimeout = getEnvDuration("IDENTIFY_TIMEOUT", cfg.IdentifyTimeout)
	cfg.AutoSessions = getEnvBool("AUTO_SESSIONS", cfg.AutoSessions)
	cfg.AbsentFrames = getEnvInt("ABSENT_FRAMES", cfg.AbsentFrames)

	return cfg
}

func defaults() *Config {
	return &Config{
		HTTPAddr:            ":8080",
		DataDir:             "data",
		SessionIdleTimeout:  90 * time.Second,
		SessionMaxDuration:  15 * time.Minute,
		HousekeepInterval:   10 * time.Second,
		EndWaitTimeout:      20 * time.Second,
		MaxConcurrentFinals: 4,
		FFmpegPath:          "ffmpeg",
		ConvertTimeout:      30 * time.Second,
		SampleRate:          16000,
		KioskCapture:        false,
		KioskSubjectID:      "",
		STTBaseURL:          "https://api.groq.com/openai/v1",
		STTModel:            "whisper-large-v3",
		STTTimeout:          60 * time.Second,
		LLMBaseURL:          "https://api.groq.com/openai/v1",
		LLMModels:           []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
		LLMTimeout:          20 * time.Second,
		IdentifyURL:         "http://localhost:8081/identify",
		IdentifyTimeout:     5 * time.Second,
		AutoSessions:        false,
		AbsentFrames:        4,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
