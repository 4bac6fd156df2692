package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected addr: %s", cfg.HTTPAddr)
	}
	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Errorf("unexpected idle timeout: %v", cfg.SessionIdleTimeout)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("unexpected sample rate: %d", cfg.SampleRate)
	}
	if len(cfg.LLMModels) != 2 {
		t.Errorf("expected two default models, got %v", cfg.LLMModels)
	}
	if cfg.AutoSessions {
		t.Error("auto sessions should default off")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SESSION_IDLE_TIMEOUT", "2m")
	t.Setenv("MAX_CONCURRENT_FINALIZATIONS", "8")
	t.Setenv("KIOSK_CAPTURE", "true")
	t.Setenv("LLM_MODELS", "model-a, model-b ,model-c")

	cfg := Load()

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("addr override not applied: %s", cfg.HTTPAddr)
	}
	if cfg.SessionIdleTimeout != 2*time.Minute {
		t.Errorf("duration override not applied: %v", cfg.SessionIdleTimeout)
	}
	if cfg.MaxConcurrentFinals != 8 {
		t.Errorf("int override not applied: %d", cfg.MaxConcurrentFinals)
	}
	if !cfg.KioskCapture {
		t.Error("bool override not applied")
	}
	if len(cfg.LLMModels) != 3 || cfg.LLMModels[1] != "model-b" {
		t.Errorf("list override not applied: %v", cfg.LLMModels)
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("SESSION_IDLE_TIMEOUT", "not-a-duration")
	t.Setenv("SAMPLE_RATE", "not-a-number")

	cfg := Load()

	if cfg.SessionIdleTimeout != 90*time.Second {
		t.Errorf("invalid duration should keep default, got %v", cfg.SessionIdleTimeout)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("invalid int should keep default, got %d", cfg.SampleRate)
	}
}

func TestYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "http_addr: \":7070\"\nstt_model: whisper-large-v3-turbo\nabsent_frames: 6\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEEPSAKE_CONFIG", path)

	cfg := Load()

	if cfg.HTTPAddr != ":7070" {
		t.Errorf("yaml addr not applied: %s", cfg.HTTPAddr)
	}
	if cfg.STTModel != "whisper-large-v3-turbo" {
		t.Errorf("yaml stt model not applied: %s", cfg.STTModel)
	}
	if cfg.AbsentFrames != 6 {
		t.Errorf("yaml absent frames not applied: %d", cfg.AbsentFrames)
	}
	// Untouched fields keep defaults.
	if cfg.SessionMaxDuration != 15*time.Minute {
		t.Errorf("default lost after yaml merge: %v", cfg.SessionMaxDuration)
	}
}

func TestEnvWinsOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http_addr: \":7070\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEEPSAKE_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":6060")

	if cfg := Load(); cfg.HTTPAddr != ":6060" {
		t.Errorf("env should win over yaml, got %s", cfg.HTTPAddr)
	}
}
