package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"relingo/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantArtifacts := filepath.Join(tempHome, ".local", "share", "relingo", "artifacts")
	if cfg.Paths.ArtifactRoot != wantArtifacts {
		t.Fatalf("unexpected artifact root: got %q want %q", cfg.Paths.ArtifactRoot, wantArtifacts)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "relingo", "state", "relingo.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.Store.Driver)
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("expected object store disabled by default")
	}
	if cfg.Subtitles.Format != "srt" {
		t.Fatalf("expected srt subtitles by default, got %q", cfg.Subtitles.Format)
	}
	if got := cfg.StageSettingsFor("separation").ResourceClass; got != "gpu" {
		t.Fatalf("expected separation on gpu class, got %q", got)
	}
	if got := cfg.StageSettingsFor("translation").ResourceClass; got != "network" {
		t.Fatalf("expected translation on network class, got %q", got)
	}
	if cfg.VisibilityTimeout() <= cfg.HeartbeatInterval() {
		t.Fatalf("expected visibility timeout %s to exceed heartbeat %s", cfg.VisibilityTimeout(), cfg.HeartbeatInterval())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "relingo.toml")

	type payload struct {
		Paths struct {
			ArtifactRoot string `toml:"artifact_root"`
		} `toml:"paths"`
		Dispatch struct {
			VisibilityTimeoutSeconds int            `toml:"visibility_timeout_seconds"`
			ResourceClasses          map[string]int `toml:"resource_classes"`
		} `toml:"dispatch"`
		Stages map[string]config.StageSettings `toml:"stages"`
		Retry  struct {
			StageMaxAttempts map[string]int `toml:"stage_max_attempts"`
		} `toml:"retry"`
	}
	custom := payload{}
	custom.Paths.ArtifactRoot = filepath.Join(tempDir, "artifacts")
	custom.Dispatch.VisibilityTimeoutSeconds = 300
	custom.Dispatch.ResourceClasses = map[string]int{"gpu": 2, "cpu": 4, "network": 8, "tts": 1}
	custom.Stages = map[string]config.StageSettings{
		"Synthesis": {ResourceClass: "TTS", TimeoutSeconds: 90},
	}
	custom.Retry.StageMaxAttempts = map[string]int{"translation": 6}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.ArtifactRoot != custom.Paths.ArtifactRoot {
		t.Fatalf("expected artifact root override, got %q", cfg.Paths.ArtifactRoot)
	}
	if cfg.VisibilityTimeout() != 300*time.Second {
		t.Fatalf("expected visibility timeout 300s, got %s", cfg.VisibilityTimeout())
	}
	settings := cfg.StageSettingsFor("synthesis")
	if settings.ResourceClass != "tts" || settings.TimeoutSeconds != 90 {
		t.Fatalf("expected normalized synthesis override, got %+v", settings)
	}
	if cfg.StageTimeout("render") != time.Hour {
		t.Fatalf("expected default render timeout, got %s", cfg.StageTimeout("render"))
	}
	if cfg.MaxAttemptsFor("translation") != 6 {
		t.Fatalf("expected translation attempts override, got %d", cfg.MaxAttemptsFor("translation"))
	}
	if cfg.MaxAttemptsFor("render") != cfg.Retry.MaxAttempts {
		t.Fatalf("expected render to use global attempts, got %d", cfg.MaxAttemptsFor("render"))
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "relingo.toml")

	contents := `
[llm]
api_key = "file-llm"

[recognition]
hf_token = "file-hf"

[store]
driver = "postgres"
url = "postgres://file"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("RELINGO_LLM_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "env-llm")
	t.Setenv("HF_TOKEN", "env-hf")
	t.Setenv("RELINGO_DATABASE_URL", "postgres://env")
	t.Setenv("RELINGO_NTFY_TOPIC", "https://ntfy.example/relingo")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "env-llm" {
		t.Errorf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Recognition.HFToken != "env-hf" {
		t.Errorf("expected HuggingFace token from env, got %q", cfg.Recognition.HFToken)
	}
	if cfg.Store.URL != "postgres://env" {
		t.Errorf("expected database url from env, got %q", cfg.Store.URL)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/relingo" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.StagingMaxAge() != 48*time.Hour || cfg.NotificationTimeout() != 10*time.Second {
		t.Errorf("unexpected defaults: staging %s, notify %s", cfg.StagingMaxAge(), cfg.NotificationTimeout())
	}
}

func TestCreateSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_llm_api_key_here") {
		t.Fatalf("sample config missing placeholder LLM key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.ArtifactRoot, "relingo") {
		t.Fatalf("expected artifact root to contain relingo, got %q", cfg.Paths.ArtifactRoot)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }},
		{"postgres without url", func(c *config.Config) { c.Store.Driver = "postgres"; c.Store.URL = "" }},
		{"heartbeat not below visibility", func(c *config.Config) {
			c.Dispatch.HeartbeatIntervalSeconds = c.Dispatch.VisibilityTimeoutSeconds
		}},
		{"zero workers", func(c *config.Config) { c.Dispatch.ResourceClasses["gpu"] = 0 }},
		{"undefined class", func(c *config.Config) {
			c.Stages = map[string]config.StageSettings{"render": {ResourceClass: "fpga"}}
		}},
		{"unknown stage", func(c *config.Config) {
			c.Stages = map[string]config.StageSettings{"dubbing": {ResourceClass: "cpu"}}
		}},
		{"jitter out of range", func(c *config.Config) { c.Retry.Jitter = 1.5 }},
		{"max below base", func(c *config.Config) { c.Retry.MaxDelayMillis = c.Retry.BaseDelayMillis - 1 }},
		{"zero attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }},
		{"bad subtitle format", func(c *config.Config) { c.Subtitles.Format = "vtt" }},
		{"negative volume", func(c *config.Config) { c.Render.BGMVolume = -1 }},
		{"synthesis without output placeholder", func(c *config.Config) { c.Synthesis.Command = []string{"tts", "{text}"} }},
		{"object store without bucket", func(c *config.Config) {
			c.ObjectStore.Enabled = true
			c.ObjectStore.Endpoint = "localhost:9000"
			c.ObjectStore.AccessKey = "a"
			c.ObjectStore.SecretKey = "b"
			c.ObjectStore.Bucket = ""
		}},
		{"negative max cps", func(c *config.Config) { c.Subtitles.MaxCPS = -1 }},
		{"ntfy topic without scheme", func(c *config.Config) { c.Notifications.NtfyTopic = "ntfy.sh/relingo" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}

	base := config.Default()
	if err := base.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArtifactRoot = filepath.Join(root, "a")
	cfg.Paths.StateDir = filepath.Join(root, "s")
	cfg.Paths.LogDir = filepath.Join(root, "l")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ArtifactRoot, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q, err=%v", dir, err)
		}
	}
}
