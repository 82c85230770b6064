package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ArtifactRoot string `toml:"artifact_root"`
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
}

// Store selects and tunes the task metadata database.
type Store struct {
	Driver                 string `toml:"driver"`
	URL                    string `toml:"url"`
	MaxOpenConns           int    `toml:"max_open_conns"`
	MaxIdleConns           int    `toml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `toml:"conn_max_lifetime_seconds"`
	PingTimeoutSeconds     int    `toml:"ping_timeout_seconds"`
}

// Dispatch contains queue lease timing and per-class worker limits.
type Dispatch struct {
	VisibilityTimeoutSeconds int            `toml:"visibility_timeout_seconds"`
	PollIntervalMillis       int            `toml:"poll_interval_ms"`
	HeartbeatIntervalSeconds int            `toml:"heartbeat_interval_seconds"`
	ErrorRetryIntervalMillis int            `toml:"error_retry_interval_ms"`
	ResourceClasses          map[string]int `toml:"resource_classes"`
}

// Retry contains the stage retry policy.
type Retry struct {
	BaseDelayMillis   int            `toml:"base_delay_ms"`
	MaxDelayMillis    int            `toml:"max_delay_ms"`
	Jitter            float64        `toml:"jitter"`
	MaxAttempts       int            `toml:"max_attempts"`
	TransitionRetries int            `toml:"transition_retries"`
	StageMaxAttempts  map[string]int `toml:"stage_max_attempts"`
}

// StageSettings binds a stage to a resource class and wall-clock timeout.
type StageSettings struct {
	ResourceClass  string `toml:"resource_class"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Tools names the external binaries the executors invoke.
type Tools struct {
	FFmpeg           string `toml:"ffmpeg"`
	FFprobe          string `toml:"ffprobe"`
	Demucs           string `toml:"demucs"`
	UVX              string `toml:"uvx"`
	KillGraceSeconds int    `toml:"kill_grace_seconds"`
}

// Separation configures the vocal/background split.
type Separation struct {
	Model      string `toml:"model"`
	SampleRate int    `toml:"sample_rate"`
}

// Recognition configures WhisperX transcription.
type Recognition struct {
	Model       string `toml:"model"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method"`
	HFToken     string `toml:"hf_token"`
	Language    string `toml:"language"`
}

// Synthesis configures the text-to-speech command.
type Synthesis struct {
	// Command is an argv template. Placeholders: {text}, {output}, {lang},
	// {voice}, {reference}.
	Command        []string          `toml:"command"`
	Voices         map[string]string `toml:"voices"`
	ReferenceVoice string            `toml:"reference_voice"`
	SampleRate     int               `toml:"sample_rate"`
}

// Subtitles configures subtitle file generation.
type Subtitles struct {
	Format            string  `toml:"format"`
	FontName          string  `toml:"font_name"`
	FontSize          int     `toml:"font_size"`
	Bold              bool    `toml:"bold"`
	Italic            bool    `toml:"italic"`
	Underline         bool    `toml:"underline"`
	FontColor         string  `toml:"font_color"`
	OutlineColor      string  `toml:"outline_color"`
	BackColor         string  `toml:"back_color"`
	OutlineWidth      float64 `toml:"outline_width"`
	BackOpacity       float64 `toml:"back_opacity"`
	Alignment         int     `toml:"alignment"`
	MarginV           int     `toml:"margin_v"`
	// MaxCPS caps reading speed in characters per second; 0 disables the
	// limit.
	MaxCPS            float64 `toml:"max_cps"`
	CPSExcludeSpaces  bool    `toml:"cps_exclude_spaces"`
	CondenseLongLines bool    `toml:"condense_long_lines"`
	MaxShiftSeconds   float64 `toml:"max_shift_seconds"`
	MinGapSeconds     float64 `toml:"min_gap_seconds"`
}

// Render configures final composition.
type Render struct {
	BurnSubtitles bool    `toml:"burn_subtitles"`
	BGMVolume     float64 `toml:"bgm_volume"`
	TTSVolume     float64 `toml:"tts_volume"`
	VideoCodec    string  `toml:"video_codec"`
	CRF           int     `toml:"crf"`
	Preset        string  `toml:"preset"`
	AudioBitrate  string  `toml:"audio_bitrate"`
}

// Limits bounds accepted inputs.
type Limits struct {
	MaxVideoSeconds    int `toml:"max_video_seconds"`
	StagingMaxAgeHours int `toml:"staging_max_age_hours"`
}

// LLM contains the translation model connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BatchSize      int    `toml:"batch_size"`
}

// ObjectStore configures optional publishing of downloadable artifacts.
type ObjectStore struct {
	Enabled           bool   `toml:"enabled"`
	Endpoint          string `toml:"endpoint"`
	AccessKey         string `toml:"access_key"`
	SecretKey         string `toml:"secret_key"`
	Bucket            string `toml:"bucket"`
	Region            string `toml:"region"`
	UseSSL            bool   `toml:"use_ssl"`
	Prefix            string `toml:"prefix"`
	PresignTTLSeconds int    `toml:"presign_ttl_seconds"`
}

// Notifications configures ntfy delivery of task outcomes.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for relingo.
//
// Configuration sections by subsystem:
//   - Paths: artifact root, database/lock state and logs
//   - Store: metadata database driver (sqlite or postgres)
//   - Dispatch: lease timing and {resource class: max workers}
//   - Retry: backoff and attempt limits
//   - Stages: per-stage resource class and timeout
//   - Tools, Separation, Recognition, Synthesis, Subtitles, Render, Limits: executors
//   - LLM: translation model access
//   - ObjectStore: optional download publishing
//   - Notifications: ntfy topic for task outcomes
//   - Logging: log format and level
type Config struct {
	Paths         Paths                    `toml:"paths"`
	Store         Store                    `toml:"store"`
	Dispatch      Dispatch                 `toml:"dispatch"`
	Retry         Retry                    `toml:"retry"`
	Stages        map[string]StageSettings `toml:"stages"`
	Tools         Tools                    `toml:"tools"`
	Separation    Separation               `toml:"separation"`
	Recognition   Recognition              `toml:"recognition"`
	Synthesis     Synthesis                `toml:"synthesis"`
	Subtitles     Subtitles                `toml:"subtitles"`
	Render        Render                   `toml:"render"`
	Limits        Limits                   `toml:"limits"`
	LLM           LLM                      `toml:"llm"`
	ObjectStore   ObjectStore              `toml:"object_store"`
	Notifications Notifications            `toml:"notifications"`
	Logging       Logging                  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("relingo.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArtifactRoot, c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file location used when store.driver is sqlite.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "relingo.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "relingod.lock")
}

// StageSettingsFor returns the configured settings for a stage, falling back
// to repository defaults for unset fields.
func (c *Config) StageSettingsFor(stage string) StageSettings {
	settings := defaultStageSettings[stage]
	if override, ok := c.Stages[stage]; ok {
		if strings.TrimSpace(override.ResourceClass) != "" {
			settings.ResourceClass = strings.TrimSpace(override.ResourceClass)
		}
		if override.TimeoutSeconds > 0 {
			settings.TimeoutSeconds = override.TimeoutSeconds
		}
	}
	if settings.ResourceClass == "" {
		settings.ResourceClass = defaultResourceClass
	}
	return settings
}

// StageTimeout returns the wall-clock limit for one stage run.
func (c *Config) StageTimeout(stage string) time.Duration {
	return time.Duration(c.StageSettingsFor(stage).TimeoutSeconds) * time.Second
}

// MaxAttemptsFor returns the total attempt budget for a stage.
func (c *Config) MaxAttemptsFor(stage string) int {
	if n, ok := c.Retry.StageMaxAttempts[stage]; ok && n > 0 {
		return n
	}
	return c.Retry.MaxAttempts
}

// VisibilityTimeout returns how long a claimed dispatch item stays invisible.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Dispatch.VisibilityTimeoutSeconds) * time.Second
}

// PollInterval returns the dispatch polling period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMillis) * time.Millisecond
}

// HeartbeatInterval returns the lease extension period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Dispatch.HeartbeatIntervalSeconds) * time.Second
}

// ErrorRetryInterval returns the pause after a failed dequeue.
func (c *Config) ErrorRetryInterval() time.Duration {
	return time.Duration(c.Dispatch.ErrorRetryIntervalMillis) * time.Millisecond
}

// KillGrace returns the delay between SIGTERM and SIGKILL for cancelled tools.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Tools.KillGraceSeconds) * time.Second
}

// PresignTTL returns the lifetime of presigned download URLs.
func (c *Config) PresignTTL() time.Duration {
	return time.Duration(c.ObjectStore.PresignTTLSeconds) * time.Second
}

// StagingMaxAge returns the age after which abandoned staging directories
// are removed. Zero disables the sweep.
func (c *Config) StagingMaxAge() time.Duration {
	return time.Duration(c.Limits.StagingMaxAgeHours) * time.Hour
}

// NotificationTimeout bounds one ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the resolved translation model settings.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// GetLLM returns the LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
	}
}
