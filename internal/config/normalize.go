package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeDispatch()
	c.normalizeStages()
	c.normalizeLLM()
	c.normalizeObjectStore()
	c.normalizeNotifications()
	c.normalizeExecutors()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.ArtifactRoot) == "" {
		c.Paths.ArtifactRoot = defaultArtifactRoot
	}
	if c.Paths.ArtifactRoot, err = expandPath(c.Paths.ArtifactRoot); err != nil {
		return fmt.Errorf("paths.artifact_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	applyEnvOverride(&c.Store.URL, "RELINGO_DATABASE_URL")
	if c.Store.PingTimeoutSeconds <= 0 {
		c.Store.PingTimeoutSeconds = defaultPingTimeoutSeconds
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.PollIntervalMillis <= 0 {
		c.Dispatch.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Dispatch.ErrorRetryIntervalMillis <= 0 {
		c.Dispatch.ErrorRetryIntervalMillis = defaultErrorRetryIntervalMillis
	}
	classes := make(map[string]int, len(c.Dispatch.ResourceClasses))
	for name, workers := range c.Dispatch.ResourceClasses {
		classes[strings.ToLower(strings.TrimSpace(name))] = workers
	}
	c.Dispatch.ResourceClasses = classes
}

func (c *Config) normalizeStages() {
	stages := make(map[string]StageSettings, len(c.Stages))
	for name, settings := range c.Stages {
		settings.ResourceClass = strings.ToLower(strings.TrimSpace(settings.ResourceClass))
		stages[strings.ToLower(strings.TrimSpace(name))] = settings
	}
	c.Stages = stages
	overrides := make(map[string]int, len(c.Retry.StageMaxAttempts))
	for name, n := range c.Retry.StageMaxAttempts {
		overrides[strings.ToLower(strings.TrimSpace(name))] = n
	}
	c.Retry.StageMaxAttempts = overrides
}

func (c *Config) normalizeLLM() {
	applyEnvOverride(&c.LLM.APIKey, "RELINGO_LLM_API_KEY", "OPENROUTER_API_KEY")
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.BatchSize <= 0 {
		c.LLM.BatchSize = defaultLLMBatchSize
	}
}

func (c *Config) normalizeObjectStore() {
	applyEnvOverride(&c.ObjectStore.AccessKey, "RELINGO_OBJECT_STORE_ACCESS_KEY")
	applyEnvOverride(&c.ObjectStore.SecretKey, "RELINGO_OBJECT_STORE_SECRET_KEY")
	c.ObjectStore.Endpoint = strings.TrimSpace(c.ObjectStore.Endpoint)
	c.ObjectStore.Prefix = strings.Trim(strings.TrimSpace(c.ObjectStore.Prefix), "/")
	if c.ObjectStore.PresignTTLSeconds <= 0 {
		c.ObjectStore.PresignTTLSeconds = defaultPresignTTLSeconds
	}
}

func (c *Config) normalizeNotifications() {
	applyEnvOverride(&c.Notifications.NtfyTopic, "RELINGO_NTFY_TOPIC")
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
	if c.Limits.StagingMaxAgeHours < 0 {
		c.Limits.StagingMaxAgeHours = 0
	}
}

func (c *Config) normalizeExecutors() {
	c.Subtitles.Format = strings.ToLower(strings.TrimSpace(c.Subtitles.Format))
	if c.Subtitles.Format == "" {
		c.Subtitles.Format = defaultSubtitleFormat
	}
	c.Recognition.VADMethod = strings.ToLower(strings.TrimSpace(c.Recognition.VADMethod))
	if c.Recognition.VADMethod == "" {
		c.Recognition.VADMethod = defaultVADMethod
	}
	applyEnvOverride(&c.Recognition.HFToken, "HF_TOKEN")
	c.Synthesis.ReferenceVoice = strings.TrimSpace(c.Synthesis.ReferenceVoice)
	if c.Synthesis.SampleRate <= 0 {
		c.Synthesis.SampleRate = defaultSynthesisSampleRate
	}
	if c.Separation.SampleRate <= 0 {
		c.Separation.SampleRate = defaultSeparationSampleRate
	}
	if strings.TrimSpace(c.Render.VideoCodec) == "" {
		c.Render.VideoCodec = defaultVideoCodec
	}
	if strings.TrimSpace(c.Render.AudioBitrate) == "" {
		c.Render.AudioBitrate = defaultAudioBitrate
	}
	if strings.TrimSpace(c.Render.Preset) == "" {
		c.Render.Preset = defaultPreset
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// applyEnvOverride replaces target with the first non-empty environment
// variable among keys. Environment values win over the config file.
func applyEnvOverride(target *string, keys ...string) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
			return
		}
	}
}
