package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateExecutors(); err != nil {
		return err
	}
	if err := c.validateObjectStore(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Store.URL) == "" {
			return errors.New("store.url is required when store.driver is postgres (or set RELINGO_DATABASE_URL)")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.MaxOpenConns < 1 {
		return errors.New("store.max_open_conns must be >= 1")
	}
	if c.Store.MaxIdleConns < 0 || c.Store.MaxIdleConns > c.Store.MaxOpenConns {
		return errors.New("store.max_idle_conns must be between 0 and store.max_open_conns")
	}
	if c.Store.ConnMaxLifetimeSeconds < 0 {
		return errors.New("store.conn_max_lifetime_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.VisibilityTimeoutSeconds <= 0 {
		return errors.New("dispatch.visibility_timeout_seconds must be positive")
	}
	if c.Dispatch.HeartbeatIntervalSeconds <= 0 {
		return errors.New("dispatch.heartbeat_interval_seconds must be positive")
	}
	if c.Dispatch.HeartbeatIntervalSeconds >= c.Dispatch.VisibilityTimeoutSeconds {
		return errors.New("dispatch.heartbeat_interval_seconds must be less than dispatch.visibility_timeout_seconds")
	}
	if len(c.Dispatch.ResourceClasses) == 0 {
		return errors.New("dispatch.resource_classes must define at least one class")
	}
	for name, workers := range c.Dispatch.ResourceClasses {
		if name == "" {
			return errors.New("dispatch.resource_classes contains an empty class name")
		}
		if workers < 1 {
			return fmt.Errorf("dispatch.resource_classes.%s must be >= 1", name)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.BaseDelayMillis <= 0 {
		return errors.New("retry.base_delay_ms must be positive")
	}
	if c.Retry.MaxDelayMillis < c.Retry.BaseDelayMillis {
		return errors.New("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry.jitter must be between 0 and 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.TransitionRetries < 1 {
		return errors.New("retry.transition_retries must be >= 1")
	}
	for name, n := range c.Retry.StageMaxAttempts {
		if !slices.Contains(stageNames, name) {
			return fmt.Errorf("retry.stage_max_attempts: unknown stage %q", name)
		}
		if n < 1 {
			return fmt.Errorf("retry.stage_max_attempts.%s must be >= 1", name)
		}
	}
	return nil
}

func (c *Config) validateStages() error {
	for name := range c.Stages {
		if !slices.Contains(stageNames, name) {
			return fmt.Errorf("stages: unknown stage %q", name)
		}
	}
	for _, name := range stageNames {
		settings := c.StageSettingsFor(name)
		if _, ok := c.Dispatch.ResourceClasses[settings.ResourceClass]; !ok {
			return fmt.Errorf("stages.%s.resource_class %q is not defined in dispatch.resource_classes", name, settings.ResourceClass)
		}
		if settings.TimeoutSeconds <= 0 {
			return fmt.Errorf("stages.%s.timeout_seconds must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateExecutors() error {
	switch c.Subtitles.Format {
	case "srt", "ass":
	default:
		return fmt.Errorf("subtitles.format must be srt or ass, got %q", c.Subtitles.Format)
	}
	if c.Subtitles.BackOpacity < 0 || c.Subtitles.BackOpacity > 1 {
		return errors.New("subtitles.back_opacity must be between 0 and 1")
	}
	if c.Subtitles.Alignment < 1 || c.Subtitles.Alignment > 9 {
		return errors.New("subtitles.alignment must be between 1 and 9")
	}
	if c.Subtitles.MaxCPS < 0 || c.Subtitles.MaxShiftSeconds < 0 || c.Subtitles.MinGapSeconds < 0 {
		return errors.New("subtitles.max_cps, max_shift_seconds and min_gap_seconds must be >= 0")
	}
	if c.Render.BGMVolume < 0 || c.Render.TTSVolume < 0 {
		return errors.New("render volumes must be >= 0")
	}
	if c.Limits.MaxVideoSeconds < 0 {
		return errors.New("limits.max_video_seconds must be >= 0")
	}
	if len(c.Synthesis.Command) == 0 {
		return errors.New("synthesis.command must not be empty")
	}
	joined := strings.Join(c.Synthesis.Command, " ")
	for _, placeholder := range []string{"{text}", "{output}"} {
		if !strings.Contains(joined, placeholder) {
			return fmt.Errorf("synthesis.command must contain the %s placeholder", placeholder)
		}
	}
	switch c.Recognition.VADMethod {
	case "silero", "pyannote":
	default:
		return fmt.Errorf("recognition.vad_method must be silero or pyannote, got %q", c.Recognition.VADMethod)
	}
	return nil
}

func (c *Config) validateObjectStore() error {
	if !c.ObjectStore.Enabled {
		return nil
	}
	if c.ObjectStore.Endpoint == "" {
		return errors.New("object_store.endpoint must be set when object_store.enabled is true")
	}
	if strings.TrimSpace(c.ObjectStore.Bucket) == "" {
		return errors.New("object_store.bucket must be set when object_store.enabled is true")
	}
	if c.ObjectStore.AccessKey == "" || c.ObjectStore.SecretKey == "" {
		return errors.New("object_store.access_key and object_store.secret_key are required when object_store.enabled is true")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
