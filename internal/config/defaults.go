package config

const (
	defaultConfigPath               = "~/.config/relingo/config.toml"
	defaultArtifactRoot             = "~/.local/share/relingo/artifacts"
	defaultStateDir                 = "~/.local/share/relingo/state"
	defaultLogDir                   = "~/.local/share/relingo/logs"
	defaultStoreDriver              = "sqlite"
	defaultMaxOpenConns             = 10
	defaultMaxIdleConns             = 5
	defaultConnMaxLifetimeSeconds   = 1800
	defaultPingTimeoutSeconds       = 2
	defaultVisibilityTimeoutSeconds = 120
	defaultPollIntervalMillis       = 1000
	defaultHeartbeatIntervalSeconds = 15
	defaultErrorRetryIntervalMillis = 5000
	defaultRetryBaseDelayMillis     = 2000
	defaultRetryMaxDelayMillis      = 120000
	defaultRetryJitter              = 0.2
	defaultRetryMaxAttempts         = 3
	defaultTransitionRetries        = 3
	defaultResourceClass            = "cpu"
	defaultKillGraceSeconds         = 5
	defaultDemucsModel              = "htdemucs"
	defaultSeparationSampleRate     = 48000
	defaultWhisperXModel            = "large-v3"
	defaultVADMethod                = "silero"
	defaultSynthesisSampleRate      = 48000
	defaultSubtitleFormat           = "srt"
	defaultFontName                 = "Noto Sans CJK SC"
	defaultFontSize                 = 36
	defaultFontColor                = "#FFFFFF"
	defaultOutlineColor             = "#000000"
	defaultBackColor                = "#000000"
	defaultBackOpacity              = 0.5
	defaultAlignment                = 2
	defaultMarginV                  = 10
	defaultMaxCPS                   = 15.0
	defaultMaxShiftSeconds          = 1.0
	defaultMinGapSeconds            = 0.1
	defaultVideoCodec               = "libx264"
	defaultCRF                      = 18
	defaultPreset                   = "veryfast"
	defaultAudioBitrate             = "192k"
	defaultMaxVideoSeconds          = 1800
	defaultStagingMaxAgeHours       = 48
	defaultNotifyTimeoutSeconds     = 10
	defaultLLMBaseURL               = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                 = "google/gemini-3-flash-preview"
	defaultLLMReferer               = "https://github.com/relingo/relingo"
	defaultLLMTitle                 = "relingo translation"
	defaultLLMTimeoutSeconds        = 120
	defaultLLMBatchSize             = 40
	defaultObjectStoreBucket        = "relingo-artifacts"
	defaultObjectStoreRegion        = "us-east-1"
	defaultPresignTTLSeconds        = 3600
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
)

// Stage names as they appear in [stages.<name>] and [retry.stage_max_attempts].
var stageNames = []string{"separation", "recognition", "translation", "synthesis", "subtitle_assembly", "render"}

var defaultStageSettings = map[string]StageSettings{
	"separation":        {ResourceClass: "gpu", TimeoutSeconds: 1800},
	"recognition":       {ResourceClass: "gpu", TimeoutSeconds: 1800},
	"translation":       {ResourceClass: "network", TimeoutSeconds: 900},
	"synthesis":         {ResourceClass: "gpu", TimeoutSeconds: 1800},
	"subtitle_assembly": {ResourceClass: "cpu", TimeoutSeconds: 60},
	"render":            {ResourceClass: "cpu", TimeoutSeconds: 3600},
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArtifactRoot: defaultArtifactRoot,
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
		},
		Store: Store{
			Driver:                 defaultStoreDriver,
			MaxOpenConns:           defaultMaxOpenConns,
			MaxIdleConns:           defaultMaxIdleConns,
			ConnMaxLifetimeSeconds: defaultConnMaxLifetimeSeconds,
			PingTimeoutSeconds:     defaultPingTimeoutSeconds,
		},
		Dispatch: Dispatch{
			VisibilityTimeoutSeconds: defaultVisibilityTimeoutSeconds,
			PollIntervalMillis:       defaultPollIntervalMillis,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			ErrorRetryIntervalMillis: defaultErrorRetryIntervalMillis,
			ResourceClasses: map[string]int{
				"gpu":     1,
				"cpu":     2,
				"network": 4,
			},
		},
		Retry: Retry{
			BaseDelayMillis:   defaultRetryBaseDelayMillis,
			MaxDelayMillis:    defaultRetryMaxDelayMillis,
			Jitter:            defaultRetryJitter,
			MaxAttempts:       defaultRetryMaxAttempts,
			TransitionRetries: defaultTransitionRetries,
		},
		Tools: Tools{
			FFmpeg:           "ffmpeg",
			FFprobe:          "ffprobe",
			Demucs:           "demucs",
			UVX:              "uvx",
			KillGraceSeconds: defaultKillGraceSeconds,
		},
		Separation: Separation{
			Model:      defaultDemucsModel,
			SampleRate: defaultSeparationSampleRate,
		},
		Recognition: Recognition{
			Model:     defaultWhisperXModel,
			VADMethod: defaultVADMethod,
		},
		Synthesis: Synthesis{
			Command:    []string{"edge-tts", "--voice", "{voice}", "--text", "{text}", "--write-media", "{output}"},
			SampleRate: defaultSynthesisSampleRate,
			Voices: map[string]string{
				"en": "en-US-AriaNeural",
				"fr": "fr-FR-DeniseNeural",
				"de": "de-DE-KatjaNeural",
				"es": "es-ES-ElviraNeural",
				"ja": "ja-JP-NanamiNeural",
				"zh": "zh-CN-XiaoxiaoNeural",
			},
		},
		Subtitles: Subtitles{
			Format:       defaultSubtitleFormat,
			FontName:     defaultFontName,
			FontSize:     defaultFontSize,
			Bold:         true,
			FontColor:    defaultFontColor,
			OutlineColor: defaultOutlineColor,
			BackColor:    defaultBackColor,
			BackOpacity:  defaultBackOpacity,
			Alignment:    defaultAlignment,
			MarginV:      defaultMarginV,

			MaxCPS:            defaultMaxCPS,
			CondenseLongLines: true,
			MaxShiftSeconds:   defaultMaxShiftSeconds,
			MinGapSeconds:     defaultMinGapSeconds,
		},
		Render: Render{
			BurnSubtitles: true,
			BGMVolume:     1.0,
			TTSVolume:     1.0,
			VideoCodec:    defaultVideoCodec,
			CRF:           defaultCRF,
			Preset:        defaultPreset,
			AudioBitrate:  defaultAudioBitrate,
		},
		Limits: Limits{
			MaxVideoSeconds:    defaultMaxVideoSeconds,
			StagingMaxAgeHours: defaultStagingMaxAgeHours,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			BatchSize:      defaultLLMBatchSize,
		},
		ObjectStore: ObjectStore{
			Bucket:            defaultObjectStoreBucket,
			Region:            defaultObjectStoreRegion,
			PresignTTLSeconds: defaultPresignTTLSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
