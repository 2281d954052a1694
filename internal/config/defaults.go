package config

const (
	defaultDataDir     = "~/.local/share/scribeline/data"
	defaultArtifactDir = "~/.local/share/scribeline/artifacts"
	defaultLogDir      = "~/.local/share/scribeline/logs"
	defaultAPIBind     = "127.0.0.1:7519"

	defaultMasterKeyEnv  = "SCRIBELINE_MASTER_KEY"
	defaultPassphraseEnv = "SCRIBELINE_PASSPHRASE"
	defaultKDFIterations = 600000

	defaultWorkers                = 2
	defaultQueueDepth             = 8
	defaultMaxAttempts            = 3
	defaultRetryBackoffSeconds    = 30
	defaultRetryBackoffMaxSeconds = 900
	defaultPollIntervalSeconds    = 5
	defaultErrorRetrySeconds      = 10

	defaultStageTimeoutSeconds    = 1800
	defaultFormFillTimeoutSeconds = 600

	defaultLogFormat = "console"
	defaultLogLevel  = "info"

	defaultNtfyTimeoutSeconds = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Security: Security{
			MasterKeyEnv:  defaultMasterKeyEnv,
			PassphraseEnv: defaultPassphraseEnv,
			KDFIterations: defaultKDFIterations,
		},
		Pipeline: Pipeline{
			Workers:                   defaultWorkers,
			QueueDepth:                defaultQueueDepth,
			MaxAttempts:               defaultMaxAttempts,
			RetryBackoffSeconds:       defaultRetryBackoffSeconds,
			RetryBackoffMaxSeconds:    defaultRetryBackoffMaxSeconds,
			PollIntervalSeconds:       defaultPollIntervalSeconds,
			ErrorRetryIntervalSeconds: defaultErrorRetrySeconds,
		},
		Stages: Stages{
			Transcribe: StageCommand{TimeoutSeconds: defaultStageTimeoutSeconds},
			Summarize:  StageCommand{TimeoutSeconds: defaultStageTimeoutSeconds},
			Extract:    StageCommand{TimeoutSeconds: defaultStageTimeoutSeconds},
			FormFill:   StageCommand{TimeoutSeconds: defaultFormFillTimeoutSeconds},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
	}
}
