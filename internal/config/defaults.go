package config

const (
	defaultDataDir                 = "~/.local/share/stagecoach/sessions"
	defaultLogDir                  = "~/.local/share/stagecoach/logs"
	defaultStateDir                = "~/.local/share/stagecoach/state"
	defaultLibraryDir              = "~/.config/stagecoach/library"
	defaultLogRetentionDays        = 60
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 120
	defaultGitPolicy               = "strict"
	defaultMinWorkingFreeGiB       = 10
	defaultMinDestinationFreeGiB   = 200
	defaultMinAvailableMemoryGiB   = 1
	defaultResourceSampleSeconds   = 30
	defaultMetadataSchema          = "core"
	defaultMetadataOnError         = "fail"
	defaultTransferWorkers         = 4
	defaultTransferMaxAttempts     = 4
	defaultTransferRetryBaseMS     = 500
	defaultTransferRetryCapMS      = 30000
	defaultTransferRetryJitter     = 0.5
	defaultTransferFingerprint     = "checksum"
	defaultTransferBackend         = "none"
	defaultTransferHTTPTimeout     = 10
	defaultWatchfileScheduleHour   = 20
	defaultPickerMode              = "auto"
	defaultNotifyRequestTimeout    = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
			LibraryDir: defaultLibraryDir,
		},
		Session: Session{
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
		},
		Git: Git{
			Policy: defaultGitPolicy,
		},
		Resources: Resources{
			Enforce:               true,
			MinWorkingFreeGiB:     defaultMinWorkingFreeGiB,
			MinDestinationFreeGiB: defaultMinDestinationFreeGiB,
			MinAvailableMemoryGiB: defaultMinAvailableMemoryGiB,
			SampleIntervalSeconds: defaultResourceSampleSeconds,
		},
		Metadata: Metadata{
			Schema:  defaultMetadataSchema,
			OnError: defaultMetadataOnError,
		},
		Transfer: Transfer{
			Workers:     defaultTransferWorkers,
			MaxAttempts: defaultTransferMaxAttempts,
			RetryBaseMS: defaultTransferRetryBaseMS,
			RetryCapMS:  defaultTransferRetryCapMS,
			RetryJitter: defaultTransferRetryJitter,
			Fingerprint: defaultTransferFingerprint,
			IncludeLogs: true,
			Backend:     defaultTransferBackend,
			HTTP: TransferHTTP{
				TimeoutSeconds: defaultTransferHTTPTimeout,
			},
			Watchfile: TransferWatchfile{
				ScheduleHour: defaultWatchfileScheduleHour,
			},
		},
		Picker: Picker{
			Mode: defaultPickerMode,
		},
		Stages: Stages{
			MapMetadata:  true,
			TransferData: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			SessionStart:   true,
			SessionDone:    true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
