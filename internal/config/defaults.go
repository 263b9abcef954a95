package config

const (
	defaultConfigPath            = "~/.config/mediaindex/config.toml"
	defaultSourceDir             = "~/mediaindex/inbox"
	defaultProcessingDir         = "~/mediaindex/processing"
	defaultProcessedDir          = "~/mediaindex/processed"
	defaultOutputDir             = "~/mediaindex/output"
	defaultResultsDir            = "~/.local/share/mediaindex/results"
	defaultLogDir                = "~/.local/share/mediaindex/logs"
	defaultIntakePattern         = "*.*"
	defaultIntakePollInterval    = 10
	defaultReservedUnits         = 25
	defaultReservedUnitType      = "S1"
	defaultProcessor             = "Media Indexer 2 Preview"
	defaultIndexingPollMS        = 250
	defaultRestoreKeyOn          = RestoreOnProcessing
	defaultMaxInFlight           = 200
	defaultDispatchIntervalMS    = 100
	defaultEmulatorScheduleMS    = 200
	defaultEmulatorProcessingMS  = 2000
	defaultEmulatorMaxReserved   = 100
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultUploadSerializeSetup  = true
	defaultDownloadDeleteRemote  = true
	defaultStageConcurrency      = 0
	defaultNtfyRequestTimeout    = 10
)

// Key restoration triggers accepted by indexing.restore_key_on.
const (
	RestoreOnProcessing = "processing"
	RestoreOnScheduled  = "scheduled"
)

// Default returns a Config populated with repository defaults. Zero stage
// concurrency values resolve to the CPU count during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceDir:     defaultSourceDir,
			ProcessingDir: defaultProcessingDir,
			ProcessedDir:  defaultProcessedDir,
			OutputDir:     defaultOutputDir,
			ResultsDir:    defaultResultsDir,
			LogDir:        defaultLogDir,
		},
		Intake: Intake{
			Pattern:      defaultIntakePattern,
			PollInterval: defaultIntakePollInterval,
		},
		Upload: Upload{
			Concurrency:         defaultStageConcurrency,
			SerializeAssetSetup: defaultUploadSerializeSetup,
		},
		Indexing: Indexing{
			Concurrency:      defaultStageConcurrency,
			ReservedUnits:    defaultReservedUnits,
			ReservedUnitType: defaultReservedUnitType,
			Processor:        defaultProcessor,
			PollIntervalMS:   defaultIndexingPollMS,
			RestoreKeyOn:     defaultRestoreKeyOn,
		},
		Download: Download{
			Concurrency:  defaultStageConcurrency,
			DeleteRemote: defaultDownloadDeleteRemote,
		},
		Pipeline: Pipeline{
			MaxInFlight:        defaultMaxInFlight,
			DispatchIntervalMS: defaultDispatchIntervalMS,
		},
		Emulator: Emulator{
			ScheduleDelayMS:  defaultEmulatorScheduleMS,
			ProcessingTimeMS: defaultEmulatorProcessingMS,
			MaxReservedUnits: defaultEmulatorMaxReserved,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
