package config

const (
	defaultDataDir               = "~/.local/share/soundbite"
	defaultLogDir                = "~/.local/share/soundbite/logs"
	defaultWorkersDir            = "~/.local/share/soundbite/workers"
	defaultAPIBind               = "127.0.0.1:8385"
	defaultPipelineVariant       = "full"
	defaultStageTimeout          = 900
	defaultRetryLimit            = 2
	defaultStuckThresholdMinutes = 30
	defaultKillGraceSeconds      = 5
	defaultBudgetPeriodLimit     = 10000
	defaultBudgetSafeFraction    = 0.8
	defaultSnapshotTTLSeconds    = 30
	defaultCallsPerKeyword       = 1
	defaultResultsPerCall        = 10
	defaultApproveReward         = 0.05
	defaultRejectPenalty         = 0.05
	defaultTrueRejectPenalty     = 0.15
	defaultDispatchCron          = "@every 1m"
	defaultNtfyRequestTimeout    = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			WorkersDir: defaultWorkersDir,
			APIBind:    defaultAPIBind,
		},
		Pipeline: Pipeline{
			Variant:               defaultPipelineVariant,
			StageTimeout:          defaultStageTimeout,
			RetryLimit:            defaultRetryLimit,
			StuckThresholdMinutes: defaultStuckThresholdMinutes,
			KillGraceSeconds:      defaultKillGraceSeconds,
		},
		Budget: Budget{
			PeriodLimit:        defaultBudgetPeriodLimit,
			SafeFraction:       defaultBudgetSafeFraction,
			SnapshotTTLSeconds: defaultSnapshotTTLSeconds,
			CallsPerKeyword:    defaultCallsPerKeyword,
			ResultsPerCall:     defaultResultsPerCall,
		},
		Review: Review{
			ApproveReward:     defaultApproveReward,
			RejectPenalty:     defaultRejectPenalty,
			TrueRejectPenalty: defaultTrueRejectPenalty,
		},
		Publisher: Publisher{
			Enabled:      true,
			DispatchCron: defaultDispatchCron,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			RunCompleted:   true,
			RunFailed:      true,
			ReviewNeeded:   true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
