package config

const (
	defaultConfigPath             = "~/.config/stagewright/config.toml"
	defaultDataDir                = "~/.local/share/stagewright"
	defaultLogDir                 = "~/.local/share/stagewright/logs"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultStoreDriver            = DriverSQLite
	defaultMutationTimeoutSeconds = 10
	defaultReadTimeoutSeconds     = 5
	defaultFeedPollIntervalMS     = 500
	defaultStalenessSeconds       = 30
	defaultDebounceSeconds        = 2
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultActorPrivilege         = "operator"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Store: Store{
			Driver:                 defaultStoreDriver,
			MutationTimeoutSeconds: defaultMutationTimeoutSeconds,
			ReadTimeoutSeconds:     defaultReadTimeoutSeconds,
			FeedPollIntervalMS:     defaultFeedPollIntervalMS,
		},
		Cache: Cache{
			StalenessSeconds: defaultStalenessSeconds,
		},
		Reconciler: Reconciler{
			DebounceSeconds: defaultDebounceSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Transitions:    false,
			Bypasses:       true,
			LedgerFailures: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Actor: Actor{
			Privilege: defaultActorPrivilege,
		},
	}
}
