package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownPrivileges = map[string]struct{}{
	"viewer":   {},
	"operator": {},
	"manager":  {},
	"admin":    {},
	"system":   {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateActor(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = defaultConfigPath
			}
			return fmt.Errorf("store.postgres_url is required for the postgres driver. Set STAGEWRIGHT_POSTGRES_URL or edit %s (create with 'stagewright config init')", defaultPath)
		}
	default:
		return fmt.Errorf("store.driver %q is not supported (use sqlite or postgres)", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateTimings() error {
	if err := ensurePositiveMap(map[string]int{
		"store.mutation_timeout_seconds": c.Store.MutationTimeoutSeconds,
		"store.read_timeout_seconds":     c.Store.ReadTimeoutSeconds,
		"store.feed_poll_interval_ms":    c.Store.FeedPollIntervalMS,
		"notifications.request_timeout":  c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Cache.StalenessSeconds < 0 {
		return errors.New("cache.staleness_seconds must be >= 0")
	}
	if c.Reconciler.DebounceSeconds < 0 {
		return errors.New("reconciler.debounce_seconds must be >= 0")
	}
	if c.Reconciler.PollIntervalSeconds < 0 {
		return errors.New("reconciler.poll_interval_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
}

func (c *Config) validateActor() error {
	if _, ok := knownPrivileges[c.Actor.Privilege]; !ok {
		return fmt.Errorf("actor.privilege %q is not supported", c.Actor.Privilege)
	}
	if strings.ContainsAny(c.Actor.Organization, " \t\n") {
		return errors.New("actor.organization must not contain whitespace")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
