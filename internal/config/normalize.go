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
	if err := c.normalizeWorkflow(); err != nil {
		return err
	}
	c.normalizeReconciler()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeActor()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("STAGEWRIGHT_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "sqlite3":
		c.Store.Driver = DriverSQLite
	case "postgresql", "pg":
		c.Store.Driver = DriverPostgres
	}
	c.Store.PostgresURL = strings.TrimSpace(c.Store.PostgresURL)
	if c.Store.PostgresURL == "" {
		if value, ok := os.LookupEnv("STAGEWRIGHT_POSTGRES_URL"); ok {
			c.Store.PostgresURL = strings.TrimSpace(value)
		}
	}
	if c.Store.FeedPollIntervalMS == 0 {
		c.Store.FeedPollIntervalMS = defaultFeedPollIntervalMS
	}
}

func (c *Config) normalizeWorkflow() error {
	path := strings.TrimSpace(c.Workflow.DefinitionPath)
	if path == "" {
		c.Workflow.DefinitionPath = ""
		return nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("workflow.definition_path: %w", err)
	}
	c.Workflow.DefinitionPath = expanded
	return nil
}

func (c *Config) normalizeReconciler() {
	if len(c.Reconciler.Organizations) == 0 {
		return
	}
	orgs := make([]string, 0, len(c.Reconciler.Organizations))
	seen := make(map[string]struct{}, len(c.Reconciler.Organizations))
	for _, org := range c.Reconciler.Organizations {
		trimmed := strings.TrimSpace(org)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		orgs = append(orgs, trimmed)
	}
	c.Reconciler.Organizations = orgs
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("STAGEWRIGHT_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeActor() {
	c.Actor.ID = strings.TrimSpace(c.Actor.ID)
	if c.Actor.ID == "" {
		if value, ok := os.LookupEnv("STAGEWRIGHT_ACTOR"); ok {
			c.Actor.ID = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("USER"); ok {
			c.Actor.ID = strings.TrimSpace(value)
		}
	}
	c.Actor.Organization = strings.TrimSpace(c.Actor.Organization)
	c.Actor.Privilege = strings.ToLower(strings.TrimSpace(c.Actor.Privilege))
	if c.Actor.Privilege == "" {
		c.Actor.Privilege = defaultActorPrivilege
	}
}
