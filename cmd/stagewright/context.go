package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stagewright/internal/actor"
	"stagewright/internal/api"
	"stagewright/internal/config"
	"stagewright/internal/engine"
	"stagewright/internal/logging"
)

type commandContext struct {
	configFlag *string
	remoteFlag *bool
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, remoteFlag, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		remoteFlag: remoteFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) remote() bool {
	return c.remoteFlag != nil && *c.remoteFlag
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// requestContext attaches the configured CLI identity and a fresh request id.
func (c *commandContext) requestContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = actor.WithRequestID(ctx, uuid.NewString())
	cfg := c.configValue()
	if cfg == nil || strings.TrimSpace(cfg.Actor.ID) == "" {
		return ctx
	}
	privilege, _ := actor.ParsePrivilege(cfg.Actor.Privilege)
	return actor.WithActor(ctx, actor.Actor{
		ID:           cfg.Actor.ID,
		Organization: cfg.Actor.Organization,
		Privilege:    privilege,
	})
}

// withOperations runs fn against the daemon API when --remote is set and
// against an in-process engine otherwise.
func (c *commandContext) withOperations(cmd *cobra.Command, fn func(context.Context, api.Operations) error) error {
	ctx := c.requestContext(cmd)
	if c.remote() {
		client, err := c.apiClient(c.requestTimeout())
		if err != nil {
			return err
		}
		return wrapAPIError(fn(ctx, client), c.configValue())
	}
	return c.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		return fn(ctx, api.NewService(eng.Coordinator))
	})
}

// withEngine opens the configured store and engine for the duration of fn.
func (c *commandContext) withEngine(cmd *cobra.Command, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := c.requestContext(cmd)
	eng, err := engine.Open(ctx, cfg, c.logger(cfg))
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(ctx, eng)
}

func (c *commandContext) apiClient(timeout time.Duration) (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken, timeout)
	if err != nil {
		return nil, fmt.Errorf("build api client: %w", err)
	}
	if client == nil {
		return nil, errors.New("paths.api_bind is empty; the daemon API is disabled")
	}
	return client, nil
}

func (c *commandContext) requestTimeout() time.Duration {
	cfg := c.configValue()
	if cfg == nil {
		return 30 * time.Second
	}
	return cfg.ReadTimeout() + cfg.MutationTimeout()
}

// logger writes warnings and errors to stderr so engine problems surface
// without drowning command output.
func (c *commandContext) logger(cfg *config.Config) *slog.Logger {
	logger, err := logging.New(logging.Options{
		Level:   "warn",
		Format:  cfg.Logging.Format,
		Outputs: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func wrapAPIError(err error, cfg *config.Config) error {
	if err == nil || !errors.Is(err, api.ErrAPIUnavailable) {
		return err
	}
	bind := ""
	if cfg != nil {
		bind = cfg.Paths.APIBind
	}
	return fmt.Errorf("connect to daemon at %s: %w; start the daemon with `stagewright daemon start`", bind, err)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
