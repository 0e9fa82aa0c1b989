package testsupport

import (
	"path/filepath"
	"testing"

	"stagewright/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Store.FeedPollIntervalMS = 20
	cfgVal.Actor.ID = "tester"
	cfgVal.Actor.Organization = "acme"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkflow writes a stage definition into the temp dir and points the config at it.
func WithWorkflow(definition string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.DefinitionPath = WriteWorkflow(b.t, b.baseDir, definition)
	}
}

// WithAPIToken sets the API bearer token on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithAPIBind sets the daemon API listen address.
func WithAPIBind(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIBind = addr
	}
}

// WithNtfyTopic points notifications at the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithOrganizations configures the organizations the reconciler watches.
func WithOrganizations(orgs ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reconciler.Organizations = orgs
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
