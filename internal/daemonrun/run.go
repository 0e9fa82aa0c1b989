package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"stagewright/internal/config"
	"stagewright/internal/daemon"
	"stagewright/internal/daemonctl"
	"stagewright/internal/engine"
	"stagewright/internal/logging"
	"stagewright/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the stagewright daemon and blocks until SIGINT/SIGTERM or ctx
// cancellation.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("stagewrightd-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update stagewrightd.log link: %v\n", err)
	}

	pidPath := daemonctl.PIDPath(cfg)
	if err := daemonctl.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	eng, err := engine.Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open engine", logging.Error(err))
		return err
	}

	if err := checkReadiness(signalCtx, logger, cfg, eng); err != nil {
		_ = eng.Close()
		return err
	}

	d, err := daemon.New(cfg, eng.Store, eng.Coordinator, eng.NewReconciler(), logger)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.String(logging.FieldErrorHint, "check the api bind address and that no other daemon holds the lock"),
			logging.String(logging.FieldImpact, "transitions are not being served"),
			logging.Error(err),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("stagewright daemon shutting down")
	return nil
}

// checkReadiness logs every preflight result and fails when the store or
// workflow is unusable. Optional services only warn.
func checkReadiness(ctx context.Context, logger *slog.Logger, cfg *config.Config, eng *engine.Engine) error {
	results := preflight.RunAll(ctx, cfg, eng.Store)
	var fatal []string
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "dependent features may not work"),
		)
		if strings.HasPrefix(r.Name, "Store") || r.Name == "Workflow definition" {
			fatal = append(fatal, r.Name+": "+r.Detail)
		}
	}
	if len(fatal) > 0 {
		return fmt.Errorf("preflight failed: %s", strings.Join(fatal, "; "))
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "stagewrightd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
