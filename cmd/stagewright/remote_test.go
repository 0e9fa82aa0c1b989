package main

import (
	"context"
	"net"
	"testing"

	"stagewright/internal/api"
	"stagewright/internal/daemon"
	"stagewright/internal/engine"
	"stagewright/internal/logging"
	"stagewright/internal/testsupport"
)

func freeBind(t *testing.T) testsupport.ConfigOption {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return testsupport.WithAPIBind(addr)
}

func startDaemon(t *testing.T, env *cliTestEnv) {
	t.Helper()
	eng, err := engine.Open(context.Background(), env.cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	d, err := daemon.New(env.cfg, eng.Store, eng.Coordinator, eng.NewReconciler(), logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
}

func TestRemoteModeUsesDaemon(t *testing.T) {
	env := setupCLITestEnv(t,
		testsupport.WithWorkflow(testsupport.ScenarioWorkflow),
		testsupport.WithAPIToken("secret"),
		testsupport.WithOrganizations("acme"),
		freeBind(t),
	)
	mustRunCLI(t, env, "project", "add", "PRJ-1", "--stage", "s1")
	startDaemon(t, env)

	out := mustRunCLI(t, env, "--remote", "transition", "PRJ-1", "s2")
	requireContains(t, out, "PRJ-1 moved s1 -> Quoted (s2)")

	p := decodeJSON[api.Project](t, mustRunCLI(t, env, "--remote", "--json", "project", "show", "PRJ-1"))
	if p.CurrentStage != "s2" || p.Version != 2 {
		t.Fatalf("unexpected remote project %+v", p)
	}

	out = mustRunCLI(t, env, "status")
	requireContains(t, out, "running (pid")
	requireContains(t, out, "acme")

	requireContains(t, mustRunCLI(t, env, "test-notify"), "ntfy topic not configured")
	requireContains(t, mustRunCLI(t, env, "daemon", "status"), "Daemon running")
}

func TestRemoteModeWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithWorkflow(testsupport.ScenarioWorkflow), freeBind(t))

	_, _, err := runCLI(t, env, "--remote", "stages")
	if err == nil {
		t.Fatal("expected remote call without a daemon to fail")
	}
	requireContains(t, err.Error(), "stagewright daemon start")

	out := mustRunCLI(t, env, "status")
	requireContains(t, out, "not running")
	requireContains(t, out, "Store (sqlite)")
	requireContains(t, out, "[OK] Reachable")

	requireContains(t, mustRunCLI(t, env, "daemon", "status"), "Daemon is not running")
	requireContains(t, mustRunCLI(t, env, "daemon", "stop"), "Daemon is not running")
}
