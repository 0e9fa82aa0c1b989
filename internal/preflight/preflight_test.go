package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"stagewright/internal/config"
	"stagewright/internal/testsupport"
)

type pingerStub struct {
	err error
}

func (p pingerStub) Ping(context.Context) error { return p.err }

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckStore(t *testing.T) {
	if r := CheckStore(context.Background(), "store", pingerStub{}); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}
	if r := CheckStore(context.Background(), "store", pingerStub{err: errors.New("connection refused")}); r.Passed {
		t.Fatal("expected failure when ping fails")
	}
	if r := CheckStore(context.Background(), "store", nil); r.Passed {
		t.Fatal("expected failure for nil store")
	}
}

func TestCheckWorkflow(t *testing.T) {
	if r := CheckWorkflow(""); !r.Passed {
		t.Fatalf("built-in workflow should load: %s", r.Detail)
	}
	path := testsupport.WriteWorkflow(t, t.TempDir(), testsupport.ScenarioWorkflow)
	if r := CheckWorkflow(path); !r.Passed {
		t.Fatalf("scenario workflow should load: %s", r.Detail)
	}
	broken := testsupport.WriteWorkflow(t, t.TempDir(), "stages: [")
	if r := CheckWorkflow(broken); r.Passed {
		t.Fatal("expected failure for malformed definition")
	}
}

func TestCheckNtfy_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))
	defer srv.Close()

	result := CheckNtfy(context.Background(), srv.URL+"/stagewright")
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckNtfy_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"healthy":false}`))
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/topic"); result.Passed {
		t.Fatal("expected failure for unhealthy server")
	}
}

func TestCheckNtfy_Disabled(t *testing.T) {
	result := CheckNtfy(context.Background(), "")
	if !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil, nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_MinimalConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Notifications.NtfyTopic = ""

	results := RunAll(context.Background(), &cfg, pingerStub{})
	// data dir, log dir, store, workflow
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_IncludesNtfyWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Notifications.NtfyTopic = "http://127.0.0.1:1/topic"

	results := RunAll(context.Background(), &cfg, pingerStub{})
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "ntfy" {
		t.Fatalf("expected only the ntfy check to fail, got %+v", failed)
	}
}
