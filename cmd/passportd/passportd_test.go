package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/socialpassport/passport-registry/pkg/config"
)

func TestCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Timeout: time.Second}
	if err := checkHealth(client, srv.URL+"/healthz"); err != nil {
		t.Errorf("healthz: %v", err)
	}
	err := checkHealth(client, srv.URL+"/readyz")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("readyz: expected 503 error, got %v", err)
	}
	if err := checkHealth(client, "http://127.0.0.1:1/unreachable"); err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)
	if strings.TrimSpace(buf.String()) != version {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestLoadConfigMergesFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passportd.yaml")
	yaml := "server:\n  listen: \":9000\"\ndatabase:\n  type: sqlite\n  dsn: \":memory:\"\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	oldPath := configPath
	configPath = path
	defer func() { configPath = oldPath }()

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("listen", "", "")
	cmd.Flags().String("log-level", "", "")
	if err := cmd.Flags().Parse([]string{"--listen", ":9100"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(cmd, config.New())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != ":9100" {
		t.Errorf("listen = %q, want flag value", cfg.Server.Listen)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DSN != ":memory:" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want file value", cfg.Log.Level)
	}
}

func TestOpenDatabaseWithoutDSN(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Database.DSN = ""
	logger, _ := config.NewLogger(cfg.Log, &bytes.Buffer{})
	if got := openDatabase(cfg, nil, logger); got != nil {
		t.Error("expected nil database without a DSN")
	}
}
