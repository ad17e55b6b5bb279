package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0644); err != nil {
		t.Fatalf("error writing test config: %v", err)
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := writeConfig(t, "clients:\n  - client1\n  - client2\n")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.Server.BindAddress != "0.0.0.0" || cfg.Server.Port != 43208 {
		t.Errorf("default address want = 0.0.0.0:43208, got = %s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	}
	if cfg.Connection.MTU != 64 {
		t.Errorf("default mtu want = 64, got = %d", cfg.Connection.MTU)
	}
	if !cfg.Connection.KeepAlive || cfg.Connection.KeepAliveInterval != 200*time.Millisecond {
		t.Errorf("default keep-alive want = true/200ms, got = %v/%v", cfg.Connection.KeepAlive, cfg.Connection.KeepAliveInterval)
	}
	if cfg.Server.AcceptPollInterval != 100*time.Millisecond {
		t.Errorf("default accept poll interval want = 100ms, got = %v", cfg.Server.AcceptPollInterval)
	}
	if diff := cmp.Diff([]string{"client1", "client2"}, cfg.Clients); diff != "" {
		t.Errorf("clients did not match expected; diff:\n%s", diff)
	}
	if cfg.HistoryEnabled() {
		t.Error("HistoryEnabled() = true without a database engine")
	}
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	dir := writeConfig(t, `
log_level: debug
server:
  name: pocketcard
  port: 5000
  backlog: 2
connection:
  mtu: 512
database:
  engine: sqlite
  filename: history.db
`)
	t.Setenv("RENDEZVOUS_SERVER_PORT", "6000")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.Server.Name != "pocketcard" || cfg.Server.Backlog != 2 || cfg.Connection.MTU != 512 {
		t.Errorf("file values were not loaded: %+v", cfg.Server)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("environment override want = 6000, got = %d", cfg.Server.Port)
	}
	if !cfg.HistoryEnabled() || cfg.Database.Filename != "history.db" {
		t.Errorf("database config was not loaded: %+v", cfg.Database)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Error("LoadConfig() succeeded without a config file")
	}
}

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Engine = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "testdb"
	cfg.Database.Username = "testuser"
	cfg.Database.Password = "testpassword"
	cfg.Database.SSLMode = "disable"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode=disable"
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}
