package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/credential"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.KeepAlive != 60*time.Second {
		t.Errorf("keepalive = %v", cfg.MQTT.KeepAlive)
	}
	if cfg.Ingest.Filter != "#" || cfg.Ingest.Workers != 1 {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Dispatch.MaxRetries != 0 {
		t.Errorf("max_retries = %d, want 0", cfg.Dispatch.MaxRetries)
	}
	if cfg.Encoding() != credential.EncodingDecimal {
		t.Errorf("encoding = %q", cfg.Encoding())
	}
	if !cfg.Store().Migrate {
		t.Error("sqlite should migrate by default")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gatekeeper.yaml")
	yaml := `
env: production
mqtt:
  broker: tcp://broker.local:1883
credential:
  encoding: hex
dispatch:
  max_retries: 2
  retry_base: 250ms
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEKEEPER_MQTT_BROKER", "tcp://override:1883")
	t.Setenv("GATEKEEPER_INGEST_WORKERS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("env = %q", cfg.Env)
	}
	if cfg.MQTT.Broker != "tcp://override:1883" {
		t.Errorf("env override not applied: %q", cfg.MQTT.Broker)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("workers = %d", cfg.Ingest.Workers)
	}
	if cfg.Encoding() != credential.EncodingHex {
		t.Errorf("encoding = %q", cfg.Encoding())
	}
	if cfg.Dispatch.MaxRetries != 2 || cfg.Dispatch.RetryBase != 250*time.Millisecond {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg.DB.Driver = "pgx"
	cfg.DB.DSN = ""
	cfg.Ingest.Workers = 0
	cfg.Credential.Encoding = "base64"
	cfg.Policy.Timezone = "Mars/Olympus"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"db.dsn", "ingest.workers", "credential.encoding", "policy.timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestStore_PostgresNeverMigrates(t *testing.T) {
	cfg := Config{Env: "production", DB: DBConfig{Driver: "pgx", DSN: "postgres://x", Migrate: true}}
	if cfg.Store().Migrate {
		t.Error("migrations are sqlite-only")
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
