package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TBC_API_KEY", "")
	t.Setenv("TBC_TIMEOUT", "")
	t.Setenv("TOLLGATE_ADDR", "")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Addr != ":3001" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.GatewayTimeout != 15*time.Second {
		t.Errorf("GatewayTimeout = %v", cfg.GatewayTimeout)
	}
	if cfg.SweepSchedule != "@every 1m" {
		t.Errorf("SweepSchedule = %q", cfg.SweepSchedule)
	}
	if cfg.DatabaseDriverName() != driverMemory || cfg.DatabasePoolSize != 10 {
		t.Errorf("database = %q pool %d", cfg.DatabaseDriverName(), cfg.DatabasePoolSize)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TBC_API_KEY", "key")
	t.Setenv("TBC_CLIENT_ID", "id")
	t.Setenv("TBC_CLIENT_SECRET", "secret")
	t.Setenv("WEB_BASE_URL", "https://app.example.ge")
	t.Setenv("TBC_TIMEOUT", "5s")
	t.Setenv("ALLOW_MOCK_BILLING", "true")
	t.Setenv("TBC_CALLBACK_ALLOWED_IPS", "203.0.113.7, 198.51.100.0/24,,")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DATABASE_URL", "postgres://tollgate@localhost:5432/tollgate")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GatewayTimeout != 5*time.Second {
		t.Errorf("GatewayTimeout = %v", cfg.GatewayTimeout)
	}
	if !cfg.AllowMockBilling {
		t.Error("AllowMockBilling should be true")
	}
	ips := cfg.AllowedIPs()
	if len(ips) != 2 || ips[0] != "203.0.113.7" || ips[1] != "198.51.100.0/24" {
		t.Errorf("AllowedIPs = %v", ips)
	}
	if p := cfg.Proxies(); len(p) != 1 || p[0] != "10.0.0.0/8" {
		t.Errorf("Proxies = %v", p)
	}
	if cfg.DatabaseDriverName() != driverPostgres {
		t.Errorf("driver = %q", cfg.DatabaseDriverName())
	}
}

func TestLoadConfigRefusesMemoryStoreWithGateway(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TBC_API_KEY", "key")
	t.Setenv("TBC_CLIENT_ID", "id")
	t.Setenv("TBC_CLIENT_SECRET", "secret")
	t.Setenv("WEB_BASE_URL", "https://app.example.ge")
	t.Setenv("DATABASE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}

	t.Setenv("DATABASE_DRIVER", "sqlite")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("sqlite without DATABASE_URL should fail")
	}

	t.Setenv("DATABASE_DRIVER", "oracle")
	t.Setenv("DATABASE_URL", "x")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestDatabaseDriverInference(t *testing.T) {
	cases := map[string]string{
		"":                                driverMemory,
		"postgres://u@h/db":               driverPostgres,
		"postgresql://u@h/db":             driverPostgres,
		"mongodb://h:27017/tollgate":      driverMongo,
		"mongodb+srv://cluster/tollgate":  driverMongo,
		"/var/lib/tollgate/tollgate.db":   driverSQLite,
		"file:tollgate.db?_pragma=foo(1)": driverSQLite,
	}
	for url, want := range cases {
		c := &Config{DatabaseURL: url}
		if got := c.DatabaseDriverName(); got != want {
			t.Errorf("%q -> %q, want %q", url, got, want)
		}
	}
	c := &Config{DatabaseDriver: "SQLite", DatabaseURL: "postgres://x"}
	if got := c.DatabaseDriverName(); got != driverSQLite {
		t.Errorf("explicit driver -> %q", got)
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := &Config{DatabaseDriver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "tollgate.db")}
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestLoadConfigRequiresTBCCredentials(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TBC_API_KEY", "key")
	t.Setenv("TBC_CLIENT_ID", "")
	t.Setenv("TBC_CLIENT_SECRET", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected missing credentials error")
	}
	if !strings.Contains(err.Error(), "TBC_CLIENT_ID") {
		t.Fatalf("expected error to mention TBC_CLIENT_ID, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("debug"); got.String() != "DEBUG" {
		t.Errorf("debug -> %v", got)
	}
	if got := parseLevel("nonsense"); got.String() != "INFO" {
		t.Errorf("nonsense -> %v", got)
	}
}
