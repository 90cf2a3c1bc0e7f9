package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gregtusar/assetrouter/pkg/secrets"
	"github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithSecrets(writeConfig(t, "server:\n  port: 8080\n"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Rates.Pivot != "USD" || cfg.Rates.TTL != 5*time.Minute || cfg.Rates.FetchTimeout != 5*time.Second {
		t.Errorf("unexpected rate defaults %+v", cfg.Rates)
	}
	if cfg.Database.Driver != "memory" || cfg.Bridge.Settlement != "instant" || cfg.Bridge.DefaultCrypto != "USDC" {
		t.Errorf("unexpected defaults: db=%s settlement=%s crypto=%s", cfg.Database.Driver, cfg.Bridge.Settlement, cfg.Bridge.DefaultCrypto)
	}
	if cfg.Routing.MaxParallel != 8 || cfg.Routing.AssetTimeout != 2*time.Second {
		t.Errorf("unexpected routing defaults %+v", cfg.Routing)
	}
	if cfg.Collateral.LTVCeiling != "0.5" {
		t.Errorf("unexpected ltv ceiling %q", cfg.Collateral.LTVCeiling)
	}
	if len(cfg.Rates.Static) == 0 {
		t.Error("expected a default static rate table")
	}
	if cfg.GCP.SecretNames.CoinbasePrivateKey != secrets.DefaultSecretNames().CoinbasePrivateKey {
		t.Errorf("unexpected secret name default %q", cfg.GCP.SecretNames.CoinbasePrivateKey)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
rates:
  pivot: EUR
  ttl: 30s
  sources: [static, coinbase]
routing:
  max_parallel: 3
bridge:
  settlement: deferred
`)
	t.Setenv("ASSETROUTER_LOGGING_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://localhost/assetrouter")

	cfg, err := LoadWithSecrets(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Rates.Pivot != "EUR" || cfg.Rates.TTL != 30*time.Second {
		t.Errorf("file values not applied: %+v %+v", cfg.Server, cfg.Rates)
	}
	if len(cfg.Rates.Sources) != 2 || cfg.Rates.Sources[1] != "coinbase" {
		t.Errorf("unexpected sources %v", cfg.Rates.Sources)
	}
	if cfg.Routing.MaxParallel != 3 || cfg.Bridge.Settlement != "deferred" {
		t.Errorf("unexpected routing/bridge %+v %+v", cfg.Routing, cfg.Bridge)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Database.URL != "postgres://localhost/assetrouter" {
		t.Errorf("expected DATABASE_URL override, got %q", cfg.Database.URL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"driver":     "database:\n  driver: mongo\n",
		"postgres":   "database:\n  driver: postgres\n",
		"settlement": "bridge:\n  settlement: eventually\n",
		"source":     "rates:\n  sources: [oracle-of-delphi]\n",
		"jitter":     "rates:\n  simulate_jitter: 1.5\n",
		"jwt":        "coinbase:\n  auth_type: jwt\n",
		"cache":      "rates:\n  cache: disk\n",
		"redis":      "rates:\n  cache: redis\nredis:\n  addrs: []\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadWithSecrets(writeConfig(t, body), nil); err == nil {
				t.Errorf("expected %s config to be rejected", name)
			}
		})
	}
}

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecretWithDefault(_ context.Context, name, def string) string {
	if v, ok := f[name]; ok {
		return v
	}
	return def
}

func TestLoad_SecretsFillOnlyEmptyFields(t *testing.T) {
	path := writeConfig(t, `
gcp:
  project_id: demo
  use_secrets: true
redis:
  password: from-file
`)
	store := fakeSecrets{
		"assetrouter-coinbase-api-key-name": "organizations/o/apiKeys/k",
		"assetrouter-coinbase-private-key":  "pem",
		"assetrouter-redis-password":        "from-secrets",
	}
	closed := false
	factory := func(context.Context, GCPConfig, *logrus.Logger) (secrets.Getter, func() error, error) {
		return store, func() error { closed = true; return nil }, nil
	}

	cfg, err := LoadWithSecrets(path, factory)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Coinbase.APIKeyName != "organizations/o/apiKeys/k" || cfg.Coinbase.PrivateKeyPEM != "pem" {
		t.Errorf("coinbase secrets not loaded: %+v", cfg.Coinbase)
	}
	if cfg.Redis.Password != "from-file" {
		t.Errorf("secret overwrote configured value: %q", cfg.Redis.Password)
	}
	if !closed {
		t.Error("secret store was not closed")
	}
}
