package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidateInMonitorMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Signal.SnipeThreshold = 1.5
	cfg.Ladder.OrderType = "FOK"
	cfg.Wallet.APIKey = "only-key"
	cfg.Wallet.PrivateKey = "0xabc"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"snipe_threshold", "order_type", "api_passphrase"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_TradeNeedsKey(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "private_key") {
		t.Errorf("Validate() error = %v, want missing key", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polysnipe.toml")
	body := `
mode = "monitor"

[signal]
snipe_threshold = 0.97

[ladder]
levels = 3
sweep_lead = "45s"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POLYSNIPE_LADDER_LEVELS", "7")
	t.Setenv("POLYSNIPE_NOTIFY_EVENTS", "pnl, ,exposure")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != "monitor" || cfg.Signal.SnipeThreshold != 0.97 {
		t.Errorf("file values not applied: mode=%q threshold=%v", cfg.Mode, cfg.Signal.SnipeThreshold)
	}
	if cfg.Ladder.SweepLead.Duration != 45*time.Second {
		t.Errorf("sweep_lead = %v", cfg.Ladder.SweepLead.Duration)
	}
	if cfg.Ladder.Levels != 7 {
		t.Errorf("levels = %d, want env override 7", cfg.Ladder.Levels)
	}
	if len(cfg.Notify.Events) != 2 || cfg.Notify.Events[1] != "exposure" {
		t.Errorf("events = %v", cfg.Notify.Events)
	}
	if cfg.Markets.Window.Duration != 15*time.Minute {
		t.Errorf("unset window lost its default: %v", cfg.Markets.Window.Duration)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Server.Token = "tok"
	r := cfg.Redacted()
	if r.Wallet.PrivateKey != redacted || r.Server.Token != redacted {
		t.Errorf("secrets not redacted: %+v %+v", r.Wallet, r.Server)
	}
	if r.Postgres.Password != "" {
		t.Errorf("empty secret became %q", r.Postgres.Password)
	}
	r.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Error("Redacted() shares the events slice")
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Error("Redacted() modified the original")
	}
}
