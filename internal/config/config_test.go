package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultEconomyIsValid(t *testing.T) {
	if err := DefaultEconomy().Validate(); err != nil {
		t.Fatalf("default economy invalid: %v", err)
	}
}

func TestLoadEconomyFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.yaml")
	body := "selling_fee: 9.5\nregime_cooldown: 3h\ndecay_threshold: 20\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	econ, err := LoadEconomyFile(path, DefaultEconomy())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if econ.SellingFee != 9.5 || econ.RegimeCooldown != 3*time.Hour || econ.DecayThreshold != 20 {
		t.Fatalf("overrides not applied: %+v", econ)
	}
	if econ.HistoryCap != 175 || len(econ.Regimes) != 5 {
		t.Fatalf("untouched keys lost their defaults: cap=%d regimes=%d", econ.HistoryCap, len(econ.Regimes))
	}

	if _, err := LoadEconomyFile(filepath.Join(t.TempDir(), "missing.yaml"), DefaultEconomy()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestEconomyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Economy)
	}{
		{"inverted price range", func(e *Economy) { e.NewStockMaxPrice = e.NewStockMinPrice - 1 }},
		{"negative impact", func(e *Economy) { e.BuyImpactMin = -1 }},
		{"short history", func(e *Economy) { e.HistoryCap = 1 }},
		{"no regimes", func(e *Economy) { e.Regimes = nil }},
		{"zero weights", func(e *Economy) {
			for i := range e.Regimes {
				e.Regimes[i].Weight = 0
			}
		}},
		{"full decay", func(e *Economy) { e.DecayPercent = 100 }},
		{"zero floor", func(e *Economy) { e.DecayFloor = 0 }},
		{"negative threshold", func(e *Economy) { e.DecayThreshold = -1 }},
		{"negative buffer", func(e *Economy) { e.DecayBuffer = -3 }},
		{"capitalized regime", func(e *Economy) { e.Regimes[0].Name = "Bear" }},
		{"unknown regime", func(e *Economy) { e.Regimes[0].Name = "sideways" }},
	}
	for _, tc := range tests {
		e := DefaultEconomy()
		tc.mutate(&e)
		if err := e.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadServerFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CH3FX_STORE", "Memory")
	t.Setenv("CH3FX_TIMEZONE", "UTC")
	t.Setenv("CH3FX_ADMIN_USER_IDS", " 1, 2 ,,3")
	t.Setenv("CH3FX_RUN_ONCE", "true")
	t.Setenv("CH3FX_REGIME_COOLDOWN", "90m")

	cfg, err := LoadServerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.StoreBackend != "memory" || !cfg.RunOnce {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.AdminUserIDs) != 3 || cfg.AdminUserIDs[1] != "2" {
		t.Fatalf("admin list=%v", cfg.AdminUserIDs)
	}
	if cfg.Economy.RegimeCooldown != 90*time.Minute {
		t.Fatalf("cooldown=%s", cfg.Economy.RegimeCooldown)
	}
}

func TestLoadServerFromEnvRejectsBadBackends(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"CH3FX_STORE": "mongo"}},
		{"postgres without url", map[string]string{"CH3FX_STORE": "postgres", "DATABASE_URL": ""}},
		{"redis without url", map[string]string{"CH3FX_STORE": "redis", "REDIS_URL": ""}},
		{"bad timezone", map[string]string{"CH3FX_STORE": "memory", "CH3FX_TIMEZONE": "Mars/Olympus"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadServerFromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("STK_API_BASE_URL", "http://fx.local:8080/")
	t.Setenv("STK_USER_ID", " 42 ")
	cfg := LoadCLIFromEnv()
	if cfg.APIBaseURL != "http://fx.local:8080" || cfg.UserID != "42" {
		t.Fatalf("unexpected cli config %+v", cfg)
	}
}
