package config

import (
	"strings"
	"testing"
	"time"

	"github.com/freshcart-next/internal/models"

	"github.com/spf13/viper"
)

func TestDecodeDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode defaults failed: %v", err)
	}
	pricingCfg, err := cfg.Cart.ToPricingConfig()
	if err != nil {
		t.Fatalf("pricing config failed: %v", err)
	}
	if !pricingCfg.FreeDeliveryThreshold.Equal(models.MustMoney("50.00")) || pricingCfg.Currency != "GBP" {
		t.Fatalf("unexpected pricing config: %+v", pricingCfg)
	}
	if cfg.Queue.Queues["default"] != 10 {
		t.Fatalf("queue defaults missing: %+v", cfg.Queue.Queues)
	}
}

func TestDecodeYAML(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	raw := `
cart:
  free_delivery_threshold: "100.00"
  standard_delivery_charge: 4.99
  express_delivery_charge: "9.99"
  vat_rate: 0.05
  default_currency: gbp
sync:
  debounce_ms: 250
  max_retries: 3
  base_backoff_ms: 100
  max_backoff_ms: 2000
  stale_after_seconds: 60
`
	if err := v.ReadConfig(strings.NewReader(raw)); err != nil {
		t.Fatalf("read config failed: %v", err)
	}
	cfg, err := Decode(v)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	pricingCfg, err := cfg.Cart.ToPricingConfig()
	if err != nil {
		t.Fatalf("pricing config failed: %v", err)
	}
	if !pricingCfg.StandardDeliveryCharge.Equal(models.MustMoney("4.99")) || pricingCfg.VATRate.String() != "0.05" || pricingCfg.Currency != "GBP" {
		t.Fatalf("unexpected pricing config: %+v", pricingCfg)
	}

	syncCfg := cfg.Sync.ToReconcilerConfig()
	if syncCfg.Debounce != 250*time.Millisecond || syncCfg.MaxRetries != 3 || syncCfg.MaxBackoff != 2*time.Second || syncCfg.StaleAfter != time.Minute {
		t.Fatalf("unexpected reconciler config: %+v", syncCfg)
	}
}

func TestDecodeRejectsInvalidCart(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("cart.vat_rate", "1.5")
	if _, err := Decode(v); err == nil {
		t.Fatalf("expected invalid vat rate to fail")
	}

	v.Set("cart.vat_rate", "0.2")
	v.Set("cart.standard_delivery_charge", "abc")
	if _, err := Decode(v); err == nil {
		t.Fatalf("expected malformed amount to fail")
	}
}

func TestMutationLogRetentionFallback(t *testing.T) {
	if got := (SyncConfig{}).MutationLogRetention(); got != 7*24*time.Hour {
		t.Fatalf("unexpected fallback retention %s", got)
	}
}
