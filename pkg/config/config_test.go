package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("CHECKOUT_DB_DSN", "postgres://localhost/checkout_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.App.Port != "8080" {
		t.Fatalf("unexpected port default: %s", cfg.App.Port)
	}
	if cfg.Cart.AuthenticatedTTL != 24*time.Hour {
		t.Fatalf("unexpected authenticated cart TTL: %s", cfg.Cart.AuthenticatedTTL)
	}
	if cfg.Checkout.TaxRateBps != 800 {
		t.Fatalf("unexpected tax rate: %d", cfg.Checkout.TaxRateBps)
	}
	if cfg.Checkout.ReservationTTL() != 30*time.Minute {
		t.Fatalf("unexpected reservation TTL: %s", cfg.Checkout.ReservationTTL())
	}
	if !cfg.App.IsDev() {
		t.Fatal("default env should be dev")
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("CHECKOUT_DB_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing DSN error")
	}
}

func TestSquareEnvironmentNormalized(t *testing.T) {
	cfg := SquareConfig{Env: "  SandBox "}
	if cfg.Environment() != "sandbox" {
		t.Fatalf("unexpected environment: %q", cfg.Environment())
	}
}
