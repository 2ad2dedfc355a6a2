package secrets_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/Strob0t/toolgate/internal/config"
	"github.com/Strob0t/toolgate/internal/secrets"
)

func TestNewVault_InitialLoad(t *testing.T) {
	v, err := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{secrets.AdminKey: "adm", secrets.WebhookSecret: "hook"}, nil
	})
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}

	if got := v.Get(secrets.AdminKey); got != "adm" {
		t.Fatalf("expected 'adm', got %q", got)
	}
	if got := v.Get(secrets.WebhookSecret); got != "hook" {
		t.Fatalf("expected 'hook', got %q", got)
	}
	if got := v.Get("missing"); got != "" {
		t.Fatalf("expected empty string for missing key, got %q", got)
	}
}

func TestNewVault_LoaderError(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("config unreadable")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVault_GetterSeesRotation(t *testing.T) {
	current := "old"
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{secrets.AdminKey: current}, nil
	})
	get := v.Getter(secrets.AdminKey)

	if got := get(); got != "old" {
		t.Fatalf("expected 'old', got %q", got)
	}

	current = "new"
	if err := v.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := get(); got != "new" {
		t.Fatalf("expected 'new' after reload, got %q", got)
	}
}

func TestVault_ReloadErrorPreservesValues(t *testing.T) {
	callCount := 0
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		callCount++
		if callCount == 1 {
			return map[string]string{"KEY": "original"}, nil
		}
		return nil, errors.New("config unreadable")
	})

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("KEY"); got != "original" {
		t.Fatalf("expected 'original' after failed reload, got %q", got)
	}
}

func TestVault_ConcurrentAccess(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"K": "V"}, nil
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestConfigLoader(t *testing.T) {
	load := func() (*config.Config, error) {
		cfg := config.Defaults()
		cfg.Server.AdminKey = "adm"
		return &cfg, nil
	}

	vals, err := secrets.ConfigLoader(load)()
	if err != nil {
		t.Fatalf("ConfigLoader failed: %v", err)
	}
	if vals[secrets.AdminKey] != "adm" {
		t.Errorf("admin key = %q, want adm", vals[secrets.AdminKey])
	}
	if _, ok := vals[secrets.WebhookSecret]; ok {
		t.Error("empty webhook secret should be omitted")
	}
}

func TestConfigLoader_FromEnv(t *testing.T) {
	t.Setenv("TOOLGATE_WEBHOOK_SECRET", "from-env")

	v, err := secrets.NewVault(secrets.ConfigLoader(config.Load))
	if err != nil {
		t.Fatalf("NewVault failed: %v", err)
	}
	if got := v.Get(secrets.WebhookSecret); got != "from-env" {
		t.Fatalf("webhook secret = %q, want from-env", got)
	}
}
