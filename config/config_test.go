package config

import (
	"os"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	origHome := userHomeDir
	defer func() { userHomeDir = origHome }()
	tmpHome := t.TempDir()
	userHomeDir = func() (string, error) { return tmpHome, nil }

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Bridge.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Bridge.Port)
	}
	if cfg.ADB.Path != "adb" {
		t.Fatalf("expected adb on PATH by default, got %q", cfg.ADB.Path)
	}
	if cfg.ADB.ServerPort != 5037 {
		t.Fatalf("expected default server port 5037, got %d", cfg.ADB.ServerPort)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	origHome := userHomeDir
	defer func() { userHomeDir = origHome }()
	tmpHome := t.TempDir()
	userHomeDir = func() (string, error) { return tmpHome, nil }

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Bridge.Port = 9090
	cfg.Defaults.Package = "com.example.app"
	if err := cfg.Save(); err != nil {
		t.Fatalf("save config: %v", err)
	}
	if _, err := os.Stat(ConfigPath()); err != nil {
		t.Fatalf("stat config file: %v", err)
	}

	reloaded, err := Load()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.Bridge.Port != 9090 {
		t.Fatalf("expected persisted port, got %d", reloaded.Bridge.Port)
	}
	if reloaded.Defaults.Package != "com.example.app" {
		t.Fatalf("expected persisted package, got %q", reloaded.Defaults.Package)
	}
}

func TestEnvOverrides(t *testing.T) {
	origHome := userHomeDir
	defer func() { userHomeDir = origHome }()
	tmpHome := t.TempDir()
	userHomeDir = func() (string, error) { return tmpHome, nil }

	t.Setenv("DROIDSQL_ADB_PATH", "/opt/platform-tools/adb")
	t.Setenv("DROIDSQL_BRIDGE_PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ADB.Path != "/opt/platform-tools/adb" {
		t.Fatalf("expected env adb path, got %q", cfg.ADB.Path)
	}
	if cfg.Bridge.Port != 9999 {
		t.Fatalf("expected env port, got %d", cfg.Bridge.Port)
	}
}
