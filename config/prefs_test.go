package config

import (
	"path/filepath"
	"testing"
)

func TestLoadPreferencesToleratesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	prefs, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("load preferences: %v", err)
	}
	if prefs.Values.LastPackage != "" {
		t.Fatalf("expected empty defaults, got %q", prefs.Values.LastPackage)
	}
	if prefs.Values.Collapsed == nil {
		t.Fatal("expected non-nil collapsed map")
	}
}

func TestPreferencesUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	prefs, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("load preferences: %v", err)
	}

	err = prefs.Update(func(v *PrefValues) {
		v.LastPackage = "com.example.app"
		v.LastDatabase = "notes.db"
		v.LastQuery = "SELECT * FROM notes;"
		v.Collapsed["schema"] = true
	})
	if err != nil {
		t.Fatalf("update preferences: %v", err)
	}

	reloaded, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("reload preferences: %v", err)
	}
	if reloaded.Values.LastPackage != "com.example.app" {
		t.Fatalf("expected persisted package, got %q", reloaded.Values.LastPackage)
	}
	if reloaded.Values.LastQuery != "SELECT * FROM notes;" {
		t.Fatalf("expected persisted query, got %q", reloaded.Values.LastQuery)
	}
	if !reloaded.Values.Collapsed["schema"] {
		t.Fatal("expected persisted collapse flag")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.toml")
	prefs, err := LoadPreferences(path)
	if err != nil {
		t.Fatalf("load preferences: %v", err)
	}
	err = prefs.Update(func(v *PrefValues) {
		v.Collapsed["schema"] = true
	})
	if err != nil {
		t.Fatalf("update preferences: %v", err)
	}

	snap := prefs.Snapshot()
	snap.Collapsed["schema"] = false
	snap.Collapsed["extra"] = true

	if !prefs.Snapshot().Collapsed["schema"] {
		t.Fatal("mutating a snapshot changed the stored flags")
	}
	if _, ok := prefs.Snapshot().Collapsed["extra"]; ok {
		t.Fatal("mutating a snapshot added a stored flag")
	}
}
