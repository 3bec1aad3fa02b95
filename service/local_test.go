package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePathsIncludePackageAndSerial(t *testing.T) {
	l := NewLocalEngine(nil, &fakeRunner{}, "192.168.1.20:5555", "/tmp/cache")
	pkg := NewPackageContext("com.example.app", "notes.db")

	assert.Equal(t, filepath.Join("/tmp/cache", "com.example.app_notes.db"), l.cachePath(pkg))
	// Serial punctuation is flattened so the metadata name stays portable.
	assert.Equal(t,
		filepath.Join("/tmp/cache", "com.example.app_notes.db_192_168_1_20_5555.json"),
		l.metadataPath(pkg))
}

func TestRemoteMtimePrefersStat(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		return "1700000000\n", nil
	}}
	l := NewLocalEngine(nil, runner, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")

	assert.Equal(t, int64(1700000000), l.remoteMtime(context.Background(), pkg, "databases/notes.db"))
}

func TestRemoteMtimeFallsBackToListingHash(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		if command == "run-as com.example.app stat -c %Y databases/notes.db" {
			return "", errors.New("stat: unrecognized option")
		}
		return "-rw------- 1 u0_a123 u0_a123 16384 2023-11-14 12:00 notes.db", nil
	}}
	l := NewLocalEngine(nil, runner, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")

	first := l.remoteMtime(context.Background(), pkg, "databases/notes.db")
	assert.NotZero(t, first)
	// The hash is stable for identical listings.
	assert.Equal(t, first, l.remoteMtime(context.Background(), pkg, "databases/notes.db"))
}

func TestRemoteMtimeUnverifiable(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		return "", errors.New("not found")
	}}
	l := NewLocalEngine(nil, runner, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")

	assert.Zero(t, l.remoteMtime(context.Background(), pkg, "databases/notes.db"))
}

func writeCache(t *testing.T, l *LocalEngine, pkg *PackageContext, mtime int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(l.cacheDir, 0o755))
	require.NoError(t, os.WriteFile(l.cachePath(pkg), []byte("sqlite payload"), 0o644))
	data, err := json.Marshal(cacheMetadata{Mtime: mtime, DBPath: "databases/notes.db", Package: pkg.Package()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(l.metadataPath(pkg), data, 0o644))
}

func TestValidCacheMatchesRemoteMtime(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		return "1700000000", nil
	}}
	l := NewLocalEngine(nil, runner, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")
	writeCache(t, l, pkg, 1700000000)

	cached, ok := l.validCache(context.Background(), pkg, "databases/notes.db")
	require.True(t, ok)
	assert.Equal(t, l.cachePath(pkg), cached)
}

func TestValidCacheStaleOnMtimeChange(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		return "1700009999", nil
	}}
	l := NewLocalEngine(nil, runner, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")
	writeCache(t, l, pkg, 1700000000)

	_, ok := l.validCache(context.Background(), pkg, "databases/notes.db")
	assert.False(t, ok)
}

func TestValidCacheUsedWhenFreshnessUnverifiable(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		return "", errors.New("not found")
	}}
	l := NewLocalEngine(nil, runner, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")
	writeCache(t, l, pkg, 1700000000)

	_, ok := l.validCache(context.Background(), pkg, "databases/notes.db")
	assert.True(t, ok)
}

func TestClearCacheRemovesCopyCompanionsAndMetadata(t *testing.T) {
	l := NewLocalEngine(nil, &fakeRunner{}, "", t.TempDir())
	pkg := NewPackageContext("com.example.app", "notes.db")
	writeCache(t, l, pkg, 1)
	require.NoError(t, os.WriteFile(l.cachePath(pkg)+"-wal", []byte("wal"), 0o644))

	require.NoError(t, l.ClearCache(pkg))
	_, err := os.Stat(l.cachePath(pkg))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(l.cachePath(pkg) + "-wal")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(l.metadataPath(pkg))
	assert.True(t, os.IsNotExist(err))

	// Clearing an already-empty cache is not an error.
	require.NoError(t, l.ClearCache(pkg))
}
