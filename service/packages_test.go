package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDebuggableFiltersAndSorts(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		switch {
		case command == "pm list packages -3":
			return "package:com.zeta.app\npackage:com.release.only\npackage:com.alpha.app\nwarning: noise line\n", nil
		case strings.Contains(command, "run-as com.release.only"):
			return "", errors.New("run-as: package not debuggable: com.release.only")
		case strings.HasPrefix(command, "run-as "):
			return "probe-ok", nil
		default:
			return "", errors.New("unexpected command: " + command)
		}
	}}
	lister := NewPackageLister(runner)

	packages, err := lister.ListDebuggable(context.Background())
	require.NoError(t, err)

	names := make([]string, len(packages))
	for i, p := range packages {
		names[i] = p.Name
	}
	// The non-debuggable package drops out silently, the rest sort by name.
	assert.Equal(t, []string{"com.alpha.app", "com.zeta.app"}, names)
}

func TestListDebuggablePropagatesListingFailure(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		return "", errors.New("pm: not found")
	}}
	lister := NewPackageLister(runner)

	_, err := lister.ListDebuggable(context.Background())
	require.Error(t, err)
}

func TestListDebuggableProbeMustEcho(t *testing.T) {
	runner := &fakeRunner{respond: func(command string) (string, error) {
		if command == "pm list packages -3" {
			return "package:com.example.app", nil
		}
		// run-as succeeds but prints something unexpected.
		return "run-as: exec failed", nil
	}}
	lister := NewPackageLister(runner)

	packages, err := lister.ListDebuggable(context.Background())
	require.NoError(t, err)
	assert.Empty(t, packages)
}
