package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidsql/adb"
	"droidsql/models"
)

func TestExecuteNilOrUnreadySession(t *testing.T) {
	_, err := Execute(context.Background(), nil, "echo hi")
	require.ErrorIs(t, err, ErrNotConnected)

	stale := &Session{Transport: models.TransportBridge, bridge: &fakeBridge{}}
	_, err = Execute(context.Background(), stale, "echo hi")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestExecuteBridgePassesOutputThrough(t *testing.T) {
	bridge := &fakeBridge{shell: func(serial, command string) (string, error) {
		return "line1\nline2", nil
	}}
	s := &Session{Transport: models.TransportBridge, bridge: bridge, ready: true}

	out, err := Execute(context.Background(), s, "cat file")
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", out)
}

func TestExecuteDirectDecodesAndTrims(t *testing.T) {
	direct := &fakeDirect{shell: func(serial, command string) ([]byte, error) {
		return []byte("value\r\n\r\n"), nil
	}}
	s := &Session{Transport: models.TransportDirect, direct: direct, ready: true}

	out, err := Execute(context.Background(), s, "echo value")
	require.NoError(t, err)
	assert.Equal(t, "value", out)
}

func TestExecuteWrapsTimeout(t *testing.T) {
	bridge := &fakeBridge{shell: func(serial, command string) (string, error) {
		return "", fmt.Errorf("shell: %w", adb.ErrTimeout)
	}}
	s := &Session{Transport: models.TransportBridge, bridge: bridge, ready: true}

	_, err := Execute(context.Background(), s, "sleep 60")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ReasonTimeout, execErr.Reason)
	assert.ErrorIs(t, err, adb.ErrTimeout)
}

func TestExecuteWrapsSilentFailure(t *testing.T) {
	bridge := &fakeBridge{shell: func(serial, command string) (string, error) {
		return "", errors.New("exit status 1 with no output")
	}}
	s := &Session{Transport: models.TransportBridge, bridge: bridge, ready: true}

	_, err := Execute(context.Background(), s, "false")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ReasonNoOutput, execErr.Reason)
}
