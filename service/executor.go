package service

import (
	"context"
	"errors"
	"strings"

	"droidsql/adb"
	"droidsql/models"
)

// Runner runs a single shell command against the active device and returns
// its output with trailing line breaks trimmed. Commands are already escaped
// by callers.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Execute dispatches a command to whichever transport the session carries.
//
// The bridge strategy pipes the command through a per-invocation adb shell
// subprocess; the direct strategy sends one shell service over the
// authenticated wire session and decodes the byte payload here, at the
// session boundary, so every layer above sees a single text type.
func Execute(ctx context.Context, s *Session, command string) (string, error) {
	if s == nil || !s.ready {
		return "", ErrNotConnected
	}

	switch s.Transport {
	case models.TransportBridge:
		out, err := s.bridge.Shell(ctx, s.explicitSerial, command)
		if err != nil {
			return "", wrapExecution(err)
		}
		return out, nil
	case models.TransportDirect:
		raw, err := s.direct.Shell(ctx, s.explicitSerial, command)
		if err != nil {
			return "", wrapExecution(err)
		}
		return strings.TrimRight(string(raw), "\r\n"), nil
	default:
		return "", ErrNotConnected
	}
}

func wrapExecution(err error) error {
	if errors.Is(err, adb.ErrTimeout) {
		return &ExecutionError{Reason: ReasonTimeout, Err: err}
	}
	return &ExecutionError{Reason: ReasonNoOutput, Err: err}
}
