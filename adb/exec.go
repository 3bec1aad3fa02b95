package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"droidsql/models"
)

// ShellTimeout caps every subprocess shell invocation. There is no per-command
// cancellation; callers abort in-flight work by tearing down the session.
const ShellTimeout = 30 * time.Second

// ErrTimeout reports a shell invocation that hit the ShellTimeout ceiling.
var ErrTimeout = errors.New("shell command timed out")

// BridgeClient drives devices through the adb binary installed on the host.
type BridgeClient struct {
	ADBPath string
}

// NewBridgeClient creates a bridge client. An empty path means adb is on PATH.
func NewBridgeClient(adbPath string) *BridgeClient {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &BridgeClient{ADBPath: adbPath}
}

// Ping checks that the adb binary is present and answers.
func (c *BridgeClient) Ping(ctx context.Context) error {
	if err := exec.CommandContext(ctx, c.ADBPath, "version").Run(); err != nil {
		return fmt.Errorf("adb unavailable: %w", err)
	}
	return nil
}

// ListDevices parses `adb devices -l`, skipping offline and unauthorized
// entries and extracting the model token as a display name when present.
func (c *BridgeClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	output, err := exec.CommandContext(ctx, c.ADBPath, "devices", "-l").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var devices []models.Device
	for i, line := range strings.Split(string(output), "\n") {
		// Skip the "List of devices attached" header.
		if i == 0 {
			continue
		}
		if device, ok := parseDeviceLine(line); ok {
			device.Transport = models.TransportBridge
			devices = append(devices, device)
		}
	}
	return devices, nil
}

// parseDeviceLine parses one `adb devices -l` line: <serial> <state> [k:v ...].
// Only devices in the "device" state are usable; unauthorized and offline
// entries report false.
func parseDeviceLine(line string) (models.Device, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return models.Device{}, false
	}
	serial, state := parts[0], parts[1]
	if state != "device" {
		return models.Device{}, false
	}

	device := models.Device{Serial: serial, DisplayName: serial}
	for _, part := range parts[2:] {
		if strings.HasPrefix(part, "model:") {
			device.DisplayName = strings.ReplaceAll(strings.TrimPrefix(part, "model:"), "_", " ")
		}
	}
	return device, true
}

func (c *BridgeClient) deviceArgs(serial string, args ...string) []string {
	if serial == "" {
		return args
	}
	return append([]string{"-s", serial}, args...)
}

// Shell runs a single command on the device and returns its stdout with
// trailing line breaks trimmed.
//
// The command text is written to the subprocess's stdin rather than passed as
// an argv element, which sidesteps host-specific quoting of the adb binary.
// A command that produced stdout counts as a success regardless of exit code:
// device-side probe loops routinely exit non-zero with usable partial output.
// Failure is reported only when stdout is empty and stderr has content, or
// when the subprocess could not be spawned at all.
func (c *BridgeClient) Shell(ctx context.Context, serial, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ShellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.ADBPath, c.deviceArgs(serial, "shell")...)
	cmd.Stdin = strings.NewReader(command + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", ErrTimeout
	}

	out := stdout.String()
	if out == "" && stderr.Len() > 0 {
		return "", fmt.Errorf("shell command failed: %s", strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// Spawn failure, not a device-side exit code.
			return "", fmt.Errorf("failed to run adb shell: %w", err)
		}
	}
	return strings.TrimRight(out, "\r\n"), nil
}

// ExecOut runs a command with `adb exec-out` and returns raw stdout bytes.
// Used for binary transfers (database pulls) where shell pty mangling would
// corrupt the stream.
func (c *BridgeClient) ExecOut(ctx context.Context, serial, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.ADBPath, c.deviceArgs(serial, "exec-out", command)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("exec-out failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Push copies a local file to the device.
func (c *BridgeClient) Push(ctx context.Context, serial, localPath, remotePath string) error {
	if err := exec.CommandContext(ctx, c.ADBPath, c.deviceArgs(serial, "push", localPath, remotePath)...).Run(); err != nil {
		return fmt.Errorf("file push failed: %w", err)
	}
	return nil
}
