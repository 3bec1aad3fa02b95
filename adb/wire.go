package adb

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"droidsql/models"
)

const (
	okay = "OKAY"
	fail = "FAIL"
)

// DefaultServerPort is the adb server's listening port on the host.
const DefaultServerPort = 5037

// ServerError is a FAIL response from the adb server, with the server's own
// message preserved so callers can classify it (unauthorized, offline, held
// interface).
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "adb server: " + e.Message
}

// WireClient speaks the adb server's wire protocol over TCP directly, without
// spawning the adb binary for every command.
type WireClient struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

// NewWireClient creates a direct-transport client for the adb server socket.
func NewWireClient(host string, port int) *WireClient {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = DefaultServerPort
	}
	return &WireClient{Host: host, Port: port, DialTimeout: 5 * time.Second}
}

func (c *WireClient) dial(ctx context.Context) (*wireConn, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.Host, c.Port))
	if err != nil {
		return nil, fmt.Errorf("adb server unreachable at %s:%d: %w", c.Host, c.Port, err)
	}
	return &wireConn{conn: conn}, nil
}

// ServerVersion authenticates against the server and returns its version.
// Doubles as the direct transport's reachability probe.
func (c *WireClient) ServerVersion(ctx context.Context) (int, error) {
	w, err := c.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	if err := w.request("host:version"); err != nil {
		return 0, err
	}
	block, err := w.readBlock()
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(block, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed server version %q: %w", block, err)
	}
	return int(version), nil
}

// Devices lists devices known to the server in the usable "device" state.
func (c *WireClient) Devices(ctx context.Context) ([]models.Device, error) {
	w, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if err := w.request("host:devices-l"); err != nil {
		return nil, err
	}
	block, err := w.readBlock()
	if err != nil {
		return nil, err
	}

	var devices []models.Device
	for _, line := range strings.Split(block, "\n") {
		if device, ok := parseDeviceLine(line); ok {
			device.Transport = models.TransportDirect
			devices = append(devices, device)
		}
	}
	return devices, nil
}

// Shell runs one command on the device through a dedicated transport session
// and returns the raw output bytes. The channel multiplexes nothing: one
// command per connection, read until the device closes the stream.
func (c *WireClient) Shell(ctx context.Context, serial, command string) ([]byte, error) {
	w, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetDeadline(deadline)
	}
	if err := w.request("host:transport:" + serial); err != nil {
		return nil, err
	}
	if err := w.request("shell:" + command); err != nil {
		return nil, err
	}
	return w.readUntilClose()
}

// Connect asks the server to connect to a wireless device (addr is host:port).
func (c *WireClient) Connect(ctx context.Context, addr string) (string, error) {
	return c.hostService(ctx, "host:connect:"+addr)
}

// Disconnect releases a wireless device connection.
func (c *WireClient) Disconnect(ctx context.Context, addr string) (string, error) {
	return c.hostService(ctx, "host:disconnect:"+addr)
}

// Pair performs wireless-debugging pairing with the given code. The code is
// the persisted credential from the credential store.
func (c *WireClient) Pair(ctx context.Context, addr, code string) (string, error) {
	return c.hostService(ctx, fmt.Sprintf("host:pair:%s:%s", code, addr))
}

func (c *WireClient) hostService(ctx context.Context, service string) (string, error) {
	w, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer w.Close()

	if err := w.request(service); err != nil {
		return "", err
	}
	return w.readBlock()
}

// TrackDevices subscribes to the server's device tracker. Each update from the
// server is a full device list; the returned channel carries the diff against
// the previous snapshot, including Present=false events for unplugged serials.
// The stream ends when ctx is cancelled or the server closes the socket.
func (c *WireClient) TrackDevices(ctx context.Context) (<-chan models.DeviceEvent, error) {
	w, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.request("host:track-devices"); err != nil {
		w.Close()
		return nil, err
	}

	events := make(chan models.DeviceEvent, 16)
	go func() {
		defer close(events)
		defer w.Close()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				w.Close() // unblocks the read below
			case <-stop:
			}
		}()

		previous := map[string]string{}
		for {
			block, err := w.readBlock()
			if err != nil {
				return
			}
			current := map[string]string{}
			for _, line := range strings.Split(block, "\n") {
				parts := strings.Fields(line)
				if len(parts) < 2 {
					continue
				}
				current[parts[0]] = parts[1]
			}
			for serial, state := range current {
				if previous[serial] != state {
					events <- models.DeviceEvent{Serial: serial, State: state, Present: true}
				}
			}
			for serial, state := range previous {
				if _, still := current[serial]; !still {
					events <- models.DeviceEvent{Serial: serial, State: state, Present: false}
				}
			}
			previous = current
		}
	}()
	return events, nil
}

// wireConn frames messages the way the adb server expects: a four-digit hex
// length prefix followed by the payload, answered with OKAY or FAIL.
type wireConn struct {
	conn net.Conn
}

func (w *wireConn) Close() error {
	return w.conn.Close()
}

func (w *wireConn) request(service string) error {
	if err := w.send(service); err != nil {
		return err
	}
	return w.expectOkay()
}

func (w *wireConn) send(service string) error {
	msg := fmt.Sprintf("%04x%s", len(service), service)
	if _, err := w.conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write %q: %w", service, err)
	}
	return nil
}

func (w *wireConn) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(w.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (w *wireConn) expectOkay() error {
	status, err := w.readN(4)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	switch string(status) {
	case okay:
		return nil
	case fail:
		message, err := w.readBlock()
		if err != nil {
			message = "unknown failure"
		}
		return &ServerError{Message: message}
	default:
		return fmt.Errorf("unexpected status %q", status)
	}
}

func (w *wireConn) readBlock() (string, error) {
	header, err := w.readN(4)
	if err != nil {
		return "", fmt.Errorf("read length: %w", err)
	}
	size, err := strconv.ParseUint(string(header), 16, 32)
	if err != nil {
		return "", fmt.Errorf("malformed length %q: %w", header, err)
	}
	payload, err := w.readN(int(size))
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return string(payload), nil
}

func (w *wireConn) readUntilClose() ([]byte, error) {
	data, err := io.ReadAll(w.conn)
	if err != nil && len(data) == 0 {
		return nil, err
	}
	return data, nil
}
