package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"droidsql/adb"
	"droidsql/models"
)

// State is the session lifecycle position.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type sessionEvent int

const (
	eventConnect sessionEvent = iota
	eventAuthenticated
	eventDisconnect
)

// transition is the pure state-machine step: old state + event -> new state.
// Keeping it side-effect free makes reconnect ordering testable without a
// device.
func transition(s State, ev sessionEvent) (State, error) {
	switch {
	case ev == eventConnect && s == StateDisconnected:
		return StateConnecting, nil
	case ev == eventAuthenticated && s == StateConnecting:
		return StateConnected, nil
	case ev == eventDisconnect:
		return StateDisconnected, nil
	}
	return s, fmt.Errorf("invalid transition from %s", s)
}

// BridgeTransport is the subprocess strategy surface the session layer needs.
type BridgeTransport interface {
	Ping(ctx context.Context) error
	ListDevices(ctx context.Context) ([]models.Device, error)
	Shell(ctx context.Context, serial, command string) (string, error)
}

// DirectTransport is the wire-protocol strategy surface. Connect and Pair
// cover wireless host:port targets, which must be attached to the server
// before host:transport can claim them.
type DirectTransport interface {
	ServerVersion(ctx context.Context) (int, error)
	Devices(ctx context.Context) ([]models.Device, error)
	Shell(ctx context.Context, serial, command string) ([]byte, error)
	Connect(ctx context.Context, addr string) (string, error)
	Pair(ctx context.Context, addr, code string) (string, error)
}

// Session is a live, authenticated channel to one device under one transport.
// Commands are issued one at a time; the underlying shell channel does not
// multiplex safely, so a second in-flight command would corrupt framing.
type Session struct {
	Device    models.Device
	Transport models.Transport

	bridge BridgeTransport
	direct DirectTransport

	// explicitSerial is set only when more than one device was attached at
	// connect time; a lone device needs no -s flag.
	explicitSerial string
	ready          bool
}

// Run satisfies Runner against this session's device.
func (s *Session) Run(ctx context.Context, command string) (string, error) {
	return Execute(ctx, s, command)
}

// SessionManager owns the single active session. Transports are mutually
// exclusive over the same device interface, so a new connect always tears the
// previous session down before authenticating.
type SessionManager struct {
	mu      sync.Mutex
	state   State
	session *Session

	bridge BridgeTransport
	direct DirectTransport

	// PairingCodes looks up the persisted wireless-debugging code for a
	// host:port target. Nil means no credential store is available.
	PairingCodes func(addr string) (string, error)

	// remembered connect parameters for Reconnect
	lastTransport models.Transport
	lastSerial    string

	// observation hook for tests, called under mu for every state change
	stateHook func(State)
}

// NewSessionManager wires both transport strategies. Either may be nil when
// unsupported on this host.
func NewSessionManager(bridge BridgeTransport, direct DirectTransport) *SessionManager {
	return &SessionManager{bridge: bridge, direct: direct}
}

func (m *SessionManager) setState(s State) {
	m.state = s
	if m.stateHook != nil {
		m.stateHook(s)
	}
}

// State reports the current lifecycle position.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active returns the live session or nil.
func (m *SessionManager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Run delegates to the active session, satisfying Runner for long-lived
// components that outlive individual sessions.
func (m *SessionManager) Run(ctx context.Context, command string) (string, error) {
	s := m.Active()
	if s == nil {
		return "", ErrNotConnected
	}
	return s.Run(ctx, command)
}

// Connect establishes a session over the given transport. Serial may be empty
// when exactly one device is attached; with several attached it is required.
func (m *SessionManager) Connect(ctx context.Context, kind models.Transport, serial string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Supersede any live session first: the old one must reach Disconnected
	// before the new one starts authenticating.
	if m.state != StateDisconnected {
		m.teardown()
	}

	next, err := transition(m.state, eventConnect)
	if err != nil {
		return nil, err
	}
	m.setState(next)

	session, err := m.authenticate(ctx, kind, serial)
	if err != nil {
		m.teardown()
		return nil, err
	}

	next, err = transition(m.state, eventAuthenticated)
	if err != nil {
		m.teardown()
		return nil, err
	}
	m.setState(next)
	m.session = session
	m.lastTransport = kind
	m.lastSerial = session.Device.Serial
	log.Printf("session connected: %s via %s", session.Device.Serial, kind)
	return session, nil
}

// Reconnect re-establishes the most recent session, used for automatic
// recovery with a remembered identifier.
func (m *SessionManager) Reconnect(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	kind, serial := m.lastTransport, m.lastSerial
	m.mu.Unlock()
	if kind == "" {
		return nil, ErrNotConnected
	}
	return m.Connect(ctx, kind, serial)
}

// Disconnect tears down the active session, if any.
func (m *SessionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown()
}

func (m *SessionManager) teardown() {
	if m.session != nil {
		m.session.ready = false
		m.session = nil
	}
	m.setState(StateDisconnected)
}

func (m *SessionManager) authenticate(ctx context.Context, kind models.Transport, serial string) (*Session, error) {
	switch kind {
	case models.TransportBridge:
		return m.authenticateBridge(ctx, serial)
	case models.TransportDirect:
		return m.authenticateDirect(ctx, serial)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func (m *SessionManager) authenticateBridge(ctx context.Context, serial string) (*Session, error) {
	if m.bridge == nil {
		return nil, ErrTransportUnavailable
	}
	if err := m.bridge.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	devices, err := m.bridge.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	device, err := selectDevice(devices, serial)
	if err != nil {
		return nil, err
	}
	session := &Session{
		Device:    device,
		Transport: models.TransportBridge,
		bridge:    m.bridge,
		ready:     true,
	}
	if len(devices) > 1 {
		session.explicitSerial = device.Serial
	}
	return session, nil
}

func (m *SessionManager) authenticateDirect(ctx context.Context, serial string) (*Session, error) {
	if m.direct == nil {
		return nil, ErrTransportUnavailable
	}
	if _, err := m.direct.ServerVersion(ctx); err != nil {
		return nil, classifyWireError(err)
	}
	devices, err := m.direct.Devices(ctx)
	if err != nil {
		return nil, classifyWireError(err)
	}

	// A host:port serial the server does not know yet is a wireless target:
	// attach it first, pairing with the stored code when refused.
	if isWirelessAddr(serial) && !hasSerial(devices, serial) {
		if err := m.connectWireless(ctx, serial); err != nil {
			return nil, err
		}
		devices, err = m.direct.Devices(ctx)
		if err != nil {
			return nil, classifyWireError(err)
		}
	}

	device, err := selectDevice(devices, serial)
	if err != nil {
		return nil, err
	}
	return &Session{
		Device:         device,
		Transport:      models.TransportDirect,
		direct:         m.direct,
		explicitSerial: device.Serial,
		ready:          true,
	}, nil
}

// connectWireless attaches a host:port target through host:connect. A refusal
// triggers one pairing round with the persisted code, then a second connect.
func (m *SessionManager) connectWireless(ctx context.Context, addr string) error {
	out, err := m.direct.Connect(ctx, addr)
	if err == nil && !strings.Contains(strings.ToLower(out), "failed") {
		return nil
	}

	if m.PairingCodes == nil {
		if err != nil {
			return classifyWireError(err)
		}
		return fmt.Errorf("%w: %s", ErrConnectionDenied, strings.TrimSpace(out))
	}
	code, credErr := m.PairingCodes(addr)
	if credErr != nil {
		if err != nil {
			return classifyWireError(err)
		}
		return fmt.Errorf("%w: no pairing code for %s: %v", ErrAuthenticationFailed, addr, credErr)
	}
	if _, err := m.direct.Pair(ctx, addr, code); err != nil {
		return classifyWireError(err)
	}
	if _, err := m.direct.Connect(ctx, addr); err != nil {
		return classifyWireError(err)
	}
	return nil
}

// isWirelessAddr recognizes host:port serials, which reach the server over
// TCP rather than USB.
func isWirelessAddr(serial string) bool {
	return strings.Contains(serial, ":")
}

func hasSerial(devices []models.Device, serial string) bool {
	for _, d := range devices {
		if d.Serial == serial {
			return true
		}
	}
	return false
}

// selectDevice picks the requested serial, or auto-selects when exactly one
// device is attached.
func selectDevice(devices []models.Device, serial string) (models.Device, error) {
	if serial == "" {
		switch len(devices) {
		case 0:
			return models.Device{}, ErrDeviceNotFound
		case 1:
			return devices[0], nil
		default:
			return models.Device{}, fmt.Errorf("%w: %d devices attached, specify a serial", ErrDeviceNotFound, len(devices))
		}
	}
	for _, d := range devices {
		if d.Serial == serial {
			return d, nil
		}
	}
	return models.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
}

// classifyWireError maps adb server FAIL messages onto the user-facing error
// kinds. Unauthorized devices need a host-key approval on screen; a held
// interface needs the competing process released.
func classifyWireError(err error) error {
	var serverErr *adb.ServerError
	if !errors.As(err, &serverErr) {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	message := strings.ToLower(serverErr.Message)
	switch {
	case strings.Contains(message, "unauthorized"):
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, serverErr.Message)
	case strings.Contains(message, "offline"), strings.Contains(message, "in use"):
		return fmt.Errorf("%w: %s", ErrConnectionDenied, serverErr.Message)
	case strings.Contains(message, "not found"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, serverErr.Message)
	default:
		return serverErr
	}
}
