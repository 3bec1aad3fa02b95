package models

// Transport identifies which channel carries commands to a device.
type Transport string

const (
	TransportBridge Transport = "bridge" // adb subprocess spawned on the host
	TransportDirect Transport = "direct" // wire protocol against the adb server socket
)

// Device is a connected Android unit.
type Device struct {
	Serial      string    `json:"serial"`
	DisplayName string    `json:"display_name"`
	Transport   Transport `json:"transport,omitempty"`
}

// DeviceEvent is a plug/unplug/state-change notification from device tracking.
type DeviceEvent struct {
	Serial  string `json:"serial"`
	State   string `json:"state"`
	Present bool   `json:"present"`
}

// Package is an application package selectable for inspection.
// Only debuggable packages are listed; the rest are excluded silently.
type Package struct {
	Name string `json:"name"`
}

// DatabaseFile is a location reference, not an open connection. Every query
// reopens the database through the on-device CLI, which owns the file handle.
type DatabaseFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
}
