package service

import (
	"sort"
	"sync"

	"droidsql/models"
)

// DeviceRegistry caches the devices the tracker has seen, so listing views
// stay responsive between enumeration rounds.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]models.Device
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{devices: make(map[string]models.Device)}
}

// ReplaceAll overwrites the registry with a fresh enumeration.
func (r *DeviceRegistry) ReplaceAll(devices []models.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]models.Device, len(devices))
	for _, d := range devices {
		r.devices[d.Serial] = d
	}
}

// Apply folds one tracking event into the registry. Only devices in the
// usable state are kept; disappearing or degraded serials drop out.
func (r *DeviceRegistry) Apply(event models.DeviceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !event.Present || event.State != "device" {
		delete(r.devices, event.Serial)
		return
	}
	if _, known := r.devices[event.Serial]; !known {
		r.devices[event.Serial] = models.Device{Serial: event.Serial, DisplayName: event.Serial}
	}
}

// Snapshot returns the known devices sorted by serial.
func (r *DeviceRegistry) Snapshot() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Serial < devices[j].Serial })
	return devices
}
