package api

import (
	"context"
	"log"

	"droidsql/adb"
	"droidsql/config"
	"droidsql/models"
	"droidsql/service"
)

// Server holds the bridge's shared state: both transport clients, the single
// active session, the selected package context and the query engine. Handlers
// issue commands one at a time; nothing here multiplexes the shell channel.
type Server struct {
	Config   *config.Config
	Bridge   *adb.BridgeClient
	Wire     *adb.WireClient
	Sessions *service.SessionManager
	Pkg      *service.PackageContext
	Engine   *service.Engine
	Packages *service.PackageLister
	Registry *service.DeviceRegistry
	Prefs    *config.Preferences
	Hub      *Hub
}

// NewServer wires the full stack from configuration. The engine runs against
// whatever session is active through the session manager's Runner surface.
func NewServer(cfg *config.Config, prefs *config.Preferences) *Server {
	bridge := adb.NewBridgeClient(cfg.ADB.Path)
	wire := adb.NewWireClient(cfg.ADB.ServerHost, cfg.ADB.ServerPort)
	sessions := service.NewSessionManager(bridge, wire)
	sessions.PairingCodes = config.LoadPairingCode

	pkg := cfg.Defaults.Package
	database := cfg.Defaults.Database
	if prefs != nil {
		if prefs.Values.LastPackage != "" {
			pkg = prefs.Values.LastPackage
		}
		if prefs.Values.LastDatabase != "" {
			database = prefs.Values.LastDatabase
		}
	}

	return &Server{
		Config:   cfg,
		Bridge:   bridge,
		Wire:     wire,
		Sessions: sessions,
		Pkg:      service.NewPackageContext(pkg, database),
		Engine:   service.NewEngine(sessions),
		Packages: service.NewPackageLister(sessions),
		Registry: service.NewDeviceRegistry(),
		Prefs:    prefs,
		Hub:      NewHub(),
	}
}

// StartTracking subscribes to the adb server's device tracker and fans
// events out to the registry and websocket clients. Best effort: without a
// reachable server the bridge still works through explicit enumeration.
func (s *Server) StartTracking(ctx context.Context) {
	events, err := s.Wire.TrackDevices(ctx)
	if err != nil {
		log.Printf("device tracking unavailable: %v", err)
		return
	}
	go func() {
		for event := range events {
			s.Registry.Apply(event)
			s.Hub.BroadcastEvent(event)
		}
		log.Println("device tracking stream closed")
	}()
}

// localEngine builds a fallback engine bound to the active session's serial.
func (s *Server) localEngine() *service.LocalEngine {
	serial := ""
	if session := s.Sessions.Active(); session != nil {
		serial = session.Device.Serial
	}
	return service.NewLocalEngine(s.Bridge, s.Sessions, serial, s.Config.Cache.Dir)
}

// activeDevice reports the connected device, if any.
func (s *Server) activeDevice() (models.Device, bool) {
	session := s.Sessions.Active()
	if session == nil {
		return models.Device{}, false
	}
	return session.Device, true
}
