package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenLockIn/internal/config"
	"github.com/KevinKickass/OpenLockIn/internal/devices"
	"github.com/KevinKickass/OpenLockIn/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	DeviceCount   int    `json:"device_count"`
	DevicesOn     int    `json:"devices_on"`
	LiveClients   int    `json:"live_clients"`
	Archiving     bool   `json:"archiving"`
}

// ReadingHistory serves archived attribute readings.
type ReadingHistory interface {
	RecentReadings(ctx context.Context, deviceName, attribute string, limit int) ([]storage.Reading, error)
}

type LifecycleManager interface {
	Config() *config.Config
	DeviceManager() *devices.Manager
	// History is nil when archival is disabled.
	History() ReadingHistory
	GetCurrentStatus() SystemStatus
}
