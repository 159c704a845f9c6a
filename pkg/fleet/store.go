package fleet

import "context"

// Store defines the persistence interface for fleet data.
// The primary implementation uses SQLite (see sqlite.go).
type Store interface {
	// Device directory
	UpsertDevice(ctx context.Context, upd DeviceUpdate) (*Device, error)
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context) ([]Device, error)
	UpdateDeviceStatus(ctx context.Context, id string, status DeviceStatus) error

	// Detection log
	RecordDetection(ctx context.Context, det *Detection) (int64, error)
	SaveReport(ctx context.Context, upd DeviceUpdate, det *Detection) (*Device, int64, error)
	ListDetections(ctx context.Context, deviceID string, limit int) ([]Detection, error)
	DeleteDetections(ctx context.Context, filter DeleteFilter) (int64, error)

	// Derived projections
	FleetSummary(ctx context.Context) ([]SummaryRow, error)
	FleetStats(ctx context.Context) (*FleetStats, error)

	// Lifecycle
	Close() error
}
