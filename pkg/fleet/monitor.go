package fleet

import (
	"context"
	"log"
	"time"
)

// MonitorConfig configures the liveness monitor.
type MonitorConfig struct {
	Store     Store
	Broadcast Broadcaster // optional
	Logger    *log.Logger // optional

	// CheckInterval is how often device liveness is evaluated.
	CheckInterval time.Duration

	// OfflineAfter is the silence threshold past which a device is
	// marked offline.
	OfflineAfter time.Duration
}

// Monitor periodically sweeps the device directory and flips devices
// to offline once they have been silent longer than the threshold.
// Devices come back online through their own reports, not here.
type Monitor struct {
	store     Store
	broadcast Broadcaster
	logger    *log.Logger

	checkInterval time.Duration
	offlineAfter  time.Duration
}

// NewMonitor creates a liveness monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	offline := cfg.OfflineAfter
	if offline <= 0 {
		offline = 2 * time.Minute
	}
	return &Monitor{
		store:         cfg.Store,
		broadcast:     cfg.Broadcast,
		logger:        logger,
		checkInterval: interval,
		offlineAfter:  offline,
	}
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Printf("liveness sweep: %v", err)
			}
		}
	}
}

// Sweep runs a single liveness pass. Exported so a sweep can be forced
// in tests and on startup.
func (m *Monitor) Sweep(ctx context.Context) error {
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-m.offlineAfter)
	changed := false
	for _, d := range devices {
		if d.Status == StatusOffline || d.LastSeen.After(cutoff) {
			continue
		}
		if err := m.store.UpdateDeviceStatus(ctx, d.ID, StatusOffline); err != nil {
			m.logger.Printf("mark %s offline: %v", d.ID, err)
			continue
		}
		m.logger.Printf("device %s offline, last seen %s", d.ID, d.LastSeen.Format(time.RFC3339))
		changed = true
	}

	if changed && m.broadcast != nil {
		locations, err := m.store.FleetSummary(ctx)
		if err != nil {
			return err
		}
		m.broadcast.Broadcast(Event{Type: EventLocationsUpdate, Data: locations, Time: time.Now().UTC()})
	}
	return nil
}
