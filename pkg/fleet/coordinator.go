package fleet

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactStore persists report image payloads and returns the public
// reference under which each one is served.
type ArtifactStore interface {
	Save(name string, data []byte) (string, error)
}

// Broadcaster pushes an event to every attached observer. A nil
// Broadcaster on the coordinator means ingestion runs without
// notification.
type Broadcaster interface {
	Broadcast(ev Event)
}

// IngestMetrics receives coordinator outcome counts. Implementations
// must be safe for concurrent use.
type IngestMetrics interface {
	IngestAccepted()
	IngestRejected()
	IngestFailed()
}

// CoordinatorConfig configures report ingestion.
type CoordinatorConfig struct {
	Store     Store
	Artifacts ArtifactStore
	Broadcast Broadcaster   // optional
	Metrics   IngestMetrics // optional
	Logger    *log.Logger   // optional

	// RequireKnownDevice rejects reports from identities that have
	// never been enrolled instead of auto-registering them.
	RequireKnownDevice bool

	// Timeout bounds a single ingest end to end. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
}

// Coordinator drives a report through validation, artifact storage,
// persistence and observer notification, in that order.
type Coordinator struct {
	store     Store
	artifacts ArtifactStore
	agg       *Aggregator
	broadcast Broadcaster
	metrics   IngestMetrics
	logger    *log.Logger

	requireKnown bool
	timeout      time.Duration
}

// NewCoordinator creates a coordinator. Store and Artifacts are
// required.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		store:        cfg.Store,
		artifacts:    cfg.Artifacts,
		agg:          NewAggregator(cfg.Store),
		broadcast:    cfg.Broadcast,
		metrics:      cfg.Metrics,
		logger:       logger,
		requireKnown: cfg.RequireKnownDevice,
		timeout:      cfg.Timeout,
	}
}

// Ingest validates and persists one field report. On success the
// observers receive new_detection, locations_update and stats_update,
// in that order. A report that fails validation or persistence leaves
// the store untouched and triggers no notification.
func (c *Coordinator) Ingest(ctx context.Context, r *Report) (*Ack, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := validateReport(r); err != nil {
		c.countRejected()
		return nil, err
	}

	if c.requireKnown {
		if _, err := c.store.GetDevice(ctx, r.DeviceID); err != nil {
			if err == ErrNotFound {
				c.countRejected()
				return nil, &ValidationError{Field: "device_id", Reason: "unknown device " + r.DeviceID}
			}
			c.countFailed()
			return nil, err
		}
	}

	imageURL, err := c.artifacts.Save(imageName(r.DeviceID, r.Image.Filename, time.Now().UTC()), r.Image.Data)
	if err != nil {
		c.countFailed()
		return nil, &PersistenceError{Op: "save image", Err: err}
	}
	// The store may have collision-suffixed the name.
	storedName := path.Base(imageURL)

	det := &Detection{
		DeviceID:    r.DeviceID,
		Count:       r.Count,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Confidence:  r.Confidence,
		ImageName:   storedName,
		ImageURL:    imageURL,
	}
	upd := DeviceUpdate{
		ID:        r.DeviceID,
		Name:      r.Name,
		Location:  r.Location,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}

	_, id, err := c.store.SaveReport(ctx, upd, det)
	if err != nil {
		c.countFailed()
		return nil, err
	}

	c.countAccepted()
	c.logger.Printf("ingested report from %s: detection %d, count %d", r.DeviceID, id, r.Count)
	c.notify(ctx, det)

	return &Ack{
		Status:      "ok",
		Message:     "report stored",
		DetectionID: id,
		ImageName:   storedName,
		ImageURL:    imageURL,
		Detections:  r.Count,
	}, nil
}

func (c *Coordinator) notify(ctx context.Context, det *Detection) {
	if c.broadcast == nil {
		return
	}
	now := time.Now().UTC()
	c.broadcast.Broadcast(Event{Type: EventNewDetection, Data: det, Time: now})

	locations, err := c.agg.Summary(ctx)
	if err != nil {
		c.logger.Printf("summary after ingest: %v", err)
	} else {
		c.broadcast.Broadcast(Event{Type: EventLocationsUpdate, Data: locations, Time: now})
	}

	stats, err := c.agg.Statistics(ctx)
	if err != nil {
		c.logger.Printf("statistics after ingest: %v", err)
	} else {
		c.broadcast.Broadcast(Event{Type: EventStatsUpdate, Data: stats, Time: now})
	}
}

func validateReport(r *Report) error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return &ValidationError{Field: "device_id", Reason: "required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "device_name", Reason: "required"}
	}
	if r.Count < 0 {
		return &ValidationError{Field: "detection_count", Reason: "must not be negative"}
	}
	if len(r.Image.Data) == 0 {
		return &ValidationError{Field: "image", Reason: "required"}
	}
	if !strings.HasPrefix(r.Image.ContentType, "image/") {
		return &ValidationError{Field: "image", Reason: "content type must be image/*, got " + r.Image.ContentType}
	}
	return nil
}

// imageName derives a unique, device-scoped artifact name from the
// upload. The original extension is kept when present.
func imageName(deviceID, filename string, now time.Time) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s_%s%s", deviceID, now.Format("20060102_150405.000000000"), ext)
}

func (c *Coordinator) countAccepted() {
	if c.metrics != nil {
		c.metrics.IngestAccepted()
	}
}

func (c *Coordinator) countRejected() {
	if c.metrics != nil {
		c.metrics.IngestRejected()
	}
}

func (c *Coordinator) countFailed() {
	if c.metrics != nil {
		c.metrics.IngestFailed()
	}
}
