// Package fleet implements the telemetry fleet core: the device and
// detection store, the read-side aggregator, the ingestion coordinator,
// and the stale-device monitor.
//
// The system follows a hub-and-spoke model: field devices post telemetry
// reports to a single server, which persists them and pushes the derived
// fleet state to any number of live observers.
package fleet

import "time"

// DeviceStatus represents the operational status of a field device.
// The set is open: operators may assign other labels out of band.
type DeviceStatus string

const (
	StatusOnline  DeviceStatus = "online"
	StatusOffline DeviceStatus = "offline"
)

// Device is a registered field device. One row per identity; created on
// the first report from a previously unseen identity and refreshed on
// every report after that.
type Device struct {
	ID        string       `json:"device_id"`
	Name      string       `json:"name"`
	Location  string       `json:"location"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	LastSeen  time.Time    `json:"last_seen"`
	Status    DeviceStatus `json:"status"`
}

// DeviceUpdate carries the device fields of an incoming report. Name is
// only applied when the device is first created; later reports never
// rename a device.
type DeviceUpdate struct {
	ID        string  `json:"device_id"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Detection is one immutable telemetry event reported by a device.
// Temperature, humidity and confidence are pointers because devices
// without the corresponding sensor report nothing for them; NULL and
// zero are different readings.
type Detection struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Count       int       `json:"detection_count"`
	Temperature *float64  `json:"temperature"`
	Humidity    *float64  `json:"humidity"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Confidence  *float64  `json:"confidence,omitempty"`
	ImageName   string    `json:"image_name"`
	ImageURL    string    `json:"image_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// SummaryRow is one device in the fleet summary: the device's directory
// entry joined with its detection totals. Derived, never stored.
type SummaryRow struct {
	DeviceID        string       `json:"device_id"`
	Name            string       `json:"name"`
	Location        string       `json:"location"`
	Latitude        float64      `json:"latitude"`
	Longitude       float64      `json:"longitude"`
	LastSeen        time.Time    `json:"last_seen"`
	Status          DeviceStatus `json:"status"`
	TotalDetections int          `json:"total_detections"`
	LastDetection   *time.Time   `json:"last_detection"`
}

// DeviceCount is one entry of the per-device detection breakdown.
type DeviceCount struct {
	DeviceID string `json:"device_id"`
	Count    int    `json:"count"`
}

// FleetStats holds fleet-wide aggregate statistics. Averages are over
// non-NULL readings only; an empty detection set yields 0, not an error.
type FleetStats struct {
	TotalDetections int           `json:"total_detections"`
	ActiveDevices   int           `json:"active_devices"`
	AvgTemperature  float64       `json:"avg_temperature"`
	AvgHumidity     float64       `json:"avg_humidity"`
	ByDevice        []DeviceCount `json:"detections_by_device"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Snapshot is the initial state pushed to a newly connected observer.
type Snapshot struct {
	Locations  []SummaryRow `json:"locations"`
	Statistics *FleetStats  `json:"statistics"`
}

// Event message types pushed to observers. A point new_detection event
// always precedes the aggregate refresh for the same ingestion, so
// observers can animate the delta before reconciling.
const (
	EventSnapshot        = "snapshot"
	EventNewDetection    = "new_detection"
	EventLocationsUpdate = "locations_update"
	EventStatsUpdate     = "stats_update"
)

// Event is one message on the observer channel.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// DeleteFilter selects detections for an administrative delete. Exactly
// one mode applies per call: identity, inclusive date range, or
// unconditional. The identity branch takes precedence when both are set.
type DeleteFilter struct {
	DeviceID  string
	StartDate string // inclusive, "2006-01-02"
	EndDate   string // inclusive, "2006-01-02"
}

// Report is a validated-shape ingestion payload: the device fields, the
// sensor readings and the image artifact from one multipart upload.
type Report struct {
	DeviceID    string
	Name        string
	Location    string
	Count       int
	Temperature *float64
	Humidity    *float64
	Latitude    float64
	Longitude   float64
	Confidence  *float64
	Image       ImageUpload
}

// ImageUpload is the raw artifact attached to a report.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Ack is returned to the reporting device after a successful ingestion.
type Ack struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	DetectionID int64  `json:"detection_id"`
	ImageName   string `json:"image_name"`
	ImageURL    string `json:"image_url"`
	Detections  int    `json:"detections"`
}
