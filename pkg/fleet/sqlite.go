package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is the canonical timestamp encoding in the database. The
// fixed-width fraction keeps text order equal to time order, so ORDER BY
// timestamp stays correct for detections recorded within the same second.
// RFC3339Nano would trim trailing zeros and break lexicographic sorting.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no
// CGO). The RWMutex serializes writers; readers proceed in parallel.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	// Foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		location  TEXT NOT NULL DEFAULT '',
		latitude  REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		last_seen TEXT NOT NULL,
		status    TEXT NOT NULL DEFAULT 'online'
	);

	CREATE TABLE IF NOT EXISTS detections (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id       TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		timestamp       TEXT NOT NULL,
		detection_count INTEGER NOT NULL,
		temperature     REAL,
		humidity        REAL,
		latitude        REAL NOT NULL DEFAULT 0,
		longitude       REAL NOT NULL DEFAULT 0,
		confidence      REAL,
		image_name      TEXT NOT NULL,
		image_url       TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_detections_device_time ON detections(device_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(timestamp DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertDevice creates the device on first sight. On later reports it
// refreshes position, location label, last-seen and status, and leaves
// the name unchanged.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, upd DeviceUpdate) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, err := s.upsertDeviceTx(ctx, s.db, upd, time.Now().UTC())
	if err != nil {
		return nil, &PersistenceError{Op: "upsert device", Err: err}
	}
	return dev, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) upsertDeviceTx(ctx context.Context, ex execer, upd DeviceUpdate, now time.Time) (*Device, error) {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO devices (device_id, name, location, latitude, longitude, last_seen, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
			location  = excluded.location,
			latitude  = excluded.latitude,
			longitude = excluded.longitude,
			last_seen = excluded.last_seen,
			status    = excluded.status`,
		upd.ID, upd.Name, upd.Location, upd.Latitude, upd.Longitude,
		now.Format(timeFormat), string(StatusOnline),
	)
	if err != nil {
		return nil, err
	}

	row := ex.QueryRowContext(ctx,
		`SELECT device_id, name, location, latitude, longitude, last_seen, status
		 FROM devices WHERE device_id = ?`, upd.ID)
	return scanDevice(row)
}

// GetDevice retrieves a device by identity.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT device_id, name, location, latitude, longitude, last_seen, status
		 FROM devices WHERE device_id = ?`, id)
	dev, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return dev, err
}

// ListDevices returns the full device directory.
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, name, location, latitude, longitude, last_seen, status
		 FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var lastSeen, status string
		if err := rows.Scan(&d.ID, &d.Name, &d.Location, &d.Latitude, &d.Longitude, &lastSeen, &status); err != nil {
			return nil, err
		}
		d.LastSeen, _ = time.Parse(timeFormat, lastSeen)
		d.Status = DeviceStatus(status)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateDeviceStatus sets the device's operational status.
func (s *SQLiteStore) UpdateDeviceStatus(ctx context.Context, id string, status DeviceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET status = ? WHERE device_id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordDetection appends one detection event. The owning device must
// already exist; callers that want auto-registration use SaveReport.
func (s *SQLiteStore) RecordDetection(ctx context.Context, det *Detection) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE device_id = ?`, det.DeviceID).Scan(&exists); err != nil {
		return 0, &PersistenceError{Op: "record detection", Err: err}
	}
	if exists == 0 {
		return 0, &ValidationError{Field: "device_id", Reason: "unknown device " + det.DeviceID}
	}

	id, err := s.insertDetection(ctx, s.db, det, time.Now().UTC())
	if err != nil {
		return 0, &PersistenceError{Op: "record detection", Err: err}
	}
	return id, nil
}

func (s *SQLiteStore) insertDetection(ctx context.Context, ex execer, det *Detection, now time.Time) (int64, error) {
	if det.Timestamp.IsZero() {
		det.Timestamp = now
	}
	det.CreatedAt = now

	res, err := ex.ExecContext(ctx,
		`INSERT INTO detections
		 (device_id, timestamp, detection_count, temperature, humidity, latitude, longitude, confidence, image_name, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		det.DeviceID, det.Timestamp.UTC().Format(timeFormat), det.Count,
		nullFloat(det.Temperature), nullFloat(det.Humidity),
		det.Latitude, det.Longitude, nullFloat(det.Confidence),
		det.ImageName, det.ImageURL, now.Format(timeFormat),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SaveReport writes the device upsert and the detection insert in one
// transaction, so a concurrent aggregate query never observes one
// without the other.
func (s *SQLiteStore) SaveReport(ctx context.Context, upd DeviceUpdate, det *Detection) (*Device, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "save report", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	dev, err := s.upsertDeviceTx(ctx, tx, upd, now)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "save report: upsert device", Err: err}
	}

	det.DeviceID = upd.ID
	id, err := s.insertDetection(ctx, tx, det, now)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "save report: insert detection", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, &PersistenceError{Op: "save report: commit", Err: err}
	}
	det.ID = id
	return dev, id, nil
}

// ListDetections returns detections newest-first, optionally filtered
// by device identity. limit <= 0 falls back to a small default.
func (s *SQLiteStore) ListDetections(ctx context.Context, deviceID string, limit int) ([]Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, device_id, timestamp, detection_count, temperature, humidity,
	                 latitude, longitude, confidence, image_name, image_url, created_at
	          FROM detections`
	var args []interface{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dets []Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		dets = append(dets, *d)
	}
	return dets, rows.Err()
}

// DeleteDetections applies one of three mutually exclusive retention
// modes. The identity branch is checked first: a call supplying both an
// identity and a date range deletes by identity.
func (s *SQLiteStore) DeleteDetections(ctx context.Context, filter DeleteFilter) (int64, error) {
	if filter.DeviceID == "" && (filter.StartDate != "") != (filter.EndDate != "") {
		// A lone range bound must not fall through to the delete-all branch.
		field := "start_date"
		if filter.StartDate != "" {
			field = "end_date"
		}
		return 0, &ValidationError{Field: field, Reason: "start_date and end_date must be set together"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &PersistenceError{Op: "delete", Err: err}
	}
	defer tx.Rollback()

	var deleted int64
	switch {
	case filter.DeviceID != "":
		// Identity mode removes the device row and everything it owns.
		res, err := tx.ExecContext(ctx, `DELETE FROM detections WHERE device_id = ?`, filter.DeviceID)
		if err != nil {
			return 0, &PersistenceError{Op: "delete by device", Err: err}
		}
		deleted, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, filter.DeviceID); err != nil {
			return 0, &PersistenceError{Op: "delete by device", Err: err}
		}

	case filter.StartDate != "" && filter.EndDate != "":
		// Inclusive date range on the capture timestamp; devices untouched.
		res, err := tx.ExecContext(ctx,
			`DELETE FROM detections WHERE DATE(timestamp) BETWEEN ? AND ?`,
			filter.StartDate, filter.EndDate)
		if err != nil {
			return 0, &PersistenceError{Op: "delete by range", Err: err}
		}
		deleted, _ = res.RowsAffected()

	default:
		res, err := tx.ExecContext(ctx, `DELETE FROM detections`)
		if err != nil {
			return 0, &PersistenceError{Op: "delete all", Err: err}
		}
		deleted, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
			return 0, &PersistenceError{Op: "delete all", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &PersistenceError{Op: "delete: commit", Err: err}
	}
	return deleted, nil
}

// FleetSummary computes the per-device projection: the directory entry
// left-joined with detection totals and the most recent capture time.
// Always computed fresh from current store state.
func (s *SQLiteStore) FleetSummary(ctx context.Context) ([]SummaryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.device_id, d.name, d.location, d.latitude, d.longitude, d.last_seen, d.status,
		        COALESCE(SUM(t.detection_count), 0) AS total_detections,
		        MAX(t.timestamp) AS last_detection
		 FROM devices d
		 LEFT JOIN detections t ON d.device_id = t.device_id
		 GROUP BY d.device_id
		 ORDER BY d.device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []SummaryRow
	for rows.Next() {
		var r SummaryRow
		var lastSeen, status string
		var lastDetection sql.NullString
		if err := rows.Scan(&r.DeviceID, &r.Name, &r.Location, &r.Latitude, &r.Longitude,
			&lastSeen, &status, &r.TotalDetections, &lastDetection); err != nil {
			return nil, err
		}
		r.LastSeen, _ = time.Parse(timeFormat, lastSeen)
		r.Status = DeviceStatus(status)
		if lastDetection.Valid {
			if t, err := time.Parse(timeFormat, lastDetection.String); err == nil {
				r.LastDetection = &t
			}
		}
		summary = append(summary, r)
	}
	return summary, rows.Err()
}

// FleetStats computes fleet-wide aggregate statistics.
func (s *SQLiteStore) FleetStats(ctx context.Context) (*FleetStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &FleetStats{UpdatedAt: time.Now().UTC()}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT device_id) FROM detections`).
		Scan(&stats.TotalDetections, &stats.ActiveDevices); err != nil {
		return nil, err
	}

	var avgTemp, avgHum sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(temperature) FROM detections WHERE temperature IS NOT NULL`).Scan(&avgTemp); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(humidity) FROM detections WHERE humidity IS NOT NULL`).Scan(&avgHum); err != nil {
		return nil, err
	}
	stats.AvgTemperature = round2(avgTemp.Float64)
	stats.AvgHumidity = round2(avgHum.Float64)

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, COUNT(*) AS count
		 FROM detections
		 GROUP BY device_id
		 ORDER BY count DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc DeviceCount
		if err := rows.Scan(&dc.DeviceID, &dc.Count); err != nil {
			return nil, err
		}
		stats.ByDevice = append(stats.ByDevice, dc)
	}
	return stats, rows.Err()
}

func scanDevice(row *sql.Row) (*Device, error) {
	var d Device
	var lastSeen, status string
	err := row.Scan(&d.ID, &d.Name, &d.Location, &d.Latitude, &d.Longitude, &lastSeen, &status)
	if err != nil {
		return nil, err
	}
	d.LastSeen, _ = time.Parse(timeFormat, lastSeen)
	d.Status = DeviceStatus(status)
	return &d, nil
}

func scanDetection(rows *sql.Rows) (*Detection, error) {
	var d Detection
	var ts, createdAt string
	var temp, hum, conf sql.NullFloat64
	err := rows.Scan(&d.ID, &d.DeviceID, &ts, &d.Count, &temp, &hum,
		&d.Latitude, &d.Longitude, &conf, &d.ImageName, &d.ImageURL, &createdAt)
	if err != nil {
		return nil, err
	}
	d.Timestamp, _ = time.Parse(timeFormat, ts)
	d.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	d.Temperature = floatPtr(temp)
	d.Humidity = floatPtr(hum)
	d.Confidence = floatPtr(conf)
	return &d, nil
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
