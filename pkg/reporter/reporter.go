// Package reporter implements the device-side client: it packages
// sensor readings and a capture image into multipart field reports and
// pushes them to the fleet server.
package reporter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"
)

// Reading is one capture cycle's worth of telemetry.
type Reading struct {
	Count       int
	Temperature *float64
	Humidity    *float64
	Latitude    float64
	Longitude   float64
	Confidence  *float64
	ImageName   string
	ImageType   string
	Image       []byte
}

// Source produces the next reading. The agent calls it once per
// report interval.
type Source func(ctx context.Context) (Reading, error)

// Reporter periodically pushes field reports to the server.
type Reporter struct {
	serverURL  string
	deviceID   string
	deviceName string
	location   string
	source     Source
	interval   time.Duration
	logger     *log.Logger
	client     *http.Client
}

// Config holds configuration for the reporter.
type Config struct {
	ServerURL  string
	DeviceID   string
	DeviceName string
	Location   string
	Source     Source
	Interval   time.Duration
	Logger     *log.Logger
}

// New creates a reporter.
func New(cfg Config) *Reporter {
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Reporter{
		serverURL:  cfg.ServerURL,
		deviceID:   cfg.DeviceID,
		deviceName: cfg.DeviceName,
		location:   cfg.Location,
		source:     cfg.Source,
		interval:   cfg.Interval,
		logger:     cfg.Logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Run pushes one report immediately on start and one per interval
// after that. Blocks until the context is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.report(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	reading, err := r.source(ctx)
	if err != nil {
		r.logger.Printf("reporter: read sensors: %v", err)
		return
	}
	if err := r.Send(ctx, reading); err != nil {
		r.logger.Printf("reporter: push failed: %v", err)
	}
}

// Send pushes a single reading as a multipart report.
func (r *Reporter) Send(ctx context.Context, reading Reading) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"device_id":       r.deviceID,
		"device_name":     r.deviceName,
		"location":        r.location,
		"detection_count": strconv.Itoa(reading.Count),
		"latitude":        strconv.FormatFloat(reading.Latitude, 'f', -1, 64),
		"longitude":       strconv.FormatFloat(reading.Longitude, 'f', -1, 64),
	}
	if reading.Temperature != nil {
		fields["temperature"] = strconv.FormatFloat(*reading.Temperature, 'f', -1, 64)
	}
	if reading.Humidity != nil {
		fields["humidity"] = strconv.FormatFloat(*reading.Humidity, 'f', -1, 64)
	}
	if reading.Confidence != nil {
		fields["confidence"] = strconv.FormatFloat(*reading.Confidence, 'f', -1, 64)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}

	imageName := reading.ImageName
	if imageName == "" {
		imageName = "capture.jpg"
	}
	imageType := reading.ImageType
	if imageType == "" {
		imageType = "image/jpeg"
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, imageName))
	hdr.Set("Content-Type", imageType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(reading.Image); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := r.serverURL + "/api/v1/reports"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("push report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}
	r.logger.Printf("reporter: pushed report (count=%d)", reading.Count)
	return nil
}
