// Package api serves the fleet HTTP endpoints: report ingestion,
// fleet queries, artifact retrieval, retention and the live observer
// socket.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/trapsight/trapsight/internal/artifact"
	"github.com/trapsight/trapsight/internal/hub"
	"github.com/trapsight/trapsight/pkg/buildinfo"
	"github.com/trapsight/trapsight/pkg/fleet"
)

// maxReportBytes bounds a single multipart report upload.
const maxReportBytes = 16 << 20

// Handler serves the fleet API.
type Handler struct {
	store       fleet.Store
	coordinator *fleet.Coordinator
	agg         *fleet.Aggregator
	hub         *hub.Hub
	artifacts   *artifact.Store
	adminKey    string
	logger      *log.Logger
	upgrader    websocket.Upgrader
}

// HandlerConfig holds configuration for the API handler.
type HandlerConfig struct {
	Store       fleet.Store
	Coordinator *fleet.Coordinator
	Hub         *hub.Hub
	Artifacts   *artifact.Store
	AdminKey    string
	Logger      *log.Logger

	// AllowedOrigins gates WebSocket upgrades. "*" allows any origin.
	AllowedOrigins []string
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	h := &Handler{
		store:       cfg.Store,
		coordinator: cfg.Coordinator,
		agg:         fleet.NewAggregator(cfg.Store),
		hub:         cfg.Hub,
		artifacts:   cfg.Artifacts,
		adminKey:    cfg.AdminKey,
		logger:      cfg.Logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// HandleIngest receives a multipart field report.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBytes)
	if err := r.ParseMultipartForm(maxReportBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	report, err := parseReport(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.coordinator.Ingest(r.Context(), report)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

func parseReport(r *http.Request) (*fleet.Report, error) {
	rep := &fleet.Report{
		DeviceID: strings.TrimSpace(r.FormValue("device_id")),
		Name:     strings.TrimSpace(r.FormValue("device_name")),
		Location: strings.TrimSpace(r.FormValue("location")),
	}

	var err error
	if rep.Count, err = formInt(r, "detection_count"); err != nil {
		return nil, err
	}
	if rep.Latitude, err = formFloat(r, "latitude"); err != nil {
		return nil, err
	}
	if rep.Longitude, err = formFloat(r, "longitude"); err != nil {
		return nil, err
	}
	if rep.Temperature, err = formFloatOpt(r, "temperature"); err != nil {
		return nil, err
	}
	if rep.Humidity, err = formFloatOpt(r, "humidity"); err != nil {
		return nil, err
	}
	if rep.Confidence, err = formFloatOpt(r, "confidence"); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, &fleet.ValidationError{Field: "image", Reason: "required"}
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &fleet.ValidationError{Field: "image", Reason: "unreadable upload"}
	}
	rep.Image = fleet.ImageUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return rep, nil
}

func formInt(r *http.Request, field string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return 0, &fleet.ValidationError{Field: field, Reason: "required"}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &fleet.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return n, nil
}

func formFloat(r *http.Request, field string) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return 0, &fleet.ValidationError{Field: field, Reason: "required"}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &fleet.ValidationError{Field: field, Reason: "must be a number"}
	}
	return f, nil
}

func formFloatOpt(r *http.Request, field string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &fleet.ValidationError{Field: field, Reason: "must be a number"}
	}
	return &f, nil
}

// HandleLocations returns the per-device fleet summary.
func (h *Handler) HandleLocations(w http.ResponseWriter, r *http.Request) {
	rows, err := h.agg.Summary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []fleet.SummaryRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// HandleStatistics returns fleet-wide aggregate statistics.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.agg.Statistics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleListDevices returns the device directory.
func (h *Handler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if devices == nil {
		devices = []fleet.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

// HandleGetDevice returns one device by identity.
func (h *Handler) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "device id required"})
		return
	}
	dev, err := h.store.GetDevice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// HandleDeviceDetections returns recent detections for one device.
func (h *Handler) HandleDeviceDetections(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "device id required"})
		return
	}
	if _, err := h.store.GetDevice(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	limit := queryLimit(r, 20)
	dets, err := h.store.ListDetections(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if dets == nil {
		dets = []fleet.Detection{}
	}
	writeJSON(w, http.StatusOK, dets)
}

// HandleListDetections returns recent detections across the fleet.
func (h *Handler) HandleListDetections(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	dets, err := h.store.ListDetections(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if dets == nil {
		dets = []fleet.Detection{}
	}
	writeJSON(w, http.StatusOK, dets)
}

// HandleDeleteData removes stored detections (admin only). A device_id
// query parameter selects identity mode; otherwise start_date plus
// end_date selects range mode; with no parameters everything goes.
func (h *Handler) HandleDeleteData(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	q := r.URL.Query()
	filter := fleet.DeleteFilter{
		DeviceID:  q.Get("device_id"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}
	if filter.DeviceID == "" && (filter.StartDate == "") != (filter.EndDate == "") {
		writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "start_date and end_date are both required for range deletion"})
		return
	}

	deleted, err := h.store.DeleteDetections(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Printf("deleted %d detections (device=%q start=%q end=%q)",
		deleted, filter.DeviceID, filter.StartDate, filter.EndDate)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"deleted": deleted,
	})
}

// HandleLive upgrades the connection and attaches it as an observer.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Printf("websocket upgrade: %v", err)
		return
	}
	if err := hub.ServeConn(r.Context(), h.hub, conn); err != nil {
		h.logger.Printf("observer connection closed: %v", err)
	}
}

// HandleImage streams a stored report image.
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	path, err := h.artifacts.Path(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid image name"})
		return
	}
	if !h.artifacts.Exists(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "image not found"})
		return
	}
	http.ServeFile(w, r, path)
}

// HandleImageExists reports whether a stored image exists.
func (h *Handler) HandleImageExists(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":   name,
		"exists": h.artifacts.Exists(name),
	})
}

// HandleHealth is the liveness endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   buildinfo.Version,
		"observers": h.hub.Len(),
	})
}

// requireAdmin checks that the request has valid admin credentials.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminKey == "" {
		// No admin key configured, allow all (development mode)
		return true
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin authorization required"})
		return false
	}
	key := strings.TrimPrefix(auth, "Bearer ")
	if key != h.adminKey {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid admin credentials"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var verr *fleet.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.Is(err, fleet.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
