package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trapsight/trapsight/internal/artifact"
	"github.com/trapsight/trapsight/internal/hub"
	"github.com/trapsight/trapsight/pkg/fleet"
)

type testServer struct {
	srv       *httptest.Server
	store     *fleet.SQLiteStore
	artifacts *artifact.Store
}

func newTestServer(t *testing.T, adminKey string) *testServer {
	t.Helper()

	store, err := fleet.NewSQLiteStore(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artifacts, err := artifact.NewStore(t.TempDir(), "http://test/api/v1/images")
	if err != nil {
		t.Fatalf("artifact.NewStore: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	agg := fleet.NewAggregator(store)
	observers := hub.New(hub.Config{Snapshot: agg.Snapshot, Buffer: 16, Logger: logger})
	coordinator := fleet.NewCoordinator(fleet.CoordinatorConfig{
		Store:     store,
		Artifacts: artifacts,
		Broadcast: observers,
		Logger:    logger,
	})

	h := NewHandler(HandlerConfig{
		Store:          store,
		Coordinator:    coordinator,
		Hub:            observers,
		Artifacts:      artifacts,
		AdminKey:       adminKey,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
	})

	srv := httptest.NewServer(Routes(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, artifacts: artifacts}
}

type reportFields struct {
	deviceID  string
	name      string
	count     string
	latitude  string
	longitude string
	temp      string
	withImage bool
	imageType string
}

func defaultReport() reportFields {
	return reportFields{
		deviceID:  "trap-1",
		name:      "North Field",
		count:     "4",
		latitude:  "59.33",
		longitude: "18.07",
		temp:      "20.5",
		withImage: true,
		imageType: "image/jpeg",
	}
}

func postReport(t *testing.T, ts *testServer, rf reportFields) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"device_id":       rf.deviceID,
		"device_name":     rf.name,
		"detection_count": rf.count,
		"latitude":        rf.latitude,
		"longitude":       rf.longitude,
		"temperature":     rf.temp,
	}
	for k, v := range fields {
		if v != "" {
			mw.WriteField(k, v)
		}
	}
	if rf.withImage {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="image"; filename="capture.jpg"`)
		hdr.Set("Content-Type", rf.imageType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write([]byte("fake-jpeg-bytes"))
	}
	mw.Close()

	resp, err := http.Post(ts.srv.URL+"/api/v1/reports", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/v1/reports: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPI_IngestAndQuery(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postReport(t, ts, defaultReport())
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, body)
	}
	var ack fleet.Ack
	decodeBody(t, resp, &ack)
	if ack.DetectionID == 0 || ack.ImageName == "" {
		t.Errorf("ack = %+v, want detection id and image name", ack)
	}
	if !ts.artifacts.Exists(ack.ImageName) {
		t.Errorf("image %s not stored", ack.ImageName)
	}

	locResp, err := http.Get(ts.srv.URL + "/api/v1/fleet/locations")
	if err != nil {
		t.Fatalf("GET locations: %v", err)
	}
	var rows []fleet.SummaryRow
	decodeBody(t, locResp, &rows)
	if len(rows) != 1 || rows[0].DeviceID != "trap-1" || rows[0].TotalDetections != 4 {
		t.Errorf("locations = %+v, want trap-1 with 4 detections", rows)
	}

	statsResp, err := http.Get(ts.srv.URL + "/api/v1/fleet/statistics")
	if err != nil {
		t.Fatalf("GET statistics: %v", err)
	}
	var stats fleet.FleetStats
	decodeBody(t, statsResp, &stats)
	if stats.TotalDetections != 1 || stats.ActiveDevices != 1 {
		t.Errorf("stats = %+v, want 1 detection from 1 device", stats)
	}
	if stats.AvgTemperature != 20.5 {
		t.Errorf("AvgTemperature = %v, want 20.5", stats.AvgTemperature)
	}
}

func TestAPI_Ingest_Rejections(t *testing.T) {
	ts := newTestServer(t, "")

	cases := []struct {
		name   string
		mutate func(*reportFields)
	}{
		{"missing image", func(rf *reportFields) { rf.withImage = false }},
		{"missing device id", func(rf *reportFields) { rf.deviceID = "" }},
		{"bad count", func(rf *reportFields) { rf.count = "many" }},
		{"non-image upload", func(rf *reportFields) { rf.imageType = "text/plain" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rf := defaultReport()
			tc.mutate(&rf)
			resp := postReport(t, ts, rf)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	// Nothing leaked into the store.
	devices, _ := ts.store.ListDevices(t.Context())
	if len(devices) != 0 {
		t.Errorf("devices after rejected reports = %d, want 0", len(devices))
	}
}

func TestAPI_DeviceDetections(t *testing.T) {
	ts := newTestServer(t, "")
	postReport(t, ts, defaultReport()).Body.Close()

	resp, err := http.Get(ts.srv.URL + "/api/v1/devices/trap-1/detections")
	if err != nil {
		t.Fatalf("GET detections: %v", err)
	}
	var dets []fleet.Detection
	decodeBody(t, resp, &dets)
	if len(dets) != 1 || dets[0].Count != 4 {
		t.Errorf("detections = %+v, want one with count 4", dets)
	}

	missing, err := http.Get(ts.srv.URL + "/api/v1/devices/ghost/detections")
	if err != nil {
		t.Fatalf("GET ghost detections: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status for unknown device = %d, want 404", missing.StatusCode)
	}
}

func deleteData(t *testing.T, ts *testServer, query, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, ts.srv.URL+"/api/v1/data"+query, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/v1/data: %v", err)
	}
	return resp
}

func TestAPI_DeleteData_AdminAuth(t *testing.T) {
	ts := newTestServer(t, "sekrit")
	postReport(t, ts, defaultReport()).Body.Close()

	resp := deleteData(t, ts, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", resp.StatusCode)
	}

	resp = deleteData(t, ts, "", "wrong")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bad credentials: status = %d, want 403", resp.StatusCode)
	}

	resp = deleteData(t, ts, "?device_id=trap-1", "sekrit")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good credentials: status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	decodeBody(t, resp, &out)
	if out.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", out.Deleted)
	}
}

func TestAPI_DeleteData_DevModeOpen(t *testing.T) {
	ts := newTestServer(t, "")
	postReport(t, ts, defaultReport()).Body.Close()

	resp := deleteData(t, ts, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("dev mode: status = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_DeleteData_HalfRangeRejected(t *testing.T) {
	ts := newTestServer(t, "")

	resp := deleteData(t, ts, "?start_date=2026-08-01", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("half range: status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_Images(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postReport(t, ts, defaultReport())
	var ack fleet.Ack
	decodeBody(t, resp, &ack)

	imgResp, err := http.Get(ts.srv.URL + "/api/v1/images/" + ack.ImageName)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	body, _ := io.ReadAll(imgResp.Body)
	imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK || string(body) != "fake-jpeg-bytes" {
		t.Errorf("image fetch: status %d, body %q", imgResp.StatusCode, body)
	}

	missing, _ := http.Get(ts.srv.URL + "/api/v1/images/nope.jpg")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing image: status = %d, want 404", missing.StatusCode)
	}

	exResp, _ := http.Get(ts.srv.URL + "/api/v1/images/" + ack.ImageName + "/exists")
	var ex struct {
		Exists bool `json:"exists"`
	}
	decodeBody(t, exResp, &ex)
	if !ex.Exists {
		t.Error("exists = false, want true")
	}
}

func TestAPI_Health(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var out struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &out)
	if out.Status != "ok" {
		t.Errorf("status = %q, want ok", out.Status)
	}
}

func TestAPI_Live_SnapshotThenDetection(t *testing.T) {
	ts := newTestServer(t, "")
	postReport(t, ts, defaultReport()).Body.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/fleet/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	readEvent := func() (string, json.RawMessage) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var ev struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return ev.Type, ev.Data
	}

	typ, data := readEvent()
	if typ != fleet.EventSnapshot {
		t.Fatalf("first frame = %q, want %q", typ, fleet.EventSnapshot)
	}
	var snap fleet.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Locations) != 1 || snap.Locations[0].DeviceID != "trap-1" {
		t.Errorf("snapshot locations = %+v, want trap-1", snap.Locations)
	}

	// A report lands while attached: new_detection arrives next.
	rf := defaultReport()
	rf.deviceID = "trap-2"
	rf.name = "South Field"
	postReport(t, ts, rf).Body.Close()

	typ, data = readEvent()
	if typ != fleet.EventNewDetection {
		t.Fatalf("second frame = %q, want %q", typ, fleet.EventNewDetection)
	}
	var det fleet.Detection
	if err := json.Unmarshal(data, &det); err != nil {
		t.Fatalf("decode detection: %v", err)
	}
	if det.DeviceID != "trap-2" {
		t.Errorf("detection device = %q, want trap-2", det.DeviceID)
	}
}
