package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Routes builds the server's HTTP handler: the API mux wrapped with
// CORS.
func Routes(h *Handler, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/reports", h.HandleIngest)

	mux.HandleFunc("GET /api/v1/fleet/locations", h.HandleLocations)
	mux.HandleFunc("GET /api/v1/fleet/statistics", h.HandleStatistics)
	mux.HandleFunc("GET /api/v1/fleet/live", h.HandleLive)

	mux.HandleFunc("GET /api/v1/devices", h.HandleListDevices)
	mux.HandleFunc("GET /api/v1/devices/{id}", h.HandleGetDevice)
	mux.HandleFunc("GET /api/v1/devices/{id}/detections", h.HandleDeviceDetections)
	mux.HandleFunc("GET /api/v1/detections", h.HandleListDetections)

	mux.HandleFunc("DELETE /api/v1/data", h.HandleDeleteData)

	mux.HandleFunc("GET /api/v1/images/{name}", h.HandleImage)
	mux.HandleFunc("GET /api/v1/images/{name}/exists", h.HandleImageExists)
	mux.Handle("GET /images/", http.StripPrefix("/images/",
		http.FileServer(http.Dir(h.artifacts.Dir()))))

	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(mux)
}
