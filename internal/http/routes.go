package httpx

import (
	"log/slog"
	"net/http"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/devices"
	"github.com/mobiletester/mt-api/internal/ports"
	"github.com/mobiletester/mt-api/internal/service"
)

// RouterServices holds the collaborators wired into the HTTP router.
type RouterServices struct {
	Jobs      *service.JobOrchestrator // Required
	Artifacts core.ArtifactStore       // Required
	Reports   core.ReportRenderer      // Required
	Catalog   *devices.Catalog         // Optional: defaults to the built-in catalog

	Sessions   ports.SessionStore  // Required unless Issuer is set
	Issuer     ports.SessionIssuer // Optional: development auth
	CookieName string              // Optional

	MaxUploadBytes int64        // Optional: defaults to a bit over the APK cap
	Logger         *slog.Logger // Optional
}

// NewRouter creates the HTTP handler for the API.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := services.Catalog
	if catalog == nil {
		catalog = devices.NewCatalog()
	}
	maxUpload := services.MaxUploadBytes
	if maxUpload <= 0 {
		// APK cap plus multipart framing headroom.
		maxUpload = 51*1024*1024 + 512*1024
	}

	jobHandlers := &JobHandlers{Jobs: services.Jobs, Reports: services.Reports}
	uploadHandlers := &UploadHandlers{
		Artifacts:      services.Artifacts,
		Jobs:           services.Jobs,
		Catalog:        catalog,
		MaxUploadBytes: maxUpload,
	}
	deviceHandlers := &DeviceHandlers{Catalog: catalog}

	requireAuth := RequireAuth(AuthOptions{
		Sessions:   services.Sessions,
		CookieName: services.CookieName,
		Issuer:     services.Issuer,
		Logger:     logger,
	})
	requireAdmin := RequireAdmin()

	mux := http.NewServeMux()
	mux.Handle("POST /api/upload", requireAuth(http.HandlerFunc(uploadHandlers.Upload)))
	mux.Handle("GET /api/jobs", requireAuth(http.HandlerFunc(jobHandlers.List)))
	mux.Handle("GET /api/jobs/{id}", requireAuth(http.HandlerFunc(jobHandlers.Get)))
	mux.Handle("POST /api/jobs/{id}/cancel", requireAuth(http.HandlerFunc(jobHandlers.Cancel)))
	mux.Handle("DELETE /api/jobs/{id}", requireAuth(http.HandlerFunc(jobHandlers.Delete)))
	mux.Handle("GET /api/jobs/{id}/report", requireAuth(http.HandlerFunc(jobHandlers.Report)))
	mux.Handle("GET /api/devices", requireAuth(http.HandlerFunc(deviceHandlers.List)))
	mux.Handle("GET /api/admin/jobs/active", requireAuth(requireAdmin(http.HandlerFunc(jobHandlers.ListActive))))
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
