package httpx

import (
	"net/http"

	"github.com/mobiletester/mt-api/internal/devices"
)

// DeviceHandlers serves the device catalog.
type DeviceHandlers struct {
	Catalog *devices.Catalog
}

// List handles GET /api/devices.
func (h *DeviceHandlers) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"devices": h.Catalog.ListAll(),
		"default": h.Catalog.ListDefault(defaultDeviceCount),
	})
}
