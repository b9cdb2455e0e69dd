package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/devices"
	"github.com/mobiletester/mt-api/internal/domain/model"
	"github.com/mobiletester/mt-api/internal/service"
)

const defaultDeviceCount = 5

// UploadHandlers provides the multipart APK upload endpoint.
type UploadHandlers struct {
	Artifacts      core.ArtifactStore
	Jobs           *service.JobOrchestrator
	Catalog        *devices.Catalog
	MaxUploadBytes int64
}

// uploadResponse is the payload for POST /api/upload.
type uploadResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// Upload handles POST /api/upload: stores the APK and creates a queued job.
// Form fields: "apk" (file, required), "devices" (JSON array of catalog ids,
// optional), "context" (free text for the analysis prompt, optional).
func (h *UploadHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	session := GetSessionFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_form",
			Err:     fmt.Errorf("parse multipart form: %w", err),
		})
		return
	}

	file, header, err := r.FormFile("apk")
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_file",
			Err:     errors.New("APK file is required"),
		})
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_file",
			Err:     fmt.Errorf("read upload: %w", err),
		})
		return
	}

	deviceIDs := h.resolveDevices(r.FormValue("devices"))

	ref, err := h.Artifacts.Upload(r.Context(), core.UploadArtifactParams{
		OwnerID:  session.UserID,
		Name:     header.Filename,
		Body:     body,
		MimeType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	job, err := h.Jobs.Submit(r.Context(), &model.CreateJobRequest{
		OwnerID:      session.UserID,
		ArtifactRef:  ref,
		ArtifactName: header.Filename,
		Context:      r.FormValue("context"),
		DeviceIDs:    deviceIDs,
	})
	if err != nil {
		// The job was never created; the stored artifact must not leak.
		_ = h.Artifacts.Delete(r.Context(), ref)
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, uploadResponse{
		JobID:   job.ID,
		Message: "APK uploaded successfully and testing has been queued",
	})
}

// resolveDevices parses the devices form field and filters it against the
// catalog. A missing, malformed, or fully-unknown selection falls back to
// the default popular devices.
func (h *UploadHandlers) resolveDevices(raw string) []string {
	if raw == "" {
		return h.Catalog.ListDefault(defaultDeviceCount)
	}

	var requested []string
	if err := json.Unmarshal([]byte(raw), &requested); err != nil {
		return h.Catalog.ListDefault(defaultDeviceCount)
	}

	known := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, ok := h.Catalog.Lookup(id); ok {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return h.Catalog.ListDefault(defaultDeviceCount)
	}
	return known
}
