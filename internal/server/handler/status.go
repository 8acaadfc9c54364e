package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the process status (mode, uptime, loaded strategies)
// for dashboards and probes.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	Directory Directory
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, directory Directory) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, Directory: directory}
}

// GetStatus responds with the current mode, uptime and strategy names.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	infos := h.Directory.Infos()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"strategies":     names,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
