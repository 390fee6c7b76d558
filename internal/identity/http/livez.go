package http

import (
	"net/http"
	"time"

	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/httpx"
)

// LivezHandler is the liveness probe. It returns 200 whenever the process is
// up, with uptime and version for humans.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		}
		httpx.WriteJSON(w, http.StatusOK, response)
	}
}
