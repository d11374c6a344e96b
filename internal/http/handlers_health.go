package httpx

import (
	"io"
	"net/http"
)

const healthResponse = `{"status":"ok","service":"gather-ui-api"}`

// healthHandler answers readiness and liveness checks. It reports process
// health only; session provider reachability is not part of the contract,
// since a degraded provider still leaves the redirect flow serviceable
// through the sign-in fallback.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}
