package http

import (
	"encoding/json"
	stdhttp "net/http"
)

// HealthHandler reports liveness. It deliberately touches no dependencies;
// a hung database must not make the process look dead to the orchestrator.
func HealthHandler(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stdhttp.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "curiosa-api",
	})
}
