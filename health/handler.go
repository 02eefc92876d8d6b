package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated health document. A healthy or degraded
// system answers 200 so load balancers keep routing during partial
// degradation; only an unhealthy system answers 503.
func Handler(m *Monitor, system string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := m.Aggregate(system)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
