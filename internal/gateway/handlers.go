package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/changzhi777/A-TeamUI-1-sub003/internal/dedup"
	"github.com/changzhi777/A-TeamUI-1-sub003/internal/reporting"
)

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type dedupStatsResponse struct {
	Name string `json:"name"`
	dedup.Stats
}

func MakeDedupStatsHandler(d *dedup.Deduplicator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := json.Marshal(dedupStatsResponse{
			Name:  d.Config().Name,
			Stats: d.Stats(),
		})
		if err != nil {
			reporting.Report(r.Context(), fmt.Errorf("failed to marshal dedup stats: %w", err))
			writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
