package history

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

// RegisterRoutes mounts the history API on mux.
func (s *Store) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/transitions", s.handleListTransitions)
}

// handleListTransitions returns stored transitions, newest first.
// Query parameters: zone, alarm, since (RFC 3339), limit (1-1000).
func (s *Store) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{
		Zone:  models.ZoneID(q.Get("zone")),
		Alarm: q.Get("alarm"),
		Limit: parseLimit(r, DefaultLimit),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = ts
	}

	records, err := s.List(r.Context(), f)
	if err != nil {
		s.logger.Warn("failed to list transitions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list transitions")
		return
	}
	if records == nil {
		records = []Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func parseLimit(r *http.Request, defaultLimit int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return defaultLimit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://github.com/cdklabs/cdk-multi-az-observability/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
