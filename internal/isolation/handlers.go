package isolation

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/cdklabs/cdk-multi-az-observability-sub001/internal/metric"
	"github.com/cdklabs/cdk-multi-az-observability-sub001/pkg/models"
)

const problemBase = "https://github.com/cdklabs/cdk-multi-az-observability/problems/"

// Recorder accepts pushed samples. Both metric.MemorySource and
// metric.SQLSource implement it.
type Recorder interface {
	Record(ctx context.Context, q metric.Query, ts time.Time, value float64) error
}

// Handler serves the detector's HTTP API.
type Handler struct {
	detector *Detector
	recorder Recorder
	ingest   []func(http.Handler) http.Handler
	logger   *zap.Logger
}

// NewHandler creates the API handler. recorder may be nil, in which case
// sample ingestion is not mounted. ingest wraps the ingestion route only,
// outermost first; authentication and rate limiting go there.
func NewHandler(d *Detector, recorder Recorder, logger *zap.Logger, ingest ...func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{detector: d, recorder: recorder, ingest: ingest, logger: logger}
}

// RegisterRoutes mounts the API on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/zones", h.handleListZones)
	mux.HandleFunc("GET /api/v1/zones/{zone}", h.handleGetZone)
	mux.HandleFunc("GET /api/v1/ticks/last", h.handleLastTick)
	if h.recorder != nil {
		var record http.Handler = http.HandlerFunc(h.handleRecordSamples)
		for i := len(h.ingest) - 1; i >= 0; i-- {
			record = h.ingest[i](record)
		}
		mux.Handle("POST /api/v1/samples", record)
	}
}

// handleListZones returns every zone's isolated-impact status.
func (h *Handler) handleListZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.detector.Snapshot())
}

// handleGetZone returns one zone's status, including its alarm tree.
func (h *Handler) handleGetZone(w http.ResponseWriter, r *http.Request) {
	zone := models.ZoneID(r.PathValue("zone"))
	st, ok := h.detector.Zone(zone)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown zone "+zone.String())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleLastTick returns the report of the most recent tick.
func (h *Handler) handleLastTick(w http.ResponseWriter, _ *http.Request) {
	last := h.detector.LastTick()
	if last.ID == "" {
		writeError(w, http.StatusNotFound, "no tick has run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// SampleRequest is one pushed raw metric sample.
type SampleRequest struct {
	ResourceID string        `json:"resource_id"`
	Zone       models.ZoneID `json:"zone"`
	Metric     string        `json:"metric"`
	Timestamp  time.Time     `json:"timestamp"`
	Value      float64       `json:"value"`
}

// handleRecordSamples stores a batch of samples for monitored resources.
func (h *Handler) handleRecordSamples(w http.ResponseWriter, r *http.Request) {
	var batch []SampleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	queries := make([]metric.Query, len(batch))
	for i, s := range batch {
		q, ok := h.detector.query(s.ResourceID, s.Zone, s.Metric)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown series "+s.ResourceID+"/"+s.Zone.String()+"/"+s.Metric)
			return
		}
		if s.Timestamp.IsZero() {
			writeError(w, http.StatusBadRequest, "timestamp is required")
			return
		}
		queries[i] = q
	}
	for i, s := range batch {
		if err := h.recorder.Record(r.Context(), queries[i], s.Timestamp, s.Value); err != nil {
			h.logger.Warn("failed to record sample", zap.String("query", queries[i].String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to record samples")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"recorded": len(batch)})
}

// query returns the Query for a monitored series.
func (d *Detector) query(resourceID string, zone models.ZoneID, name string) (metric.Query, bool) {
	for _, res := range d.resources {
		if res.ID != resourceID || res.Zone != zone {
			continue
		}
		if !slices.Contains(d.defs[res.Class].Metrics, name) {
			return metric.Query{}, false
		}
		return metric.Query{ResourceID: res.ID, Zone: res.Zone, Name: name, Period: d.cfg.period}, true
	}
	return metric.Query{}, false
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
		"type":   problemBase + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
