package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/engine"
	"github.com/tilegrid-io/tilegrid/internal/grid"
	"github.com/tilegrid-io/tilegrid/internal/router"
)

type handlers struct {
	logger *slog.Logger
	eng    *engine.Engine
}

// ingest accepts a single geometry object or a JSON array for a batch.
func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var geoms []model.Geometry
		if err := json.Unmarshal(raw, &geoms); err != nil {
			http.Error(w, "invalid geometry batch: "+err.Error(), http.StatusBadRequest)
			return
		}
		results, err := h.eng.IngestBatch(r.Context(), geoms)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"committed": results})
		return
	}

	var g model.Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		http.Error(w, "invalid geometry: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.eng.Ingest(r.Context(), g)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	window, err := parseBBoxParam(r.URL.Query().Get("bbox"), h.eng.Grid().SRID())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := h.eng.Plan(r.Context(), window)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "rows": rows})
}

func (h *handlers) route(w http.ResponseWriter, r *http.Request) {
	window, err := parseBBoxParam(r.URL.Query().Get("bbox"), h.eng.Grid().SRID())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	excludeDefault := r.URL.Query().Get("exclude_default") == "true"

	cands, err := h.eng.Route(window, router.Options{ExcludeDefault: excludeDefault})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	tiles := make([]string, len(cands.Coords))
	for i, c := range cands.Coords {
		tiles[i] = c.Key()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiles":      tiles,
		"partitions": cands.Partitions,
	})
}

func (h *handlers) listPartitions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"partitions": h.eng.ListAll()})
}

func (h *handlers) ensurePartition(w http.ResponseWriter, r *http.Request) {
	tileKey := chi.URLParam(r, "tileKey")
	if _, err := grid.ParseKey(tileKey); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := h.eng.EnsurePartition(r.Context(), tileKey)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrQueryTooBroad):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrInvalidGeometry),
		errors.Is(err, model.ErrReferenceSystemMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrPartitionCreateFailed):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// parseBBoxParam parses "x1,y1,x2,y2" or "x1,y1,x2,y2,SRID". When the SRID
// is present it must match the grid's; when absent the grid's is assumed.
func parseBBoxParam(raw, gridSRID string) (model.BBox, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.BBox{}, errors.New("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("bbox expects x1,y1,x2,y2[,SRID]")
	}
	vals := make([]float64, 4)
	for i := range vals {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("bbox component %d: %w", i+1, err)
		}
		vals[i] = f
	}
	srid := gridSRID
	if len(parts) == 5 {
		srid = strings.TrimSpace(parts[4])
	}
	b := model.BBox{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3], SRID: srid}
	if !b.Valid() {
		return model.BBox{}, errors.New("bbox must be finite with x2>=x1 and y2>=y1")
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
