package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/JonMunkholm/inseguridad/internal/snapshot"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string     `json:"status"`
	Driver   string     `json:"driver"`
	Latest   string     `json:"latest_run_id,omitempty"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

// SchemaResponse describes the tables of the published snapshot.
type SchemaResponse struct {
	RunID   string                  `json:"run_id"`
	Tables  snapshot.Counts         `json:"tables"`
	Levels  []snapshot.LevelSummary `json:"levels"`
	Quality snapshot.Quality        `json:"quality"`
	Healthy bool                    `json:"healthy"`
}

// handleHealth reports liveness. A store without a published snapshot is
// still healthy; a store that cannot be read is not.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Driver: s.snapshots.Driver()}

	info, err := s.snapshots.Latest(r.Context())
	switch {
	case err == nil:
		resp.Latest = info.RunID
		resp.LoadedAt = &info.CreatedAt
	case errors.Is(err, snapshot.ErrNoSnapshot):
		resp.Status = "empty"
	default:
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := s.snapshots.List(r.Context())
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []snapshot.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := s.snapshots.Latest(r.Context())
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := s.snapshots.Latest(ctx)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	q, err := s.snapshots.LatestQuality(ctx)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	levels := q.ByLevel
	if levels == nil {
		levels = []snapshot.LevelSummary{}
	}
	writeJSON(w, http.StatusOK, SchemaResponse{
		RunID:   info.RunID,
		Tables:  q.Counts,
		Levels:  levels,
		Quality: q,
		Healthy: len(q.Violations()) == 0,
	})
}
