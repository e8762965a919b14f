package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// JobSource is the read side of the job store.
type JobSource interface {
	Get(jobID string) (jobstore.JobInfo, bool)
	Match(toolPattern, datasetPattern string) ([]jobstore.JobInfo, error)
}

// JobsResponse is the body of GET /jobs.
type JobsResponse struct {
	Jobs  []*output.JobRecord `json:"jobs"`
	Count int                 `json:"count"`
}

// JobsHandler serves recorded jobs. Statuses are derived from the stored
// state; the handler never contacts the cluster.
type JobsHandler struct {
	source  JobSource
	markers slurm.Markers
}

// NewJobsHandler creates a handler over source.
func NewJobsHandler(source JobSource, markers slurm.Markers) *JobsHandler {
	return &JobsHandler{source: source, markers: markers}
}

// List serves GET /jobs. The tool and dataset query parameters accept
// glob patterns.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs, err := h.source.Match(q.Get("tool"), q.Get("dataset"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp := JobsResponse{Jobs: make([]*output.JobRecord, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, output.NewJobRecord(j, h.markers))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get serves GET /jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := slurm.ValidateJobID(jobID); err != nil {
		respondWithError(w, r, err)
		return
	}
	info, ok := h.source.Get(jobID)
	if !ok {
		respondWithError(w, r, fmt.Errorf("job %s: %w", jobID, slurm.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, output.NewJobRecord(info, h.markers))
}
