package handlers

import (
	"errors"
	"net/http"

	"github.com/ln2t/hpcjobs/internal/server/middleware"
	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// respondWithError maps domain errors onto the error envelope.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	middleware.WriteErrorResponse(w, middleware.NewError(r, code, err.Error()), status)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, slurm.ErrInvalidJobID), errors.Is(err, jobstore.ErrInvalidPattern):
		return http.StatusBadRequest, middleware.CodeBadRequest
	case slurm.IsNotFound(err):
		return http.StatusNotFound, middleware.CodeNotFound
	default:
		return http.StatusInternalServerError, middleware.CodeInternal
	}
}
