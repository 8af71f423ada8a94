package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/batchjobs"
	"github.com/tylern4/balsam/internal/bulk"
	"github.com/tylern4/balsam/internal/domain"
)

func registerBatchJobRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/batch-jobs/", listBatchJobsHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/batch-jobs/", bulkCreateBatchJobsHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/batch-jobs/", bulkUpdateBatchJobsHandler(d)).Methods(http.MethodPatch)
	api.HandleFunc("/batch-jobs/{id}", getBatchJobHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/batch-jobs/{id}", updateBatchJobHandler(d)).Methods(http.MethodPut)
	api.HandleFunc("/batch-jobs/{id}", deleteBatchJobHandler(d)).Methods(http.MethodDelete)
}

func batchJobQueryFromRequest(r *http.Request) batchjobs.Query {
	var states []domain.BatchJobState
	for _, s := range csvParam(r, "states") {
		states = append(states, domain.BatchJobState(s))
	}
	return batchjobs.Query{
		SiteIDs:    csvParam(r, "site_ids"),
		States:     states,
		Pagination: paginationFromQuery(r),
	}
}

func listBatchJobsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := d.BatchJobs.List(r.Context(), ownerFromContext(r.Context()), batchJobQueryFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listEnvelope{Count: result.Total, Results: result.Items})
	}
}

func bulkCreateBatchJobsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var specs []domain.BatchJob
		if !decodeJSON(w, r, &specs) {
			return
		}
		created, err := d.Bulk.BulkCreateBatchJobs(r.Context(), ownerFromContext(r.Context()), specs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// batchJobPatchWire is the wire shape of one id-keyed bulk_update entry
// (spec §4.2's enumerated writable BatchJob fields, plus the revert flag).
type batchJobPatchWire struct {
	ID          string                  `json:"id"`
	Project     *string                 `json:"project"`
	Queue       *string                 `json:"queue"`
	NumNodes    *int                    `json:"num_nodes"`
	WallTimeMin *int                    `json:"wall_time_min"`
	JobMode     *string                 `json:"job_mode"`
	State       *domain.BatchJobState   `json:"state"`
	SchedulerID *int64                  `json:"scheduler_id"`
	StatusInfo  *string                 `json:"status_info"`
	StartTime   *time.Time              `json:"start_time"`
	EndTime     *time.Time              `json:"end_time"`
	Revert      bool                    `json:"revert"`
}

func (w batchJobPatchWire) toPatch() batchjobs.Patch {
	return batchjobs.Patch{
		Project:     w.Project,
		Queue:       w.Queue,
		NumNodes:    w.NumNodes,
		WallTimeMin: w.WallTimeMin,
		JobMode:     w.JobMode,
		State:       w.State,
		SchedulerID: w.SchedulerID,
		StatusInfo:  w.StatusInfo,
		StartTime:   w.StartTime,
		EndTime:     w.EndTime,
		Revert:      w.Revert,
	}
}

func bulkUpdateBatchJobsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire []batchJobPatchWire
		if !decodeJSON(w, r, &wire) {
			return
		}
		patches := make([]bulk.BatchJobPatch, len(wire))
		for i, p := range wire {
			patches[i] = bulk.BatchJobPatch{ID: p.ID, Patch: p.toPatch()}
		}
		updated, err := d.Bulk.BulkUpdateBatchJobs(r.Context(), ownerFromContext(r.Context()), patches)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func getBatchJobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		bj, err := d.BatchJobs.Get(r.Context(), ownerFromContext(r.Context()), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bj)
	}
}

func updateBatchJobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire batchJobPatchWire
		if !decodeJSON(w, r, &wire) {
			return
		}
		id := mux.Vars(r)["id"]
		updated, err := d.BatchJobs.Apply(r.Context(), ownerFromContext(r.Context()), id, wire.toPatch())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteBatchJobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := d.BatchJobs.Delete(r.Context(), ownerFromContext(r.Context()), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
