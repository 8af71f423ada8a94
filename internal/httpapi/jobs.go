package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/bulk"
	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/jobs"
)

func registerJobRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/jobs/", listJobsHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/jobs/", bulkCreateJobsHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/", bulkUpdateJobsHandler(d)).Methods(http.MethodPatch)
	api.HandleFunc("/jobs/", updateJobsByQueryHandler(d)).Methods(http.MethodPut)
	api.HandleFunc("/jobs/", deleteJobsByQueryHandler(d)).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}", getJobHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", updateJobHandler(d)).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{id}", deleteJobHandler(d)).Methods(http.MethodDelete)
}

// jobQueryFromRequest builds a jobs.Query from list/filter query parameters
// (spec §4.1).
func jobQueryFromRequest(r *http.Request) jobs.Query {
	q := r.URL.Query()
	var states []domain.JobState
	for _, s := range csvParam(r, "states") {
		states = append(states, domain.JobState(s))
	}
	return jobs.Query{
		IDs:          csvParam(r, "ids"),
		ParentID:     q.Get("parent_id"),
		AppID:        q.Get("app_id"),
		SiteID:       q.Get("site_id"),
		BatchJobID:   q.Get("batch_job_id"),
		WorkdirLike:  q.Get("workdir_like"),
		States:       states,
		NotState:     domain.JobState(q.Get("not_state")),
		OrderBy:      jobOrderTermsFromStrings(csvParam(r, "order_by")),
		Pagination:   paginationFromQuery(r),
	}
}

func listJobsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := d.Jobs.List(r.Context(), ownerFromContext(r.Context()), jobQueryFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listEnvelope{Count: result.Total, Results: result.Items})
	}
}

func bulkCreateJobsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var specs []domain.Job
		if !decodeJSON(w, r, &specs) {
			return
		}
		created, err := d.Bulk.BulkCreateJobs(r.Context(), ownerFromContext(r.Context()), specs, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// jobPatchWire is the wire shape of one id-keyed bulk_update entry (spec
// §4.2's enumerated writable Job fields).
type jobPatchWire struct {
	ID             string                   `json:"id"`
	Workdir        *string                  `json:"workdir"`
	Tags           map[string]string        `json:"tags"`
	Parameters     map[string]string        `json:"parameters"`
	ResourceHints  *domain.ResourceHints    `json:"resource_hints"`
	State          *domain.JobState         `json:"state"`
	StateMessage   string                   `json:"state_message"`
	StateTimestamp *time.Time               `json:"state_timestamp"`
	ReturnCode     *int                     `json:"return_code"`
	Parents        []string                 `json:"parents"`
	BatchJobID     *string                  `json:"batch_job_ref"`
	Data           map[string]string        `json:"data"`
}

func (w jobPatchWire) toPatch() jobs.Patch {
	return jobs.Patch{
		Workdir:        w.Workdir,
		Tags:           w.Tags,
		Parameters:     w.Parameters,
		ResourceHints:  w.ResourceHints,
		State:          w.State,
		StateMessage:   w.StateMessage,
		StateTimestamp: w.StateTimestamp,
		ReturnCode:     w.ReturnCode,
		Parents:        w.Parents,
		BatchJobID:     w.BatchJobID,
		Data:           w.Data,
	}
}

func bulkUpdateJobsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire []jobPatchWire
		if !decodeJSON(w, r, &wire) {
			return
		}
		patches := make([]bulk.JobPatch, len(wire))
		for i, p := range wire {
			patches[i] = bulk.JobPatch{ID: p.ID, Patch: p.toPatch()}
		}
		updated, err := d.Bulk.BulkUpdateJobs(r.Context(), ownerFromContext(r.Context()), patches, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func updateJobsByQueryHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire jobPatchWire
		if !decodeJSON(w, r, &wire) {
			return
		}
		q := jobQueryFromRequest(r)
		updated, err := d.Bulk.UpdateJobsByQuery(r.Context(), ownerFromContext(r.Context()), q, wire.toPatch(), time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteJobsByQueryHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := jobQueryFromRequest(r)
		ids, err := d.Bulk.DeleteJobsByQuery(r.Context(), ownerFromContext(r.Context()), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"deleted_ids": ids})
	}
}

func getJobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		job, err := d.Jobs.Get(r.Context(), ownerFromContext(r.Context()), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func updateJobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var wire jobPatchWire
		if !decodeJSON(w, r, &wire) {
			return
		}
		id := mux.Vars(r)["id"]
		updated, _, err := d.Jobs.Update(r.Context(), ownerFromContext(r.Context()), id, wire.toPatch(), time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteJobHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := d.Jobs.Delete(r.Context(), ownerFromContext(r.Context()), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
