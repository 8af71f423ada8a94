package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/sessions"
)

// registerSessionRoutes wires the launcher lease-scope routes of spec
// §4.4/§6: open, close (DELETE), heartbeat ticks, and acquire.
func registerSessionRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/sessions/", openSessionHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", getSessionHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", closeSessionHandler(d)).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/ticks", tickSessionHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/acquire", acquireSessionHandler(d)).Methods(http.MethodPost)
}

func openSessionHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SiteID     string  `json:"site_id"`
			BatchJobID *string `json:"batch_job_id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		session, err := d.Sessions.Open(r.Context(), ownerFromContext(r.Context()), req.SiteID, req.BatchJobID, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

func getSessionHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		session, err := d.Sessions.Get(r.Context(), ownerFromContext(r.Context()), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func closeSessionHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := d.Sessions.Close(r.Context(), ownerFromContext(r.Context()), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func tickSessionHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		session, err := d.Sessions.Tick(r.Context(), ownerFromContext(r.Context()), id, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func acquireSessionHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			States         []domain.JobState      `json:"states"`
			FilterTags     map[string]string      `json:"filter_tags"`
			AcquireUnbound bool                   `json:"acquire_unbound"`
			MaxNumAcquire  int                    `json:"max_num_acquire"`
			NodeResources  *sessions.NodeResources `json:"node_resources"`
			OrderBy        []string               `json:"order_by"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		id := mux.Vars(r)["id"]
		spec := sessions.AcquireSpec{
			States:         req.States,
			FilterTags:     req.FilterTags,
			AcquireUnbound: req.AcquireUnbound,
			MaxNumAcquire:  req.MaxNumAcquire,
			NodeResources:  req.NodeResources,
			OrderBy:        jobOrderTermsFromStrings(req.OrderBy),
		}
		acquired, err := d.Sessions.Acquire(r.Context(), ownerFromContext(r.Context()), id, spec, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acquired)
	}
}
