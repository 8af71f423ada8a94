package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/apps"
	"github.com/tylern4/balsam/internal/domain"
)

func registerAppRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/apps/", listAppsHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/apps/", createAppHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/apps/merge", mergeAppsHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}", getAppHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}", updateAppHandler(d)).Methods(http.MethodPut)
	api.HandleFunc("/apps/{id}", deleteAppHandler(d)).Methods(http.MethodDelete)
}

func listAppsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := apps.Query{
			Name:       r.URL.Query().Get("name"),
			SiteID:     r.URL.Query().Get("site_id"),
			Pagination: paginationFromQuery(r),
		}
		result, err := d.Apps.List(r.Context(), ownerFromContext(r.Context()), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listEnvelope{Count: result.Total, Results: result.Items})
	}
}

func createAppHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a domain.App
		if !decodeJSON(w, r, &a) {
			return
		}
		a.OwnerID = ownerFromContext(r.Context())
		created, err := d.Apps.Create(r.Context(), a)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func getAppHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		a, err := d.Apps.Get(r.Context(), ownerFromContext(r.Context()), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func updateAppHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a domain.App
		if !decodeJSON(w, r, &a) {
			return
		}
		a.ID = mux.Vars(r)["id"]
		updated, err := d.Apps.Update(r.Context(), ownerFromContext(r.Context()), a)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteAppHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := d.Apps.Delete(r.Context(), ownerFromContext(r.Context()), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func mergeAppsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		merged, err := d.Apps.Merge(r.Context(), ownerFromContext(r.Context()), req.IDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, merged)
	}
}
