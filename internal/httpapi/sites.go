package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/sites"
)

func registerSiteRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/sites/", listSitesHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/sites/", createSiteHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/sites/{id}", getSiteHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/sites/{id}", updateSiteHandler(d)).Methods(http.MethodPut)
	api.HandleFunc("/sites/{id}", deleteSiteHandler(d)).Methods(http.MethodDelete)
}

func listSitesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := sites.Query{
			Hostname:   r.URL.Query().Get("hostname"),
			PathPrefix: r.URL.Query().Get("path_prefix"),
			Pagination: paginationFromQuery(r),
		}
		result, err := d.Sites.List(r.Context(), ownerFromContext(r.Context()), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listEnvelope{Count: result.Total, Results: result.Items})
	}
}

func createSiteHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s domain.Site
		if !decodeJSON(w, r, &s) {
			return
		}
		s.OwnerID = ownerFromContext(r.Context())
		created, err := d.Sites.Create(r.Context(), s)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func getSiteHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		site, err := d.Sites.Get(r.Context(), ownerFromContext(r.Context()), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, site)
	}
}

func updateSiteHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var s domain.Site
		if !decodeJSON(w, r, &s) {
			return
		}
		s.ID = mux.Vars(r)["id"]
		updated, err := d.Sites.Update(r.Context(), ownerFromContext(r.Context()), s)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteSiteHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := d.Sites.Delete(r.Context(), ownerFromContext(r.Context()), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
