package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tylern4/balsam/internal/events"
)

// registerEventRoutes wires the GET-only /events/ route (spec §6: LogEvents
// are append-only and never created or mutated through this transport).
func registerEventRoutes(api *mux.Router, d Deps) {
	api.HandleFunc("/events/", listEventsHandler(d)).Methods(http.MethodGet)
}

func listEventsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := events.Query{
			JobIDs:      csvParam(r, "job_ids"),
			ToStates:    csvParam(r, "to_states"),
			FromStates:  csvParam(r, "from_states"),
			MessageLike: r.URL.Query().Get("message_like"),
			Pagination:  paginationFromQuery(r),
		}
		result, err := d.Events.List(r.Context(), ownerFromContext(r.Context()), q)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listEnvelope{Count: result.Total, Results: result.Items})
	}
}
