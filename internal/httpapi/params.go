package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tylern4/balsam/internal/jobs"
	"github.com/tylern4/balsam/pkg/storage"
)

// jobOrderTermsFromStrings converts signed column names (leading "-" means
// descending) into jobs.OrderTerms, shared by the /jobs/ list filter and
// the /sessions/{id}/acquire request body's order_by field.
func jobOrderTermsFromStrings(cols []string) []jobs.OrderTerm {
	return jobs.ParseOrderBy(cols)
}

// paginationFromQuery reads limit/offset query parameters (spec §4.1).
func paginationFromQuery(r *http.Request) storage.Pagination {
	q := r.URL.Query()
	pg := storage.DefaultPagination()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pg.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pg.Offset = n
		}
	}
	return pg
}

// csvParam splits a comma-separated query parameter into its parts,
// dropping empty entries. Returns nil if the parameter is absent.
func csvParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
