package jobs

import (
	"time"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/storage"
)

// Query is the typed filter struct for listing Jobs (spec §4.1). Every
// field is optional; present fields compose with AND semantics.
type Query struct {
	IDs          []string
	ParentID     string
	AppID        string
	SiteID       string
	BatchJobID   string
	LastUpdateLE *time.Time
	LastUpdateGE *time.Time
	WorkdirLike  string
	States       []domain.JobState
	NotState     domain.JobState
	TagsSuperset map[string]string
	ParamsSuperset map[string]string

	OrderBy    []OrderTerm
	Pagination storage.Pagination
}

// OrderTerm is one signed column name from an order_by spec, e.g. "-wall_time_min".
type OrderTerm struct {
	Column     string
	Descending bool
}

// ParseOrderBy converts a list of signed column names (leading "-" means
// descending) into OrderTerms. Unknown columns are passed through verbatim
// and rejected by the caller against an allow-list before use in SQL.
func ParseOrderBy(cols []string) []OrderTerm {
	terms := make([]OrderTerm, 0, len(cols))
	for _, c := range cols {
		if c == "" {
			continue
		}
		if c[0] == '-' {
			terms = append(terms, OrderTerm{Column: c[1:], Descending: true})
		} else {
			terms = append(terms, OrderTerm{Column: c, Descending: false})
		}
	}
	return terms
}

// allowedOrderColumns is the set of Job columns safe to interpolate into an
// ORDER BY clause.
var allowedOrderColumns = map[string]string{
	"id":            "id",
	"last_update":   "last_update",
	"state":         "state",
	"wall_time_min": "wall_time_min",
	"site_id":       "site_id",
	"app_id":        "app_id",
}
