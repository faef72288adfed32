package pql

import (
	"fmt"
	"strings"
)

// Compile joins the standard triple through files to bookmarks keyed by
// sha256, restricting to the requested namespaces (optionally including
// sub-namespaces, dot-delimited) and users (optionally including the "*"
// wildcard user). A degenerate in_bookmarks (filter=false) never reaches
// Compile: Preprocess drops it.
func (m *InBookmarks) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	args := &m.InBookmarks

	rankExpr := "MAX(bookmarks.time_added)"

	var where []string
	if len(args.Namespaces) > 0 {
		placeholders := make([]string, len(args.Namespaces))
		for i, ns := range args.Namespaces {
			placeholders[i] = state.Bind(ns)
		}
		inClause := fmt.Sprintf("bookmarks.namespace IN (%s)", strings.Join(placeholders, ", "))
		if args.SubNs {
			likeParts := []string{inClause}
			for _, ns := range args.Namespaces {
				likeParts = append(likeParts, fmt.Sprintf("bookmarks.namespace LIKE %s", state.Bind(ns+".%")))
			}
			where = append(where, "("+strings.Join(likeParts, " OR ")+")")
		} else {
			where = append(where, inClause)
		}
	}

	users := []string{state.Bind(args.User)}
	if args.IncludeWildcard {
		users = append(users, state.Bind("*"))
	}
	where = append(where, fmt.Sprintf("bookmarks.user IN (%s)", strings.Join(users, ", ")))

	body := fmt.Sprintf(
		"SELECT %s, %s AS time_added\nFROM %s\n"+
			"JOIN files ON files.id = %s.file_id\n"+
			"JOIN bookmarks ON bookmarks.sha256 = files.sha256\n"+
			"WHERE %s\nGROUP BY %s",
		qualifiedGroupBy(state, ctx.Name), rankExpr, ctx.Name, ctx.Name,
		strings.Join(where, " AND "), qualifiedGroupBy(state, ctx.Name),
	)
	joined := state.CreateCTE("InBookmarks", body, "time_added")

	return state.FinishSortableFilter("InBookmarks", joined, "time_added", m.Sort), nil
}
