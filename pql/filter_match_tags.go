package pql

import (
	"fmt"
	"strings"
)

// Compile joins the standard triple through item_data/setters/tags_items/tags
// to find items carrying every (or, with MatchAny, any) requested tag,
// honoring the min-confidence, setter and namespace filters, then folds the
// matches back down to one row per standard-triple key with HAVING
// COUNT(DISTINCT ...) enforcing the all-vs-any semantics.
func (m *MatchTags) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	args := &m.MatchTags

	tagPlaceholders := make([]string, len(args.Tags))
	for i, t := range args.Tags {
		tagPlaceholders[i] = state.Bind(t)
	}

	var where []string
	where = append(where, fmt.Sprintf("tags.name IN (%s)", strings.Join(tagPlaceholders, ", ")))
	if args.MinConfidence != nil && *args.MinConfidence > 0 {
		where = append(where, fmt.Sprintf("tags_items.confidence >= %s", state.Bind(*args.MinConfidence)))
	}
	if len(args.Setters) > 0 {
		placeholders := make([]string, len(args.Setters))
		for i, s := range args.Setters {
			placeholders[i] = state.Bind(s)
		}
		where = append(where, fmt.Sprintf("setters.name IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(args.Namespaces) > 0 {
		var parts []string
		for _, ns := range args.Namespaces {
			parts = append(parts, fmt.Sprintf("tags.namespace LIKE %s", state.Bind(ns+"%")))
		}
		where = append(where, "("+strings.Join(parts, " OR ")+")")
	}

	body := fmt.Sprintf(
		"SELECT %s, AVG(tags_items.confidence) AS avg_confidence\nFROM %s\n"+
			"JOIN item_data ON item_data.item_id = %s.item_id AND item_data.data_type = 'tags'\n"+
			"JOIN setters ON setters.id = item_data.setter_id\n"+
			"JOIN tags_items ON tags_items.item_data_id = item_data.id\n"+
			"JOIN tags ON tags.id = tags_items.tag_id\n"+
			"WHERE %s\nGROUP BY %s",
		qualifiedGroupBy(state, ctx.Name), ctx.Name, ctx.Name, strings.Join(where, " AND "), qualifiedGroupBy(state, ctx.Name),
	)

	// With match_any and more than one tag, any single match suffices, so no
	// HAVING count is enforced at all. Otherwise all_setters_required demands
	// every (setter, tag) pair, and the default demands every tag from at
	// least one setter.
	if args.MatchAny && len(args.Tags) > 1 {
		// no HAVING
	} else if args.AllSettersRequired && len(args.Setters) > 0 {
		body += fmt.Sprintf("\nHAVING COUNT(DISTINCT item_data.setter_id || '-' || tags.name) = %d", len(args.Tags)*len(args.Setters))
	} else {
		body += fmt.Sprintf("\nHAVING COUNT(DISTINCT tags.name) = %d", len(args.Tags))
	}

	matched := state.CreateCTE("MatchTagsJoin", body, "avg_confidence")

	// The tag aggregation collapses to item granularity; join it back to the
	// predecessor on the entity join key so downstream filters keep one row
	// per standard-triple key.
	joinKey := string(state.JoinKeyColumn())
	joinedSQL := fmt.Sprintf(
		"SELECT %s, %s.avg_confidence AS avg_confidence\nFROM %s\nJOIN %s ON %s.%s = %s.%s",
		qualifiedGroupBy(state, ctx.Name), matched.Name, ctx.Name, matched.Name, matched.Name, joinKey, ctx.Name, joinKey,
	)
	joined := state.CreateCTE("MatchTags", joinedSQL, "avg_confidence")

	return state.FinishSortableFilter("MatchTags", joined, "avg_confidence", m.Sort), nil
}

// qualifiedGroupBy renders the standard triple columns qualified against
// ctxName, since item_data/tags also expose columns with the same names once
// joined in.
func qualifiedGroupBy(state *QueryState, ctxName string) string {
	cols := []string{ctxName + ".item_id", ctxName + ".file_id"}
	if state.Entity == EntityText {
		cols = append(cols, ctxName+".data_id")
	}
	return strings.Join(cols, ", ")
}
