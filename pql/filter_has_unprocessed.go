package pql

import (
	"fmt"
	"strings"
)

// Compile restricts the standard triple to items carrying unprocessed
// source data: a non-placeholder item_data row of one of the requested
// types that no further item_data row (produced by the named setter, via
// source_id) derives from.
func (h *HasUnprocessedData) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	args := h.HasDataUnprocessed

	placeholders := make([]string, len(args.DataTypes))
	for i, dt := range args.DataTypes {
		placeholders[i] = state.Bind(dt)
	}

	notExists := fmt.Sprintf(
		"NOT EXISTS (\n"+
			"  SELECT 1 FROM item_data derived\n"+
			"  JOIN setters ON setters.id = derived.setter_id\n"+
			"  WHERE derived.source_id = src.id AND setters.name = %s\n"+
			")",
		state.Bind(args.SetterName),
	)

	body := fmt.Sprintf(
		"SELECT %s\nFROM %s\nJOIN item_data src ON src.item_id = %s.item_id\n"+
			"WHERE src.data_type IN (%s) AND src.is_placeholder = 0 AND %s\nGROUP BY %s",
		qualifiedGroupBy(state, ctx.Name), ctx.Name, ctx.Name,
		strings.Join(placeholders, ", "), notExists, qualifiedGroupBy(state, ctx.Name),
	)
	return state.CreateCTE("HasUnprocessedData", body), nil
}
