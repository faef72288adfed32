package pql

import "fmt"

// Compile restricts the standard triple to rows whose item has item_data
// produced by the named setter. The join key switches between source_id
// (when chained off a text-entity CTE, so "processed by" means "this piece
// of extracted text was itself derived further by setter X") and item_id
// (file-entity queries, where it means "this item has any data from setter
// X"). This switch is made here, not through JoinKeyColumn.
func (p *ProcessedBy) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	var joinCond string
	if state.Entity == EntityText {
		joinCond = fmt.Sprintf("item_data.source_id = %s.data_id", ctx.Name)
	} else {
		joinCond = fmt.Sprintf("item_data.item_id = %s.item_id", ctx.Name)
	}

	body := fmt.Sprintf(
		"SELECT %s\nFROM %s\nJOIN item_data ON %s\nJOIN setters ON setters.id = item_data.setter_id\n"+
			"WHERE setters.name = %s\nGROUP BY %s",
		qualifiedGroupBy(state, ctx.Name), ctx.Name, joinCond,
		state.Bind(p.ProcessedBy), qualifiedGroupBy(state, ctx.Name),
	)
	return state.CreateCTE("ProcessedBy", body), nil
}
