package pql

import "fmt"

// Compile joins the standard triple against extracted_text_fts, the FTS5
// virtual table indexing extracted text content keyed by item_data.id as its
// rowid. At text-entity granularity the CTE chain already carries data_id as
// that same item_data row; at file-entity granularity there is no data_id to
// join on yet, so the join goes through item_data directly, the same kind
// of entity-dependent join switch ProcessedBy makes. The FTS rank (and
// the snippet, when requested) are projected inside this CTE so later
// wrapping layers can reference them by name.
func (m *MatchText) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	// The FTS5 rank auxiliary column is only available in a full-text query;
	// a filter_only leaf has no MATCH constraint, and nothing consumes its
	// rank anyway.
	rankExpr := "extracted_text_fts.rank"
	if m.MatchText.Match == "" {
		rankExpr = "NULL"
	}
	selectList := fmt.Sprintf("%s, %s AS fts_rank", qualifiedGroupBy(state, ctx.Name), rankExpr)
	extraCols := []string{"fts_rank"}
	if m.MatchText.SelectSnippetAs != nil {
		selectList += ", snippet(extracted_text_fts, 0, '', '', '...', 32) AS snippet"
		extraCols = append(extraCols, "snippet")
	}

	var joinSQL string
	if state.Entity == EntityText {
		joinSQL = fmt.Sprintf("JOIN extracted_text_fts ON extracted_text_fts.rowid = %s.data_id", ctx.Name)
	} else {
		joinSQL = fmt.Sprintf(
			"JOIN item_data idt ON idt.item_id = %s.item_id AND idt.data_type = 'text'\n"+
				"JOIN extracted_text_fts ON extracted_text_fts.rowid = idt.id",
			ctx.Name,
		)
	}

	var whereSQL string
	if m.MatchText.Match != "" {
		whereSQL = fmt.Sprintf("\nWHERE extracted_text_fts.text MATCH %s", state.Bind(m.MatchText.Match))
	}

	body := fmt.Sprintf("SELECT %s\nFROM %s\n%s%s", selectList, ctx.Name, joinSQL, whereSQL)
	joined := state.CreateCTE("MatchText", body, extraCols...)

	if m.MatchText.SelectSnippetAs != nil {
		state.AddExtraColumn(joined.Name, "snippet", *m.MatchText.SelectSnippetAs)
	}

	return state.FinishSortableFilter("MatchText", joined, "fts_rank", m.Sort), nil
}
