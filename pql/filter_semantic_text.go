package pql

import "fmt"

// Compile is SemanticImageSearch's text-embedding counterpart: no
// cross-modal/src_text weighting applies here since the query is already
// text, so it reduces to a straight model-scoped nearest-neighbor search.
// The count query never projects the distance, so the embedding blob is
// only bound on the results side.
func (s *SemanticTextSearch) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	args := &s.TextEmbeddings
	if len(args.Embedding) == 0 {
		return CteRef{}, InvalidQueryf("text_embeddings missing embedding bytes")
	}

	var dataIDSelect, dataIDGroup string
	if state.Entity == EntityText {
		dataIDSelect = fmt.Sprintf(", %s.data_id AS data_id", ctx.Name)
		dataIDGroup = fmt.Sprintf(", %s.data_id", ctx.Name)
	}

	var rankSelect string
	extraCols := []string{}
	if !state.IsCountQuery {
		distanceExpr := fmt.Sprintf("%s(embeddings.embedding, %s)",
			distanceFuncSQL(args.DistanceFuncOverride), state.Bind(args.Embedding))
		rankSelect = fmt.Sprintf(", %s(%s) AS distance", aggFnSQL(args.DistanceAggregation), distanceExpr)
		extraCols = append(extraCols, "distance")
	}

	body := fmt.Sprintf(
		"SELECT items.id AS item_id, %s.file_id AS file_id%s%s\n"+
			"FROM items\n"+
			"JOIN item_data ON item_data.item_id = items.id\n"+
			"JOIN setters ON setters.id = item_data.setter_id AND setters.name = %s\n"+
			"JOIN embeddings ON embeddings.id = item_data.id\n"+
			"JOIN %s ON %s.item_id = items.id\n"+
			"GROUP BY items.id, %s.file_id%s",
		ctx.Name, dataIDSelect, rankSelect, state.Bind(args.Model),
		ctx.Name, ctx.Name, ctx.Name, dataIDGroup,
	)

	joined := state.CreateCTE("SemanticTextSearch", body, extraCols...)
	if state.IsCountQuery {
		return joined, nil
	}
	return state.FinishSortableFilter("SemanticTextSearch", joined, "distance", s.Sort), nil
}
