package pql

import "fmt"

// refItemIDExpr resolves the reference item the similarity search compares
// every candidate against: a bound item_id literal, or a subquery looking it
// up by sha256 when that's what the caller supplied instead. Each call binds
// its own placeholder, so callers may render the expression more than once.
func refItemIDExpr(state *QueryState, args *SimilarityArgs) (string, error) {
	switch {
	case args.ItemId != nil:
		return state.Bind(*args.ItemId), nil
	case args.Sha256 != nil:
		return fmt.Sprintf("(SELECT item_id FROM files WHERE sha256 = %s LIMIT 1)", state.Bind(*args.Sha256)), nil
	default:
		return "", InvalidQueryf("similar_to requires item_id or sha256")
	}
}

// Compile finds items with an embedding, in the named setter's space,
// closest to the reference item's own embedding in that same space.
// Candidates with no embedding from that setter never match (inner joins),
// and the reference item excludes itself. Fragments are rendered in
// statement order so the positional binds line up: the rank select's
// setter/reference binds first, then the join's setter bind, then the
// self-exclusion reference bind.
func (s *SimilarTo) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	args := &s.SimilarTo
	if args.ItemId == nil && args.Sha256 == nil {
		return CteRef{}, InvalidQueryf("similar_to requires item_id or sha256")
	}

	var dataIDSelect, dataIDGroup string
	if state.Entity == EntityText {
		dataIDSelect = fmt.Sprintf(", %s.data_id AS data_id", ctx.Name)
		dataIDGroup = fmt.Sprintf(", %s.data_id", ctx.Name)
	}

	var rankSelect string
	extraCols := []string{}
	if !state.IsCountQuery {
		refEmbeddingExpr := fmt.Sprintf(
			"(SELECT e2.embedding FROM embeddings e2\n"+
				"   JOIN item_data id2 ON id2.id = e2.id\n"+
				"   JOIN setters s2 ON s2.id = id2.setter_id\n"+
				"   WHERE s2.name = %s AND id2.item_id = %s LIMIT 1)",
			state.Bind(args.Setter), mustRefItemIDExpr(state, args),
		)
		distanceExpr := fmt.Sprintf("vec_distance_cosine(embeddings.embedding, %s)", refEmbeddingExpr)
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
			"WHERE items.id != %s\n"+
			"GROUP BY items.id, %s.file_id%s",
		ctx.Name, dataIDSelect, rankSelect, state.Bind(args.Setter),
		ctx.Name, ctx.Name, mustRefItemIDExpr(state, args), ctx.Name, dataIDGroup,
	)

	joined := state.CreateCTE("SimilarTo", body, extraCols...)
	if state.IsCountQuery {
		return joined, nil
	}
	return state.FinishSortableFilter("SimilarTo", joined, "distance", s.Sort), nil
}

// mustRefItemIDExpr is refItemIDExpr after Compile has already verified one
// of item_id/sha256 is present.
func mustRefItemIDExpr(state *QueryState, args *SimilarityArgs) string {
	expr, _ := refItemIDExpr(state, args)
	return expr
}
