package pql

import (
	"fmt"
	"strings"
)

func distanceFuncSQL(override *DistanceFunction) string {
	if override != nil && *override == DistanceFuncL2 {
		return "vec_distance_L2"
	}
	return "vec_distance_cosine"
}

func aggFnSQL(agg DistanceAggregation) string {
	switch agg {
	case DistanceMax:
		return "MAX"
	case DistanceAvg:
		return "AVG"
	default:
		return "MIN"
	}
}

// srcTextNeedsExtractedText reports whether any src_text option references
// the extracted_text row itself (languages, confidences, lengths, weights),
// which decides whether the extracted_text join is emitted at all.
func srcTextNeedsExtractedText(src *SourceArgs) bool {
	return len(src.Languages) > 0 || (src.MinConfidence != nil && *src.MinConfidence > 0) ||
		src.MinLanguageConfidence > 0 || src.MinLength > 0 ||
		(src.MaxLength != nil && *src.MaxLength > 0) ||
		src.ConfidenceWeight != 0 || src.LanguageConfidenceWeight != 0
}

// srcTextJoinSQL renders the LEFT JOIN block the cross-modal src_text
// options require: the item_data row the embedding's source_id points at,
// plus its extracted_text and setter rows when the options reference them.
// No literals are bound here; the filter conditions carry the binds and are
// rendered separately (srcTextCondSQL) so placeholders stay in WHERE-clause
// order.
func srcTextJoinSQL(src *SourceArgs) string {
	if src == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("LEFT JOIN item_data src_item_data ON src_item_data.id = item_data.source_id\n")
	if len(src.Setters) > 0 {
		b.WriteString("LEFT JOIN setters src_setters ON src_setters.id = src_item_data.setter_id\n")
	}
	if srcTextNeedsExtractedText(src) {
		b.WriteString("LEFT JOIN extracted_text ON extracted_text.id = item_data.source_id\n")
	}
	return b.String()
}

// srcTextCondSQL renders the src_text filter as one WHERE predicate:
// embeddings with no source row always pass (the join is LEFT so a purely
// image-derived embedding isn't excluded), ones with a source row pass only
// when that source satisfies every configured restriction.
func srcTextCondSQL(state *QueryState, src *SourceArgs) string {
	if src == nil {
		return ""
	}
	var conds []string
	if len(src.Setters) > 0 {
		placeholders := make([]string, len(src.Setters))
		for i, s := range src.Setters {
			placeholders[i] = state.Bind(s)
		}
		conds = append(conds, fmt.Sprintf("src_setters.name IN (%s)", strings.Join(placeholders, ", ")))
	}
	if len(src.Languages) > 0 {
		placeholders := make([]string, len(src.Languages))
		for i, l := range src.Languages {
			placeholders[i] = state.Bind(l)
		}
		conds = append(conds, fmt.Sprintf("extracted_text.language IN (%s)", strings.Join(placeholders, ", ")))
	}
	if src.MinConfidence != nil && *src.MinConfidence > 0 {
		conds = append(conds, fmt.Sprintf("extracted_text.confidence >= %s", state.Bind(*src.MinConfidence)))
	}
	if src.MinLanguageConfidence > 0 {
		conds = append(conds, fmt.Sprintf("extracted_text.language_confidence >= %s", state.Bind(src.MinLanguageConfidence)))
	}
	if src.MinLength > 0 {
		conds = append(conds, fmt.Sprintf("extracted_text.text_length >= %s", state.Bind(src.MinLength)))
	}
	if src.MaxLength != nil && *src.MaxLength > 0 {
		conds = append(conds, fmt.Sprintf("extracted_text.text_length <= %s", state.Bind(*src.MaxLength)))
	}
	if len(conds) == 0 {
		return ""
	}
	return fmt.Sprintf("(src_item_data.id IS NULL OR (%s))", strings.Join(conds, " AND "))
}

// srcTextWeightExpr renders one occurrence of the per-row source-text
// weight w = pow(coalesce(confidence,1), a) * pow(coalesce(language_confidence,1), b),
// binding the exponents fresh each call since every textual occurrence of
// the expression consumes its own placeholders.
func srcTextWeightExpr(state *QueryState, src *SourceArgs) string {
	var parts []string
	if src.ConfidenceWeight != 0 {
		parts = append(parts, fmt.Sprintf("POWER(COALESCE(extracted_text.confidence, 1), %s)", state.Bind(src.ConfidenceWeight)))
	}
	if src.LanguageConfidenceWeight != 0 {
		parts = append(parts, fmt.Sprintf("POWER(COALESCE(extracted_text.language_confidence, 1), %s)", state.Bind(src.LanguageConfidenceWeight)))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " * ") + ")"
}

// weightedRankExpr folds distanceExpr against src_text's confidence/language
// weights: a plain aggregate when no weighting is configured, else the
// weighted average SUM(distance * w) / SUM(w).
func weightedRankExpr(state *QueryState, distanceExpr string, agg DistanceAggregation, src *SourceArgs) string {
	if src == nil || (src.ConfidenceWeight == 0 && src.LanguageConfidenceWeight == 0) {
		return fmt.Sprintf("%s(%s)", aggFnSQL(agg), distanceExpr)
	}
	return fmt.Sprintf("SUM(%s * %s) / SUM(%s)",
		distanceExpr, srcTextWeightExpr(state, src), srcTextWeightExpr(state, src))
}

// Compile finds items with an image embedding from the requested model
// (optionally also matching its cross-modal text-embedding counterpart,
// model name prefixed with "t") closest to the supplied query embedding,
// aggregating multiple embedding rows per item per distance_aggregation.
// Embedding must already hold the raw f32 blob DecodeEmbedding produced;
// Compile itself never touches the encoded form. Fragments are rendered in
// statement order (rank select, then model condition, then src_text
// conditions) so the positional binds line up.
func (s *SemanticImageSearch) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	args := &s.ImageEmbeddings
	if len(args.Embedding) == 0 {
		return CteRef{}, InvalidQueryf("image_embeddings missing embedding bytes")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT items.id AS item_id, %s.file_id AS file_id", ctx.Name)
	dataIDGroup := ""
	if state.Entity == EntityText {
		fmt.Fprintf(&b, ", %s.data_id AS data_id", ctx.Name)
		dataIDGroup = fmt.Sprintf(", %s.data_id", ctx.Name)
	}

	extraCols := []string{}
	if !state.IsCountQuery {
		distanceExpr := fmt.Sprintf("%s(embeddings.embedding, %s)",
			distanceFuncSQL(args.DistanceFuncOverride), state.Bind(args.Embedding))
		fmt.Fprintf(&b, ", %s AS distance", weightedRankExpr(state, distanceExpr, args.DistanceAggregation, args.SrcText))
		extraCols = append(extraCols, "distance")
	}

	modelCond := fmt.Sprintf("setters.name = %s", state.Bind(args.Model))
	if args.ClipXmodal {
		modelCond = fmt.Sprintf("(%s OR setters.name = %s)", modelCond, state.Bind("t"+args.Model))
	}

	fmt.Fprintf(&b,
		"\nFROM items\n"+
			"JOIN item_data ON item_data.item_id = items.id\n"+
			"JOIN setters ON setters.id = item_data.setter_id AND %s\n"+
			"JOIN embeddings ON embeddings.id = item_data.id\n"+
			"%s"+
			"JOIN %s ON %s.item_id = items.id",
		modelCond, srcTextJoinSQL(args.SrcText), ctx.Name, ctx.Name,
	)
	if cond := srcTextCondSQL(state, args.SrcText); cond != "" {
		fmt.Fprintf(&b, "\nWHERE %s", cond)
	}
	fmt.Fprintf(&b, "\nGROUP BY items.id, %s.file_id%s", ctx.Name, dataIDGroup)

	joined := state.CreateCTE("SemanticImageSearch", b.String(), extraCols...)
	if state.IsCountQuery {
		return joined, nil
	}
	return state.FinishSortableFilter("SemanticImageSearch", joined, "distance", s.Sort), nil
}
