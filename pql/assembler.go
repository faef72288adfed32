package pql

import (
	"fmt"
	"sort"
	"strings"
)

// Built is the final render of a compiled PqlQuery: the full SQL text (WITH
// clause plus the terminal SELECT) and its positional bind values in the
// order their "?" placeholders appear in Text. ExtraAliases lists the
// select_as/snippet aliases the projection carries beyond the requested
// select columns, so the response layer can fold them into the per-row
// extra bag.
type Built struct {
	Text         string
	Binds        []any
	ExtraAliases []string
}

// CompiledQuery holds both halves a PqlQuery can ask for: the results
// statement (when Results is true) and the parallel, cursor-unbounded count
// statement (when Count is true). Either may be absent.
type CompiledQuery struct {
	Results *Built
	Count   *Built
}

// beginCTE installs the chain's root CTE: every file, plus (at text
// granularity) one row per matching item_data row of data_type='text'.
func beginCTE(state *QueryState) CteRef {
	var b strings.Builder
	b.WriteString("SELECT files.id AS file_id, files.item_id AS item_id")
	if state.Entity == EntityText {
		b.WriteString(", item_data.id AS data_id\nFROM files\n")
		fmt.Fprintf(&b, "JOIN item_data ON item_data.item_id = files.item_id AND item_data.data_type = %s",
			state.Bind("text"))
	} else {
		b.WriteString("\nFROM files")
	}
	return state.installCte("begin_cte", b.String(), state.stdTripleColumns())
}

// compileElement dispatches a preprocessed QueryElement node to its
// compiler: operator nodes recurse and combine, leaves delegate to their own
// Compile method.
func compileElement(el *QueryElement, ctx CteRef, state *QueryState) (CteRef, error) {
	switch {
	case el.And != nil:
		cur := ctx
		for i := range el.And.And {
			var err error
			cur, err = compileElement(&el.And.And[i], cur, state)
			if err != nil {
				return CteRef{}, err
			}
		}
		return cur, nil

	case el.Or != nil:
		branches := make([]CteRef, len(el.Or.Or))
		for i := range el.Or.Or {
			ref, err := compileElement(&el.Or.Or[i], ctx, state)
			if err != nil {
				return CteRef{}, err
			}
			branches[i] = ref
		}
		cols := strings.Join(state.stdTripleColumns(), ", ")
		parts := make([]string, len(branches))
		for i, b := range branches {
			parts[i] = fmt.Sprintf("SELECT %s FROM %s", cols, b.Name)
		}
		body := fmt.Sprintf(
			"SELECT %s FROM (\n%s\n)\nGROUP BY %s",
			cols, strings.Join(parts, "\nUNION ALL\n"), cols,
		)
		return state.CreateCTE("Or", body), nil

	case el.Not != nil:
		excluded, err := compileElement(el.Not.Not, ctx, state)
		if err != nil {
			return CteRef{}, err
		}
		key := string(state.JoinKeyColumn())
		body := fmt.Sprintf(
			"%s\nWHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s.%s = %s.%s)",
			state.SelectStdFromCTE(ctx), excluded.Name, excluded.Name, key, ctx.Name, key,
		)
		return state.CreateCTE("Not", body), nil

	case el.Match != nil:
		return el.Match.Compile(ctx, state)
	case el.MatchPath != nil:
		return el.MatchPath.Compile(ctx, state)
	case el.MatchText != nil:
		return el.MatchText.Compile(ctx, state)
	case el.MatchTags != nil:
		return el.MatchTags.Compile(ctx, state)
	case el.InBookmarks != nil:
		return el.InBookmarks.Compile(ctx, state)
	case el.ProcessedBy != nil:
		return el.ProcessedBy.Compile(ctx, state)
	case el.HasUnprocessedData != nil:
		return el.HasUnprocessedData.Compile(ctx, state)
	case el.SemanticImageSearch != nil:
		return el.SemanticImageSearch.Compile(ctx, state)
	case el.SemanticTextSearch != nil:
		return el.SemanticTextSearch.Compile(ctx, state)
	case el.SimilarTo != nil:
		return el.SimilarTo.Compile(ctx, state)
	default:
		return CteRef{}, Internalf("compileElement: query element has no variant set")
	}
}

// baseTableJoins lists the joins the final projection needs to resolve the
// request's Select/partition_by/order_by columns against raw base-table
// columns.
type baseTableJoins struct {
	files         bool
	items         bool
	itemData      bool
	setters       bool
	extractedText bool
}

func (j *baseTableJoins) note(col Column) {
	switch columnTable(col) {
	case "f":
		j.files = true
	case "i":
		j.items = true
	case "idt":
		j.itemData = true
	case "st":
		j.itemData = true
		j.setters = true
	case "et":
		j.itemData = true
		j.extractedText = true
	}
}

// render appends the needed base-table joins against the chain's final CTE,
// using the same table aliases columnSQL resolves against.
func (j *baseTableJoins) render(b *strings.Builder, entity EntityType, finalName string) {
	if j.files {
		fmt.Fprintf(b, "\nJOIN files f ON f.id = %s.file_id", finalName)
	}
	if j.items {
		fmt.Fprintf(b, "\nJOIN items i ON i.id = %s.item_id", finalName)
	}
	if j.itemData {
		if entity == EntityText {
			fmt.Fprintf(b, "\nJOIN item_data idt ON idt.id = %s.data_id", finalName)
		} else {
			fmt.Fprintf(b, "\nLEFT JOIN item_data idt ON idt.item_id = %s.item_id AND idt.data_type = 'text'", finalName)
		}
	}
	if j.setters {
		fmt.Fprintf(b, "\nLEFT JOIN setters st ON st.id = idt.setter_id")
	}
	if j.extractedText {
		fmt.Fprintf(b, "\nLEFT JOIN extracted_text et ON et.id = idt.id")
	}
}

// resolveSelect returns the SQL expression the final projection should read
// col from: the chain's own CTE for the standard-triple columns, the owning
// base table otherwise.
func resolveSelect(finalName string, col Column) string {
	if columnTable(col) == "ctx" {
		return fmt.Sprintf("%s.%s", finalName, col)
	}
	return columnSQL(col)
}

// orderTerm is one rendered ORDER BY term: an expression plus its SQL
// direction keyword.
type orderTerm struct {
	expr string
	dir  string
}

// filterOrderTerms renders the filter-contributed order entries into one
// term per priority group, lowest priority first. A group of one orders by
// its own order_rank and direction. A group containing any RRF entry fuses
// every member via Reciprocal Rank Fusion (entries without their own rrf
// parameters get the defaults) into one descending composite score, since a
// higher fused score is always better regardless of each input's own
// comparison direction. A multi-entry group with no RRF coalesces the ranks
// in insertion order and takes the first entry's direction.
func filterOrderTerms(list []OrderByEntry) []orderTerm {
	if len(list) == 0 {
		return nil
	}
	byPriority := map[int32][]OrderByEntry{}
	var priorities []int32
	for _, e := range list {
		if _, ok := byPriority[e.Priority]; !ok {
			priorities = append(priorities, e.Priority)
		}
		byPriority[e.Priority] = append(byPriority[e.Priority], e)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	var terms []orderTerm
	for _, p := range priorities {
		group := byPriority[p]
		anyRrf := false
		for _, e := range group {
			if e.Rrf != nil {
				anyRrf = true
			}
		}
		switch {
		case len(group) == 1 && !anyRrf:
			terms = append(terms, orderTerm{
				expr: fmt.Sprintf("%s.order_rank", group[0].Cte),
				dir:  sqlDirection(group[0].Direction),
			})
		case anyRrf:
			parts := make([]string, len(group))
			for i, e := range group {
				rrf := e.Rrf
				if rrf == nil {
					d := DefaultRrf()
					rrf = &d
				}
				parts[i] = fmt.Sprintf("(%g / (%s.order_rank + %d))", rrf.Weight, e.Cte, rrf.K)
			}
			terms = append(terms, orderTerm{
				expr: "(" + strings.Join(parts, " + ") + ")",
				dir:  "DESC",
			})
		default:
			parts := make([]string, len(group))
			for i, e := range group {
				parts[i] = fmt.Sprintf("%s.order_rank", e.Cte)
			}
			terms = append(terms, orderTerm{
				expr: fmt.Sprintf("COALESCE(%s)", strings.Join(parts, ", ")),
				dir:  sqlDirection(group[0].Direction),
			})
		}
	}
	return terms
}

func renderOrderTerms(terms []orderTerm) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.expr + " " + t.dir
	}
	return strings.Join(parts, ", ")
}

// BuildQuery compiles a PqlQuery into its results and/or count SQL text,
// threading the already-preprocessed filter tree (nil means unconditional)
// through a fresh QueryState per requested half, since the results and count
// queries need independent is_count_query/rank bookkeeping even though they
// share the exact same filter conditions.
func BuildQuery(query PqlQuery, filterTree *QueryElement) (*CompiledQuery, error) {
	if query.Page < 1 {
		return nil, InvalidQueryf("page must be >= 1, got %d", query.Page)
	}
	if query.PageSize < 1 {
		return nil, InvalidQueryf("page_size must be >= 1, got %d", query.PageSize)
	}
	out := &CompiledQuery{}
	if query.Results {
		built, err := buildOne(query, filterTree, false)
		if err != nil {
			return nil, err
		}
		out.Results = built
	}
	if query.Count {
		built, err := buildOne(query, filterTree, true)
		if err != nil {
			return nil, err
		}
		out.Count = built
	}
	return out, nil
}

func buildOne(query PqlQuery, filterTree *QueryElement, isCount bool) (*Built, error) {
	state := NewQueryState(query.Entity, isCount)
	ctx := beginCTE(state)

	final := ctx
	if filterTree != nil {
		var err error
		final, err = compileElement(filterTree, ctx, state)
		if err != nil {
			return nil, err
		}
	}

	if isCount {
		sql := fmt.Sprintf("%s\nSELECT COUNT(*) AS total FROM %s", state.BuildWithClause(), final.Name)
		return &Built{Text: sql, Binds: state.Binds}, nil
	}

	var joins baseTableJoins
	for _, col := range query.Select {
		joins.note(col)
	}
	for _, col := range query.PartitionBy {
		joins.note(col)
	}
	for _, oa := range query.OrderBy {
		if oa.OrderBy != OrderByRandom {
			joins.note(Column(oa.OrderBy))
		}
	}

	// The projection: standard triple from the chain tail, the requested
	// select columns, then every filter-contributed extra column.
	selectExprs := []string{
		fmt.Sprintf("%s.item_id AS item_id", final.Name),
		fmt.Sprintf("%s.file_id AS file_id", final.Name),
	}
	publicCols := []string{"item_id", "file_id"}
	if query.Entity == EntityText {
		selectExprs = append(selectExprs, fmt.Sprintf("%s.data_id AS data_id", final.Name))
		publicCols = append(publicCols, "data_id")
	}
	for _, col := range query.Select {
		if columnTable(col) == "ctx" {
			continue // already projected from the chain tail
		}
		selectExprs = append(selectExprs, fmt.Sprintf("%s AS %s", resolveSelect(final.Name, col), col))
		publicCols = append(publicCols, string(col))
	}
	var extraAliases []string
	for _, ec := range state.ExtraColumns {
		selectExprs = append(selectExprs, fmt.Sprintf("%s.%s AS %s", ec.Cte, ec.Column, ec.Alias))
		publicCols = append(publicCols, ec.Alias)
		extraAliases = append(extraAliases, ec.Alias)
	}

	// Rank and extra columns live in intermediate CTEs that are usually not
	// the chain tail; join each contributing CTE back on the entity key so
	// its columns are in scope. LEFT JOIN because an Or branch's CTE does
	// not necessarily cover every tail row.
	joinKey := string(state.JoinKeyColumn())
	rankCtes := []string{}
	seenCte := map[string]bool{final.Name: true}
	for _, e := range state.OrderList {
		if !seenCte[e.Cte] {
			seenCte[e.Cte] = true
			rankCtes = append(rankCtes, e.Cte)
		}
	}
	for _, ec := range state.ExtraColumns {
		if !seenCte[ec.Cte] {
			seenCte[ec.Cte] = true
			rankCtes = append(rankCtes, ec.Cte)
		}
	}

	terms := filterOrderTerms(state.OrderList)
	for _, oa := range query.OrderBy {
		var expr string
		if oa.OrderBy == OrderByRandom {
			expr = "RANDOM()"
		} else {
			expr = resolveSelect(final.Name, Column(oa.OrderBy))
		}
		dir := OrderAsc
		if oa.Order != nil {
			dir = *oa.Order
		}
		terms = append(terms, orderTerm{expr: expr, dir: sqlDirection(dir)})
	}

	partitioned := len(query.PartitionBy) > 0
	if partitioned {
		// The window function and the post-partition ORDER BY cannot see
		// CTE- or base-table-qualified names from outside the subquery, so
		// every order term is also projected under a hidden alias.
		for i := range terms {
			selectExprs = append(selectExprs, fmt.Sprintf("%s AS order_rank_p%d", terms[i].expr, i))
		}
		partitionCols := make([]string, len(query.PartitionBy))
		for i, col := range query.PartitionBy {
			partitionCols[i] = resolveSelect(final.Name, col)
		}
		windowOrder := renderOrderTerms(terms)
		if windowOrder == "" {
			windowOrder = fmt.Sprintf("%s.item_id", final.Name)
		}
		selectExprs = append(selectExprs, fmt.Sprintf(
			"ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS partition_rn",
			strings.Join(partitionCols, ", "), windowOrder,
		))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\nFROM %s", strings.Join(selectExprs, ", "), final.Name)
	for _, cte := range rankCtes {
		fmt.Fprintf(&b, "\nLEFT JOIN %s ON %s.%s = %s.%s", cte, cte, joinKey, final.Name, joinKey)
	}
	joins.render(&b, query.Entity, final.Name)

	offset := (query.Page - 1) * query.PageSize

	var text string
	if partitioned {
		outerOrder := make([]string, len(terms))
		for i, t := range terms {
			outerOrder[i] = fmt.Sprintf("order_rank_p%d %s", i, t.dir)
		}
		var outer strings.Builder
		fmt.Fprintf(&outer, "SELECT %s\nFROM (\n%s\n)\nWHERE partition_rn = 1",
			strings.Join(publicCols, ", "), b.String())
		if len(outerOrder) > 0 {
			fmt.Fprintf(&outer, "\nORDER BY %s", strings.Join(outerOrder, ", "))
		}
		fmt.Fprintf(&outer, "\nLIMIT %d OFFSET %d", query.PageSize, offset)
		text = outer.String()
	} else {
		if orderClause := renderOrderTerms(terms); orderClause != "" {
			fmt.Fprintf(&b, "\nORDER BY %s", orderClause)
		}
		fmt.Fprintf(&b, "\nLIMIT %d OFFSET %d", query.PageSize, offset)
		text = b.String()
	}

	sql := fmt.Sprintf("%s\n%s", state.BuildWithClause(), text)
	return &Built{Text: sql, Binds: state.Binds, ExtraAliases: extraAliases}, nil
}
