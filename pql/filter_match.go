package pql

import (
	"fmt"
	"strings"
)

// columnTable resolves which joined table/alias a Column lives on inside a
// Match filter's generated query; the needed join is added lazily by
// matchJoins as it walks the tree. The standard-triple columns resolve
// against the predecessor CTE itself ("ctx"), file metadata against files
// ("f"), item metadata against items ("i"), derived-data bookkeeping against
// item_data ("idt")/setters ("st"), and text properties against
// extracted_text ("et").
func columnTable(col Column) string {
	switch col {
	case ColumnItemId, ColumnFileId, ColumnDataId:
		return "ctx"
	case ColumnSize, ColumnWidth, ColumnHeight, ColumnDuration, ColumnMd5,
		ColumnAudioTracks, ColumnVideoTracks, ColumnSubtitleTracks,
		ColumnBlurhash, ColumnTimeAdded:
		return "i"
	case ColumnLanguage, ColumnLanguageConfidence, ColumnText, ColumnConfidence, ColumnTextLength:
		return "et"
	case ColumnJobId, ColumnSetterId, ColumnDataIndex, ColumnSourceId:
		return "idt"
	case ColumnSetterName:
		return "st"
	default:
		return "f"
	}
}

func columnSQL(col Column) string {
	if col == ColumnSetterName {
		return "st.name"
	}
	return fmt.Sprintf("%s.%s", columnTable(col), col)
}

// matchJoins tracks, for one Match filter compile, which of the optional
// joins (items/item_data/setters/extracted_text) the referenced columns
// require beyond the always-present files join.
type matchJoins struct {
	items         bool
	itemData      bool
	setters       bool
	extractedText bool
}

func (j *matchJoins) note(col Column) {
	switch columnTable(col) {
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

func (j *matchJoins) scanOps(ops *MatchOps) {
	for _, mv := range []MatchValue{ops.Eq, ops.Neq, ops.Gt, ops.Gte, ops.Lt, ops.Lte,
		ops.Startswith, ops.NotStartswith, ops.Endswith, ops.NotEndswith, ops.Contains, ops.NotContains} {
		for col := range mv {
			j.note(col)
		}
	}
	for _, mv := range []MatchValues{ops.In, ops.Nin} {
		for col := range mv {
			j.note(col)
		}
	}
}

func (j *matchJoins) scan(m *Matches) {
	switch {
	case m.And != nil:
		for i := range m.And {
			j.scan(&m.And[i])
		}
	case m.Or != nil:
		for i := range m.Or {
			j.scan(&m.Or[i])
		}
	case m.Not != nil:
		j.scanOps(m.Not)
	case m.Ops != nil:
		j.scanOps(m.Ops)
	}
}

// escapeLike neutralizes LIKE wildcards inside a user-supplied literal so
// that startswith/endswith/contains match the text itself; the generated
// predicate carries the matching ESCAPE '\' clause.
func escapeLike(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `%`, `\%`)
	v = strings.ReplaceAll(v, `_`, `\_`)
	return v
}

// compileOps renders one MatchOps leaf's operator slots as a conjunction of
// SQL predicates, binding every literal through state.
func compileOps(state *QueryState, ops *MatchOps, negateAll bool) string {
	var clauses []string

	scalarClause := func(mv MatchValue, tmpl string) {
		for col, val := range mv {
			clauses = append(clauses, fmt.Sprintf(tmpl, columnSQL(col), state.ScalarToExpr(val)))
		}
	}
	likeClause := func(mv MatchValue, pattern func(string) string, negate bool) {
		for col, val := range mv {
			bound := state.Bind(pattern(escapeLike(val.Str())))
			op := "LIKE"
			if negate {
				op = "NOT LIKE"
			}
			clauses = append(clauses, fmt.Sprintf(`%s %s %s ESCAPE '\'`, columnSQL(col), op, bound))
		}
	}
	listClause := func(mv MatchValues, negate bool) {
		for col, vals := range mv {
			placeholders := make([]string, len(vals))
			for i, v := range vals {
				placeholders[i] = state.ScalarToExpr(v)
			}
			op := "IN"
			if negate {
				op = "NOT IN"
			}
			clauses = append(clauses, fmt.Sprintf("%s %s (%s)", columnSQL(col), op, strings.Join(placeholders, ", ")))
		}
	}

	scalarClause(ops.Eq, "%s = %s")
	scalarClause(ops.Neq, "%s != %s")
	scalarClause(ops.Gt, "%s > %s")
	scalarClause(ops.Gte, "%s >= %s")
	scalarClause(ops.Lt, "%s < %s")
	scalarClause(ops.Lte, "%s <= %s")
	listClause(ops.In, false)
	listClause(ops.Nin, true)
	likeClause(ops.Startswith, func(v string) string { return v + "%" }, false)
	likeClause(ops.NotStartswith, func(v string) string { return v + "%" }, true)
	likeClause(ops.Endswith, func(v string) string { return "%" + v }, false)
	likeClause(ops.NotEndswith, func(v string) string { return "%" + v }, true)
	likeClause(ops.Contains, func(v string) string { return "%" + v + "%" }, false)
	likeClause(ops.NotContains, func(v string) string { return "%" + v + "%" }, true)

	joined := strings.Join(clauses, " AND ")
	if negateAll && joined != "" {
		return "NOT (" + joined + ")"
	}
	return joined
}

// compileMatches renders the recursive boolean tree into one SQL boolean
// expression. Not wraps a flat MatchOps (see Matches' doc comment in
// model.go), so negation only ever applies to a conjunction of operator
// slots, never to an arbitrary And/Or subtree.
func compileMatches(state *QueryState, m *Matches) string {
	switch {
	case m.And != nil:
		parts := make([]string, len(m.And))
		for i := range m.And {
			parts[i] = "(" + compileMatches(state, &m.And[i]) + ")"
		}
		return strings.Join(parts, " AND ")
	case m.Or != nil:
		parts := make([]string, len(m.Or))
		for i := range m.Or {
			parts[i] = "(" + compileMatches(state, &m.Or[i]) + ")"
		}
		return strings.Join(parts, " OR ")
	case m.Not != nil:
		return compileOps(state, m.Not, true)
	default:
		return compileOps(state, m.Ops, false)
	}
}

// Compile implements the scalar-predicate-tree filter leaf. It joins in
// exactly the base tables the referenced columns require, applies the
// compiled boolean expression as a WHERE clause, and (being a pure filter
// with no natural rank of its own) exposes a constant order_rank of 1 so it
// can still participate in SortableOptions' row_n/cursor machinery like
// every other filter.
func (m *Match) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	var joins matchJoins
	joins.scan(&m.Match)

	var b strings.Builder
	cols := []string{"ctx.item_id", "ctx.file_id"}
	if state.Entity == EntityText {
		cols = append(cols, "ctx.data_id")
	}
	fmt.Fprintf(&b, "SELECT %s FROM %s ctx", strings.Join(cols, ", "), ctx.Name)
	fmt.Fprintf(&b, "\nJOIN files f ON f.id = ctx.file_id")
	if joins.items {
		fmt.Fprintf(&b, "\nJOIN items i ON i.id = ctx.item_id")
	}
	if joins.itemData {
		if state.Entity == EntityText {
			fmt.Fprintf(&b, "\nJOIN item_data idt ON idt.id = ctx.data_id")
		} else {
			fmt.Fprintf(&b, "\nJOIN item_data idt ON idt.item_id = ctx.item_id")
		}
	}
	if joins.setters {
		fmt.Fprintf(&b, "\nJOIN setters st ON st.id = idt.setter_id")
	}
	if joins.extractedText {
		fmt.Fprintf(&b, "\nJOIN extracted_text et ON et.id = idt.id")
	}

	where := compileMatches(state, &m.Match)
	if where != "" {
		fmt.Fprintf(&b, "\nWHERE %s", where)
	}

	joined := state.CreateCTE("Match", b.String())
	return state.FinishSortableFilter("Match", joined, "1", m.Sort), nil
}
