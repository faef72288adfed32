package pql

import (
	"fmt"
	"strings"
)

// CteRef names a CTE already installed into a QueryState's WITH clause. Every
// filter compiler threads one of these through its Compile method: it
// receives the ref its predecessor produced and returns the ref it installed
// last, so the assembler only ever has to remember the tail.
type CteRef struct {
	Name string
}

// cteDef is one entry of the ordered WITH-clause list. Order matters: later
// CTEs may reference earlier ones by name, so QueryState never reorders or
// dedupes these.
type cteDef struct {
	Name string
	SQL  string
}

// OrderByEntry is one ORDER BY contribution a filter compiler registered:
// the CTE whose order_rank column carries the rank, plus direction, priority
// and optional RRF fusion parameters. Priority follows the same convention
// as SortableOptions.Priority: lower sorts first among contributed terms.
// OrderArgs.Priority is not consulted; the request's fixed order_by terms
// follow these in list order.
type OrderByEntry struct {
	Cte       string
	Direction OrderDirection
	Priority  int32
	Rrf       *Rrf
}

// ExtraColumn is a non-standard-triple column a filter compiler wants
// threaded through to the final projection (a snippet, a rank, a distance):
// the CTE that projects it, the column name inside that CTE, and the alias
// the response exposes it under.
type ExtraColumn struct {
	Cte    string
	Column string
	Alias  string
}

// QueryState is the single piece of mutable bookkeeping every filter
// compiler and the assembler share while a PqlQuery is compiled: the
// growing WITH-clause, the per-CTE projected-column map, the order-by and
// extra-column accumulators the final projection reads back, and the
// positional parameter list every bound literal appends to.
//
// IsCountQuery distinguishes the results query from the parallel COUNT(*)
// query: when true, filter compilers must skip work that only the results
// query needs (order_list/extra_columns/snippets) but still thread the CTE
// chain so the same filter conditions apply to both.
type QueryState struct {
	Entity       EntityType
	IsCountQuery bool

	cteCounter int
	Ctes       []cteDef
	CteColumns map[string][]string

	OrderList    []OrderByEntry
	ExtraColumns []ExtraColumn

	Binds []any
}

// NewQueryState starts a fresh compile for the given entity/count-mode
// combination. One QueryState is built per query (one for results, one for
// count, when both are requested).
func NewQueryState(entity EntityType, isCountQuery bool) *QueryState {
	return &QueryState{
		Entity:       entity,
		IsCountQuery: isCountQuery,
		CteColumns:   map[string][]string{},
	}
}

// stdTripleColumns returns the column list every CTE in the chain must
// project: item_id and file_id always, plus data_id when the query operates
// at text-entity granularity.
func (s *QueryState) stdTripleColumns() []string {
	cols := []string{"item_id", "file_id"}
	if s.Entity == EntityText {
		cols = append(cols, "data_id")
	}
	return cols
}

// JoinKeyColumn is the entity key column: data_id for text-entity queries,
// file_id for file-entity queries. The assembler's Not exclusion and final
// rank-CTE joins and MatchTags' join back onto the chain use it; filters
// that join item_data (ProcessedBy, MatchText, SemanticImageSearch) pick
// their own join columns.
func (s *QueryState) JoinKeyColumn() Column {
	if s.Entity == EntityText {
		return ColumnDataId
	}
	return ColumnFileId
}

// nextCteName allocates the next numbered CTE name for a filter variant,
// e.g. n3_MatchPath. Numbering is global across the whole compile so names
// never collide even when the same filter variant appears twice in a tree.
func (s *QueryState) nextCteName(filterName string) string {
	s.cteCounter++
	return fmt.Sprintf("n%d_%s", s.cteCounter, filterName)
}

// installCte appends a CTE under an explicit name and records the columns it
// projects. The begin CTE and the wrapped_ cursor-bound CTEs use this
// directly; everything else goes through CreateCTE.
func (s *QueryState) installCte(name, body string, cols []string) CteRef {
	s.Ctes = append(s.Ctes, cteDef{Name: name, SQL: body})
	s.CteColumns[name] = cols
	return CteRef{Name: name}
}

// CreateCTE allocates a name for filterName, installs body as its SQL, and
// records the columns it projects: the standard triple plus extraCols.
// Callers are responsible for body actually projecting those columns;
// CreateCTE does not parse the SQL back.
func (s *QueryState) CreateCTE(filterName, body string, extraCols ...string) CteRef {
	cols := append(s.stdTripleColumns(), extraCols...)
	return s.installCte(s.nextCteName(filterName), body, cols)
}

// CteHasColumn reports whether the named CTE projects col, per the columns
// recorded when it was installed.
func (s *QueryState) CteHasColumn(cte, col string) bool {
	for _, c := range s.CteColumns[cte] {
		if c == col {
			return true
		}
	}
	return false
}

// SelectStdFromCTE builds "SELECT item_id, file_id[, data_id] FROM <ref>",
// the shape almost every filter compiler's own CTE body is built around.
func (s *QueryState) SelectStdFromCTE(ref CteRef) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(s.stdTripleColumns(), ", "), ref.Name)
}

// Bind appends v to the positional parameter list and returns the "?"
// placeholder to splice into the SQL text being built. Because placeholders
// are positional, callers must assemble their SQL fragments in the same
// order the final statement renders them; an expression that appears twice
// must be bound twice.
func (s *QueryState) Bind(v any) string {
	s.Binds = append(s.Binds, v)
	return "?"
}

// ScalarToExpr renders a ScalarValue as a bound placeholder, appending its
// underlying Go value to Binds.
func (s *QueryState) ScalarToExpr(v ScalarValue) string {
	return s.Bind(v.Any())
}

// AddOrderBy registers the named CTE's order_rank column as an ORDER BY
// contribution toward the final projection. No-ops on a count query:
// COUNT(*) never orders its rows, and the count and results queries
// otherwise share the same CTE chain.
func (s *QueryState) AddOrderBy(cte string, direction OrderDirection, priority int32) {
	s.AddOrderByRrf(cte, direction, priority, nil)
}

// AddOrderByRrf is AddOrderBy plus an optional Rrf combination config, used
// by FinishSortableFilter when sort.Rrf is set so same-priority terms from
// different filters fuse into one composite score instead of each ordering
// independently.
func (s *QueryState) AddOrderByRrf(cte string, direction OrderDirection, priority int32, rrf *Rrf) {
	if s.IsCountQuery {
		return
	}
	s.OrderList = append(s.OrderList, OrderByEntry{Cte: cte, Direction: direction, Priority: priority, Rrf: rrf})
}

// AddExtraColumn registers one non-standard-triple column (a rank, a
// distance, a matched snippet) the final projection must select through.
// No-ops on a count query for the same reason as AddOrderBy.
func (s *QueryState) AddExtraColumn(cte, column, alias string) {
	if s.IsCountQuery {
		return
	}
	s.ExtraColumns = append(s.ExtraColumns, ExtraColumn{Cte: cte, Column: column, Alias: alias})
}

// AddRankColumnExpr wraps ref in a fresh CTE adding rankExpr verbatim as a
// named column alongside the standard triple, without any ROW_NUMBER()
// normalization. Used when a filter's own ordering expression (a distance,
// an FTS rank) is already directly comparable across rows.
func (s *QueryState) AddRankColumnExpr(filterName string, ref CteRef, rankExpr, alias string) CteRef {
	body := fmt.Sprintf(
		"SELECT %s, %s AS %s FROM %s",
		strings.Join(s.stdTripleColumns(), ", "), rankExpr, alias, ref.Name,
	)
	return s.CreateCTE(filterName, body, alias)
}

// AddSortableRankColumn wraps ref in a fresh CTE normalizing rankExpr into a
// dense 1..N rank via ROW_NUMBER() OVER (ORDER BY rankExpr direction),
// exposed under alias. Filters set sort.RowN when callers need a stable rank
// position rather than the raw comparable value (e.g. for RRF across
// multiple ranked filters of different scales).
func (s *QueryState) AddSortableRankColumn(filterName string, ref CteRef, rankExpr, alias string, direction OrderDirection) CteRef {
	body := fmt.Sprintf(
		"SELECT %s, ROW_NUMBER() OVER (ORDER BY %s %s) AS %s FROM %s",
		strings.Join(s.stdTripleColumns(), ", "), rankExpr, sqlDirection(direction), alias, ref.Name,
	)
	return s.CreateCTE(filterName, body, alias)
}

// FinishSortableFilter is the boilerplate every sortable filter leaf ends
// its Compile method with: expose rankExpr under the conventional order_rank
// alias (row_n-normalized when sort.RowN asks for it), apply the cursor
// bounds ApplySortBounds understands, and register the result against
// OrderList/ExtraColumns so the final projection can read it back. rankExpr
// must reference only columns ref itself projects, since it is evaluated in
// a SELECT over ref alone. filterName only affects generated CTE names; it
// never appears in client-visible output.
func (s *QueryState) FinishSortableFilter(filterName string, ref CteRef, rankExpr string, sort SortableOptions) CteRef {
	const rankAlias = "order_rank"
	if s.IsCountQuery {
		// The count query shares this filter's CTE chain but never projects
		// or bounds by rank: no rank column is installed, so there is
		// nothing for a cursor bound to compare against. Count reflects all
		// matching rows, not just the current cursor window.
		return ref
	}
	if !sort.OrderBy && sort.SelectAs == nil && sort.Gt == nil && sort.Lt == nil {
		// Nothing consumes the rank: skip the wrapping layer entirely.
		return ref
	}
	var ranked CteRef
	if sort.RowN {
		ranked = s.AddSortableRankColumn(filterName, ref, rankExpr, rankAlias, sort.RowNDirection)
	} else {
		ranked = s.AddRankColumnExpr(filterName, ref, rankExpr, rankAlias)
	}
	final := s.ApplySortBounds(ranked, rankAlias, sort)
	if sort.SelectAs != nil {
		s.AddExtraColumn(final.Name, rankAlias, *sort.SelectAs)
	}
	if sort.OrderBy {
		s.AddOrderByRrf(final.Name, sort.Direction, sort.Priority, sort.Rrf)
	}
	return final
}

// ApplySortBounds is the generalized cursor-bound wrapper every sortable
// filter leaf shares: when sort carries a Gt and/or Lt bound, it wraps ref in
// a wrapped_<name> CTE filtering rankExpr against those bounds, and returns
// the wrapped ref. Filters with neither bound set get ref back unchanged, so
// callers can always thread ApplySortBounds' return value onward regardless
// of whether bounding actually happened.
func (s *QueryState) ApplySortBounds(ref CteRef, rankExpr string, sort SortableOptions) CteRef {
	if sort.Gt == nil && sort.Lt == nil {
		return ref
	}
	var conds []string
	if sort.Gt != nil {
		conds = append(conds, fmt.Sprintf("%s > %s", rankExpr, s.ScalarToExpr(*sort.Gt)))
	}
	if sort.Lt != nil {
		conds = append(conds, fmt.Sprintf("%s < %s", rankExpr, s.ScalarToExpr(*sort.Lt)))
	}
	body := fmt.Sprintf("SELECT * FROM %s WHERE %s", ref.Name, strings.Join(conds, " AND "))
	return s.installCte("wrapped_"+ref.Name, body, s.CteColumns[ref.Name])
}

// BuildWithClause renders every installed CTE as a single WITH clause, in
// installation order. Returns "" when no CTE has been installed yet (an
// empty query tree), which callers must special-case rather than emit a
// dangling WITH.
func (s *QueryState) BuildWithClause() string {
	if len(s.Ctes) == 0 {
		return ""
	}
	parts := make([]string, len(s.Ctes))
	for i, c := range s.Ctes {
		parts[i] = fmt.Sprintf("%s AS (\n%s\n)", c.Name, c.SQL)
	}
	return "WITH " + strings.Join(parts, ",\n")
}

func sqlDirection(d OrderDirection) string {
	if d == OrderDesc {
		return "DESC"
	}
	return "ASC"
}
