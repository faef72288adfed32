package pql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuery_DefaultUnconditionalQuery(t *testing.T) {
	compiled, err := BuildQuery(Default(), nil)
	require.NoError(t, err)
	require.NotNil(t, compiled.Results)
	require.NotNil(t, compiled.Count)

	assert.Contains(t, compiled.Results.Text, "FROM files")
	assert.Contains(t, compiled.Results.Text, "LIMIT 10 OFFSET 0")
	assert.Contains(t, compiled.Results.Text, "ORDER BY f.last_modified DESC")
	assert.Contains(t, compiled.Count.Text, "SELECT COUNT(*) AS total")
}

func TestBuildQuery_RejectsBadPagination(t *testing.T) {
	q := Default()
	q.Page = 0
	_, err := BuildQuery(q, nil)
	require.Error(t, err)
	var pqlErr *PqlError
	require.ErrorAs(t, err, &pqlErr)
	assert.Equal(t, KindInvalidQuery, pqlErr.Kind)

	q = Default()
	q.PageSize = 0
	_, err = BuildQuery(q, nil)
	assert.Error(t, err)
}

func TestBuildQuery_OnlyResultsWhenCountFalse(t *testing.T) {
	q := Default()
	q.Count = false
	compiled, err := BuildQuery(q, nil)
	require.NoError(t, err)
	assert.NotNil(t, compiled.Results)
	assert.Nil(t, compiled.Count)
}

func TestBuildQuery_OnlyCountWhenResultsFalse(t *testing.T) {
	q := Default()
	q.Results = false
	compiled, err := BuildQuery(q, nil)
	require.NoError(t, err)
	assert.Nil(t, compiled.Results)
	assert.NotNil(t, compiled.Count)
}

func TestBuildQuery_PageOffsetMath(t *testing.T) {
	q := Default()
	q.Page = 3
	q.PageSize = 20
	compiled, err := BuildQuery(q, nil)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "LIMIT 20 OFFSET 40")
}

func TestBuildQuery_WithProcessedByFilter(t *testing.T) {
	el := mustElement(t, `{"processed_by":"tagger"}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "WITH begin_cte AS (")
	assert.Contains(t, compiled.Results.Text, "ProcessedBy")
}

func TestBuildQuery_MatchTagsCompilesAndBinds(t *testing.T) {
	el := mustElement(t, `{"match_tags":{"tags":["landscape","outdoor"],"match_any":true}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Binds, "landscape")
	assert.Contains(t, compiled.Results.Binds, "outdoor")
}

func TestBuildQuery_AndOfTwoFiltersChainsCTEs(t *testing.T) {
	el := mustElement(t, `{"and":[{"processed_by":"tagger"},{"match_tags":{"tags":["cat"]}}]}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(compiled.Results.Text, "ProcessedBy AS ("))
	assert.Contains(t, compiled.Results.Text, "MatchTags")
}

func TestBuildQuery_OrUnionsBranches(t *testing.T) {
	el := mustElement(t, `{"or":[{"processed_by":"tagger"},{"processed_by":"captioner"}]}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "UNION ALL")
}

func TestBuildQuery_NotUsesNotExists(t *testing.T) {
	el := mustElement(t, `{"not":{"processed_by":"tagger"}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "WHERE NOT EXISTS")
}

func TestBuildQuery_PartitionByWrapsWithRowNumber(t *testing.T) {
	q := Default()
	q.PartitionBy = []Column{ColumnItemId}
	compiled, err := BuildQuery(q, nil)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "ROW_NUMBER() OVER (PARTITION BY")
	assert.Contains(t, compiled.Results.Text, "WHERE partition_rn = 1")
	// The count query never partitions; it counts every matching row.
	assert.NotContains(t, compiled.Count.Text, "partition_rn")
}

func TestBuildQuery_RandomOrderByUsesRandomFunction(t *testing.T) {
	q := Default()
	q.OrderBy = []OrderArgs{{OrderBy: OrderByRandom}}
	compiled, err := BuildQuery(q, nil)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "ORDER BY RANDOM()")
}

func TestBuildQuery_TextEntityJoinsItemData(t *testing.T) {
	q := Default()
	q.Entity = EntityText
	compiled, err := BuildQuery(q, nil)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "JOIN item_data ON item_data.item_id = files.item_id")
	assert.Contains(t, compiled.Results.Text, "data_id")
}

func TestBuildQuery_SelectAsJoinsRankCteAndAliasesColumn(t *testing.T) {
	el := mustElement(t, `{"and":[{"match_path":{"match":"photo"},"order_by":true,"select_as":"path_rank"},{"processed_by":"tagger"}]}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	text := compiled.Results.Text

	// The rank CTE is not the chain tail (ProcessedBy compiles after it), so
	// the projection must join it back to reach order_rank.
	assert.Contains(t, text, "AS path_rank")
	assert.Contains(t, text, "LEFT JOIN n2_MatchPath")
	assert.Contains(t, text, "ORDER BY n2_MatchPath.order_rank")
	assert.Equal(t, []string{"path_rank"}, compiled.Results.ExtraAliases)
}

func TestBuildQuery_CursorBoundsIgnoredInCountQuery(t *testing.T) {
	el := mustElement(t, `{"match_path":{"match":"photo"},"order_by":true,"gt":5}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "wrapped_")
	assert.Contains(t, compiled.Results.Binds, int64(5))
	assert.NotContains(t, compiled.Count.Text, "wrapped_")
	assert.NotContains(t, compiled.Count.Binds, int64(5))
}

func TestBuildQuery_MatchScalarTreeJoinsFilesAndItems(t *testing.T) {
	el := mustElement(t, `{"match":{"match":{"and":[{"eq":{"type":"image/png"}},{"gt":{"size":1000}}]}}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)

	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	text := compiled.Results.Text
	assert.Contains(t, text, "f.type = ?")
	assert.Contains(t, text, "i.size > ?")
	assert.Contains(t, text, "JOIN items i ON i.id = ctx.item_id")
	assert.Contains(t, compiled.Results.Binds, "image/png")
	assert.Contains(t, compiled.Results.Binds, int64(1000))
}

func TestBuildQuery_MatchTagsMatchAnyMultiTagOmitsHaving(t *testing.T) {
	el := mustElement(t, `{"match_tags":{"tags":["cat","dog"],"match_any":true}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)
	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.NotContains(t, compiled.Results.Text, "HAVING")
}

func TestBuildQuery_MatchTagsAllSettersRequiredCountsPairs(t *testing.T) {
	el := mustElement(t, `{"match_tags":{"tags":["cat","dog"],"setters":["a","b","c"],"all_setters_required":true}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)
	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "HAVING COUNT(DISTINCT item_data.setter_id || '-' || tags.name) = 6")
}

func TestBuildQuery_MatchTagsDefaultCountsDistinctTagNames(t *testing.T) {
	el := mustElement(t, `{"match_tags":{"tags":["cat","dog"]}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)
	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, "HAVING COUNT(DISTINCT tags.name) = 2")
}

func TestBuildQuery_MatchContainsEscapesLikeWildcards(t *testing.T) {
	el := mustElement(t, `{"match":{"match":{"contains":{"path":"100%_done"}}}}`)
	pre, err := Preprocess(el)
	require.NoError(t, err)
	compiled, err := BuildQuery(Default(), pre)
	require.NoError(t, err)
	assert.Contains(t, compiled.Results.Text, `LIKE ? ESCAPE '\'`)
	assert.Contains(t, compiled.Results.Binds, `%100\%\_done%`)
}

func TestFilterOrderTerms_SingleEntryUsesOwnDirection(t *testing.T) {
	terms := filterOrderTerms([]OrderByEntry{{Cte: "t", Direction: OrderDesc, Priority: 0}})
	require.Len(t, terms, 1)
	assert.Equal(t, "t.order_rank", terms[0].expr)
	assert.Equal(t, "DESC", terms[0].dir)
}

func TestFilterOrderTerms_EmptyListReturnsNil(t *testing.T) {
	assert.Nil(t, filterOrderTerms(nil))
}

func TestFilterOrderTerms_SamePriorityWithRrfFuses(t *testing.T) {
	terms := filterOrderTerms([]OrderByEntry{
		{Cte: "a", Priority: 0, Rrf: &Rrf{K: 1, Weight: 1}},
		{Cte: "b", Priority: 0, Rrf: &Rrf{K: 2, Weight: 0.5}},
	})
	require.Len(t, terms, 1)
	assert.Contains(t, terms[0].expr, "1 / (a.order_rank + 1)")
	assert.Contains(t, terms[0].expr, "0.5 / (b.order_rank + 2)")
	assert.Equal(t, "DESC", terms[0].dir)
}

func TestFilterOrderTerms_SamePriorityWithoutRrfCoalesces(t *testing.T) {
	terms := filterOrderTerms([]OrderByEntry{
		{Cte: "a", Priority: 0, Direction: OrderDesc},
		{Cte: "b", Priority: 0, Direction: OrderAsc},
	})
	require.Len(t, terms, 1)
	assert.Equal(t, "COALESCE(a.order_rank, b.order_rank)", terms[0].expr)
	assert.Equal(t, "DESC", terms[0].dir)
}

func TestFilterOrderTerms_MultiplePrioritiesOrderedAscending(t *testing.T) {
	terms := filterOrderTerms([]OrderByEntry{
		{Cte: "second", Priority: 1, Direction: OrderAsc},
		{Cte: "first", Priority: 0, Direction: OrderAsc},
	})
	require.Len(t, terms, 2)
	assert.Equal(t, "first.order_rank", terms[0].expr)
	assert.Equal(t, "second.order_rank", terms[1].expr)
}
