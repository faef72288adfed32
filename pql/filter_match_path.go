package pql

import "fmt"

// Compile joins the standard triple against files_path_fts, the FTS5 virtual
// table indexing file paths and filenames keyed by files.id as its rowid,
// and applies the MATCH predicate against whichever of the two columns
// filename_only selects. The FTS rank is projected inside this CTE so the
// sortable-filter wrapping can reference it by name once the virtual table
// is out of scope.
func (m *MatchPath) Compile(ctx CteRef, state *QueryState) (CteRef, error) {
	matchCol := "path"
	if m.MatchPath.FilenameOnly {
		matchCol = "filename"
	}
	body := fmt.Sprintf(
		"SELECT %s, files_path_fts.rank AS fts_rank\nFROM %s\nJOIN files_path_fts ON files_path_fts.rowid = %s.file_id\nWHERE files_path_fts.%s MATCH %s",
		qualifiedGroupBy(state, ctx.Name), ctx.Name, ctx.Name,
		matchCol, state.Bind(m.MatchPath.Match),
	)
	joined := state.CreateCTE("MatchPath", body, "fts_rank")
	return state.FinishSortableFilter("MatchPath", joined, "fts_rank", m.Sort), nil
}
