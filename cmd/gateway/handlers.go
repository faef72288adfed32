package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/reasv/panoptikon/internal/gatewayerrors"
	"github.com/reasv/panoptikon/internal/metrics"
	"github.com/reasv/panoptikon/internal/store"
	"github.com/reasv/panoptikon/pql"
)

// handleQuery handles POST /api/query: decodes a PqlQuery + filter tree body,
// resolves any client-supplied embedding payloads, preprocesses and compiles
// the filter tree, executes it against the store, and returns
// {results, total, metrics}.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := pql.Default()
	if err := readJSONBody(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	bag := metrics.NewBag()
	var filterTree *pql.QueryElement

	if query.Query != nil {
		if err := resolveEmbeddings(query.Query); err != nil {
			s.writeQueryError(w, err)
			return
		}
		pre, err := metrics.Time(bag, metrics.StagePreprocess, func() (*pql.QueryElement, error) {
			return pql.Preprocess(*query.Query)
		})
		if err != nil {
			s.writeQueryError(w, err)
			return
		}
		filterTree = pre
	}

	compiled, err := metrics.Time(bag, metrics.StageCompile, func() (*pql.CompiledQuery, error) {
		return pql.BuildQuery(query, filterTree)
	})
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	bag.CteCount = countCtes(compiled)

	result, err := s.store.Run(r.Context(), compiled)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	bag.Record(metrics.StageResults, result.ResultsTook)
	bag.Record(metrics.StageCount, result.CountTook)

	rows := result.Rows
	if compiled.Results != nil {
		rows = nestExtraColumns(rows, compiled.Results.ExtraAliases)
	}
	if query.CheckPath {
		rows = s.dropMissingPaths(rows)
	}
	bag.RowCount = len(rows)

	metrics.Emit(r.Context(), s.cfg.Metrics.Namespace, bag)
	s.logger.Infow("query complete",
		"rows", bag.RowCount, "cte_count", bag.CteCount,
		"results_elapsed", result.ResultsTook, "count_elapsed", result.CountTook)

	resp := map[string]any{
		"results": rows,
		"metrics": bag.Snapshot(),
	}
	if result.Count != nil {
		resp["total"] = *result.Count
	}
	writeSuccess(w, http.StatusOK, resp)
}

// nestExtraColumns moves every select_as/snippet alias out of the flat
// scanned row into the nested "extra" bag the response shape prescribes.
func nestExtraColumns(rows []store.Row, aliases []string) []store.Row {
	if len(aliases) == 0 {
		return rows
	}
	for _, row := range rows {
		extra := make(map[string]any, len(aliases))
		for _, alias := range aliases {
			if v, ok := row[alias]; ok {
				extra[alias] = v
				delete(row, alias)
			}
		}
		row["extra"] = extra
	}
	return rows
}

// dropMissingPaths filters out rows whose file no longer exists on disk,
// the check_path contract: the index can lag the filesystem, and a caller
// setting the flag prefers fewer rows over dead ones.
func (s *Server) dropMissingPaths(rows []store.Row) []store.Row {
	kept := rows[:0]
	for _, row := range rows {
		path, ok := row["path"].(string)
		if ok {
			if _, err := os.Stat(path); err != nil {
				s.logger.Debugw("dropping result with missing file", "path", path)
				continue
			}
		}
		kept = append(kept, row)
	}
	return kept
}

// countCtes reports how many CTEs the results (or, lacking that, the count)
// half of compiled installed, a diagnostic the metrics bag surfaces. Each
// installed CTE renders as its own "<name> AS (" clause (see
// QueryState.BuildWithClause), so counting that marker counts CTEs without
// needing the WITH clause's internal structure.
func countCtes(compiled *pql.CompiledQuery) int {
	var built *pql.Built
	switch {
	case compiled.Results != nil:
		built = compiled.Results
	case compiled.Count != nil:
		built = compiled.Count
	default:
		return 0
	}
	return strings.Count(built.Text, " AS (\n")
}

// resolveEmbeddings walks a filter tree decoding every semantic-search
// leaf's client-supplied embedding payload (the "query" string, either raw
// NumPy bytes or its base64 encoding) via pql.DecodeEmbedding. Leaves whose
// Embed marker is set are left untouched: those require a separate
// inference-service round trip this gateway doesn't perform.
func resolveEmbeddings(el *pql.QueryElement) error {
	switch {
	case el.And != nil:
		for i := range el.And.And {
			if err := resolveEmbeddings(&el.And.And[i]); err != nil {
				return err
			}
		}
	case el.Or != nil:
		for i := range el.Or.Or {
			if err := resolveEmbeddings(&el.Or.Or[i]); err != nil {
				return err
			}
		}
	case el.Not != nil:
		return resolveEmbeddings(el.Not.Not)
	case el.SemanticImageSearch != nil:
		args := &el.SemanticImageSearch.ImageEmbeddings
		if args.Embed == nil && args.Query != "" {
			decoded, err := pql.DecodeEmbedding([]byte(args.Query))
			if err != nil {
				return err
			}
			args.Embedding = decoded
		}
	case el.SemanticTextSearch != nil:
		args := &el.SemanticTextSearch.TextEmbeddings
		if args.Embed == nil && args.Query != "" {
			decoded, err := pql.DecodeEmbedding([]byte(args.Query))
			if err != nil {
				return err
			}
			args.Embedding = decoded
		}
	}
	return nil
}

// writeQueryError maps a pql.PqlError (or any other error) to the HTTP
// status its kind prescribes, falling back to 500 for anything
// the compiler didn't itself produce.
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	if pe, ok := err.(*pql.PqlError); ok {
		s.logger.Warnw("query error", "kind", pe.Kind, "err", pe.Error())
		writeError(w, pe.Kind.HTTPStatus(), pe.Error())
		return
	}
	if gatewayerrors.IsNotFound(err) {
		s.logger.Warnw("not found", "err", err)
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Errorw("internal error", "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// apiHandler is the catch-all for unmatched /api/ requests.
func (s *Server) apiHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "no such endpoint: "+r.URL.Path)
}
