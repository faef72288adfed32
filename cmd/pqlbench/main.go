// Command pqlbench times PQL compilation and execution for a fixed corpus
// of example queries: compile-only (preprocess + assemble) against
// compile-and-execute (the same, plus running the statement against an
// index database), averaged over a configurable iteration count.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/reasv/panoptikon/internal/gwconfig"
	"github.com/reasv/panoptikon/internal/store"
	"github.com/reasv/panoptikon/pql"
)

type options struct {
	indexDBPath string
	iterations  int
	queriesFile string
	execute     bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.indexDBPath, "index-db", "./db/index.db", "path to the index SQLite database")
	flag.IntVar(&o.iterations, "iterations", 20, "number of timed iterations per query")
	flag.StringVar(&o.queriesFile, "queries", "", "path to a JSON array of PqlQuery bodies (defaults to a built-in corpus)")
	flag.BoolVar(&o.execute, "execute", true, "also run each compiled query against the index database")
	flag.Parse()
	return o
}

func main() {
	log.SetFlags(0)
	opts := parseFlags()

	queries, err := loadCorpus(opts.queriesFile)
	if err != nil {
		log.Fatalf("failed to load query corpus: %v", err)
	}

	var st *store.Store
	if opts.execute {
		cfg := gwconfig.DefaultConfig()
		cfg.Database.IndexDBPath = opts.indexDBPath
		cfg.Database.ReadOnly = true
		logger := zap.NewNop().Sugar()
		st, err = store.Open(cfg, logger)
		if err != nil {
			log.Fatalf("failed to open index database (pass -execute=false to skip): %v", err)
		}
		defer st.Close()
	}

	for i, q := range queries {
		label := fmt.Sprintf("query_%d", i+1)
		compileDur, compiled, err := benchCompile(q, opts.iterations)
		if err != nil {
			log.Printf("[%s] compile failed: %v", label, err)
			continue
		}
		fmt.Printf("%s: compile avg=%s (n=%d)\n", label, compileDur, opts.iterations)

		if opts.execute && st != nil {
			execDur, err := benchExecute(st, compiled, opts.iterations)
			if err != nil {
				log.Printf("[%s] execute failed: %v", label, err)
				continue
			}
			fmt.Printf("%s: execute avg=%s (n=%d)\n", label, execDur, opts.iterations)
		}
	}
}

// benchCompile preprocesses and compiles q iterations times and returns the
// average wall time and the last compiled statement, for benchExecute to
// replay against the store.
func benchCompile(q pql.PqlQuery, iterations int) (time.Duration, *pql.CompiledQuery, error) {
	var total time.Duration
	var compiled *pql.CompiledQuery
	for i := 0; i < iterations; i++ {
		start := time.Now()
		var filterTree *pql.QueryElement
		if q.Query != nil {
			pre, err := pql.Preprocess(*q.Query)
			if err != nil {
				return 0, nil, err
			}
			filterTree = pre
		}
		built, err := pql.BuildQuery(q, filterTree)
		if err != nil {
			return 0, nil, err
		}
		total += time.Since(start)
		compiled = built
	}
	return total / time.Duration(iterations), compiled, nil
}

// benchExecute runs compiled against st iterations times and returns the
// average wall time.
func benchExecute(st *store.Store, compiled *pql.CompiledQuery, iterations int) (time.Duration, error) {
	ctx := context.Background()
	var total time.Duration
	for i := 0; i < iterations; i++ {
		start := time.Now()
		if _, err := st.Run(ctx, compiled); err != nil {
			return 0, err
		}
		total += time.Since(start)
	}
	return total / time.Duration(iterations), nil
}

// loadCorpus reads queries from path, or falls back to a small built-in
// set of representative queries exercising a plain select and a tag match -
// enough to sanity-check compile/execute timing
// without requiring a fixture file.
func loadCorpus(path string) ([]pql.PqlQuery, error) {
	if path == "" {
		return builtinCorpus(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var queries []pql.PqlQuery
	if err := json.Unmarshal(data, &queries); err != nil {
		return nil, err
	}
	return queries, nil
}

func builtinCorpus() []pql.PqlQuery {
	plain := pql.Default()

	tagMatch := pql.Default()
	tagMatchJSON := []byte(`{"tags":["landscape"],"match_any":false}`)
	tagEl := pql.QueryElement{}
	_ = json.Unmarshal(wrapMatchTags(tagMatchJSON), &tagEl)
	tagMatch.Query = &tagEl

	return []pql.PqlQuery{plain, tagMatch}
}

func wrapMatchTags(args []byte) []byte {
	return []byte(fmt.Sprintf(`{"match_tags":%s}`, args))
}
