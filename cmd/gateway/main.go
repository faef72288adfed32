// Command gateway is the PQL compiler's HTTP front door: it decodes a
// PqlQuery request body, compiles it via the pql package, executes it
// against the attached SQLite databases, and returns the page of results
// plus the parallel count and a per-stage timing breakdown.
//
// Structurally it follows a Server type wrapping an http.ServeMux,
// environment-variable configuration overlaid on DefaultConfig, and zap for
// all logging.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reasv/panoptikon/internal/analytics"
	"github.com/reasv/panoptikon/internal/backup"
	"github.com/reasv/panoptikon/internal/gwconfig"
	"github.com/reasv/panoptikon/internal/store"
)

// Server wires the gateway's HTTP routes to the compiled-query execution
// path.
type Server struct {
	store  *store.Store
	cfg    *gwconfig.Config
	logger *zap.SugaredLogger
	mux    *http.ServeMux
}

// NewServer creates a new Server instance.
func NewServer(st *store.Store, cfg *gwconfig.Config, logger *zap.SugaredLogger) *Server {
	return &Server{store: st, cfg: cfg, logger: logger, mux: http.NewServeMux()}
}

// RegisterRoutes registers all API routes.
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/query", s.handleQuery)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/", s.apiHandler)
}

// Start starts the HTTP server on the given port.
func (s *Server) Start(port string) error {
	s.logger.Infow("starting gateway", "port", port)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	st, err := store.Open(cfg, sugar)
	if err != nil {
		sugar.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Backup.Enabled {
		snapshotter, err := backup.New(ctx, cfg, sugar)
		if err != nil {
			sugar.Fatalf("failed to init backup snapshotter: %v", err)
		}
		go snapshotter.RunLoop(ctx)
	}

	if mirrorPath := getEnv("ANALYTICS_DUCKDB_PATH", ""); mirrorPath != "" {
		mirror, err := analytics.Open(ctx, analytics.Config{
			DuckDBPath:    mirrorPath,
			SourcePath:    cfg.Database.IndexDBPath,
			MemoryLimitMB: getEnvInt("ANALYTICS_MEMORY_MB", 512),
			Threads:       getEnvInt("ANALYTICS_THREADS", 2),
		}, sugar)
		if err != nil {
			sugar.Warnw("analytics mirror unavailable", "err", err)
		} else {
			defer mirror.Close()
		}
	}

	server := NewServer(st, cfg, sugar)
	server.RegisterRoutes()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		sugar.Infow("shutting down")
		cancel()
		os.Exit(0)
	}()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// loadConfig overlays environment variables onto gwconfig.DefaultConfig(),
// narrowed to the fields this gateway exposes as environment knobs.
func loadConfig() *gwconfig.Config {
	cfg := gwconfig.DefaultConfig()

	cfg.Database.IndexDBPath = getEnv("INDEX_DB", cfg.Database.IndexDBPath)
	cfg.Database.UserDataDBPath = getEnv("USER_DATA_DB", cfg.Database.UserDataDBPath)
	cfg.Database.DataFolder = getEnv("DATA_FOLDER", cfg.Database.DataFolder)
	cfg.Database.ReadOnly = getEnvBool("READONLY", cfg.Database.ReadOnly)

	cfg.Query.DefaultPageSize = int32(getEnvInt("DEFAULT_PAGE_SIZE", int(cfg.Query.DefaultPageSize)))
	cfg.Query.MaxPageSize = int32(getEnvInt("MAX_PAGE_SIZE", int(cfg.Query.MaxPageSize)))
	cfg.Query.EmbeddingDim = getEnvInt("EMBEDDING_DIM", cfg.Query.EmbeddingDim)

	cfg.Backup.Enabled = getEnvBool("BACKUP_ENABLED", cfg.Backup.Enabled)
	cfg.Backup.Bucket = getEnv("BACKUP_BUCKET", cfg.Backup.Bucket)
	cfg.Backup.Region = getEnv("BACKUP_REGION", cfg.Backup.Region)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
