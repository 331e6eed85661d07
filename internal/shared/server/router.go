package server

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docrecon-backend/internal/audit"
	"docrecon-backend/internal/extract"
	"docrecon-backend/internal/fetch"
	"docrecon-backend/internal/pipeline"
	"docrecon-backend/internal/reconcile"
	"docrecon-backend/internal/shared/config"
	"docrecon-backend/internal/shared/metrics"
	"docrecon-backend/internal/shared/server/middleware"
	"docrecon-backend/internal/shared/server/respond"
	"docrecon-backend/internal/shared/storage/db"
	localstore "docrecon-backend/internal/shared/storage/object/local"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(cfg config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	// Dependencies
	store := localstore.New(cfg.LocalStoreDir)
	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		dbConn, err := db.Connect(context.Background(), cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			log.Printf("failed to connect database, falling back to memory: %v", err)
		} else {
			if err := db.RunMigrations(context.Background(), dbConn); err != nil {
				log.Printf("failed to run migrations, falling back to memory: %v", err)
				dbConn = nil
			}
		}
		sqlDB = dbConn
	}

	var ledger audit.Ledger
	var repo pipeline.Repo
	if sqlDB != nil {
		ledger = &audit.PGLedger{DB: sqlDB}
		repo = &pipeline.PGRepo{DB: sqlDB}
	} else {
		memLedger := audit.NewMemoryLedger()
		ledger = memLedger
		repo = pipeline.NewMemoryRepo(memLedger)
	}

	targets, err := fetch.LoadTargets(cfg.TargetsFile)
	if err != nil {
		log.Printf("failed to load targets file, using defaults: %v", err)
		targets = []string{fetch.TargetExampleVendor}
	}
	runner := fetch.NewRunner(fetch.Options{
		Timeout:    cfg.FetchTimeout,
		Attempts:   cfg.FetchAttempts,
		RetryDelay: cfg.FetchRetryDelay,
	}, fetch.DefaultAdapters())

	svc := &pipeline.Service{
		Repo:      repo,
		Ledger:    ledger,
		Store:     store,
		Extractor: extract.Heuristic{},
		Fetcher:   runner,
		Tolerances: reconcile.Tolerances{
			AmountAbs:      cfg.AmountAbsTolerance,
			AmountPct:      cfg.AmountPctTolerance,
			DateDays:       cfg.DateDaysTolerance,
			FuzzyThreshold: cfg.FuzzyThreshold,
		},
		DefaultTargets:  targets,
		ExtractTimeout:  cfg.ExtractTimeout,
		ExtractProvider: extract.Provider,
		ExtractVersion:  extract.Version,
	}
	handler := pipeline.NewHandler(svc)

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"INGEST": {Rate: 5, Burst: 10},
		},
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost && strings.HasSuffix(c.Request.URL.Path, "/ingest") {
				return "INGEST"
			}
			return ""
		},
	}))
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/metrics", metrics.Handler())
	handler.RegisterRoutes(api)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
