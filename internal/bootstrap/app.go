package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/agent"
	"salesops-backend/internal/jobs"
	"salesops-backend/internal/queue"
	"salesops-backend/internal/shared/config"
	"salesops-backend/internal/shared/server"
	"salesops-backend/internal/shared/storage/db"
	"salesops-backend/internal/shared/storage/object"
	localstore "salesops-backend/internal/shared/storage/object/local"
	s3store "salesops-backend/internal/shared/storage/object/s3"
	"salesops-backend/internal/shared/telemetry"
	"salesops-backend/internal/tools"
)

const toolFetchTimeout = 20 * time.Second

// App holds shared dependencies.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	DB       *sql.DB
	Repo     jobs.Repo
	Store    object.ObjectStore
	Queue    queue.Client
	Provider agent.Provider
	Tools    *agent.Registry
	Agents   *Agents
	Jobs     *jobs.Service
	Handler  *jobs.Handler

	closers []func() error
}

// Option adjusts how Build wires the App.
type Option func(*buildOptions)

type buildOptions struct {
	dbOptions *db.Options
	provider  agent.Provider
}

// WithDBOptions overrides the Postgres pool defaults.
func WithDBOptions(opts db.Options) Option {
	return func(b *buildOptions) { b.dbOptions = &opts }
}

// WithProvider replaces the configured model provider.
func WithProvider(p agent.Provider) Option {
	return func(b *buildOptions) { b.provider = p }
}

// Build prepares every dependency and the HTTP router.
func Build(ctx context.Context, cfg config.Config, options ...Option) (app *App, err error) {
	var bo buildOptions
	for _, opt := range options {
		opt(&bo)
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	if err = app.buildRepo(ctx, bo); err != nil {
		return nil, err
	}
	if app.Store, err = buildStore(ctx, cfg); err != nil {
		return nil, err
	}
	if app.Queue, err = buildQueue(ctx, cfg); err != nil {
		return nil, err
	}

	app.Provider = bo.provider
	if app.Provider == nil {
		if app.Provider, err = NewProvider(cfg); err != nil {
			return nil, err
		}
	}

	app.Tools, err = tools.NewRegistry(ctx, tools.Config{
		CRMBaseURL:       cfg.CRMBaseURL,
		CRMClientID:      cfg.CRMClientID,
		CRMClientSecret:  cfg.CRMClientSecret,
		CRMTokenURL:      cfg.CRMTokenURL,
		SearchAPIURL:     cfg.SearchAPIURL,
		SearchAPIKey:     cfg.SearchAPIKey,
		KnowledgeBaseURL: cfg.KnowledgeBaseURL,
		FetchClient:      tools.NewPublicHTTPClient(toolFetchTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("build tools: %w", err)
	}

	profiles, err := config.LoadProfiles(cfg.AgentProfilesFile)
	if err != nil {
		return nil, err
	}
	if app.Agents, err = NewAgents(app.Provider, app.Tools, profiles); err != nil {
		return nil, err
	}

	app.Jobs = &jobs.Service{
		Repo:     app.Repo,
		Agents:   app.Agents,
		JobQueue: app.Queue,
		Archive:  app.Store,
	}
	app.Handler = jobs.NewHandler(app.Jobs)
	app.Router = server.NewRouter(server.Deps{
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		Health:          app.health,
		Routes:          []server.RouteRegistrar{app.Handler},
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"job_store":    cfg.JobStore,
		"job_dispatch": cfg.JobDispatch,
		"llm_provider": cfg.LLMProvider,
		"object_store": cfg.ObjectStoreType,
		"tools":        app.Tools.Names(),
	})
	return app, nil
}

// Close waits for in-process jobs and releases database handles.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Jobs != nil {
		a.Jobs.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) health(c *gin.Context) error {
	if a.DB == nil {
		return nil
	}
	return db.Ping(c.Request.Context(), a.DB, 2*time.Second)
}

func (a *App) buildRepo(ctx context.Context, bo buildOptions) error {
	switch a.Config.JobStore {
	case config.StorePostgres:
		if strings.TrimSpace(a.Config.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for JOB_STORE=postgres")
		}
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		if bo.dbOptions != nil {
			opts = db.OptionsFromEnv(*bo.dbOptions)
		}
		sqlDB, err := db.Connect(ctx, a.Config.DatabaseURL, opts)
		if err != nil {
			return err
		}
		a.DB = sqlDB
		a.closers = append(a.closers, sqlDB.Close)
		a.Repo = &jobs.PGRepo{DB: sqlDB}

	case config.StoreSQLite:
		if dir := filepath.Dir(a.Config.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		repo, err := jobs.NewSQLiteRepo(a.Config.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, repo.Close)
		a.Repo = repo

	default:
		if !isDevLike(a.Config.Env) {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"env": a.Config.Env})
		}
		a.Repo = jobs.NewMemoryRepo()
	}
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
		})
	default:
		if strings.TrimSpace(cfg.LocalStoreDir) == "" {
			return nil, nil
		}
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.JobDispatch != config.DispatchSQS {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, queue.SQSOptions{
		QueueURL:          cfg.SQSQueueURL,
		Region:            cfg.AWSRegion,
		VisibilitySeconds: cfg.SQSVisibilitySeconds,
	})
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
