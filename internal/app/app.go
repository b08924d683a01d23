package app

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"sitetrace/internal/config"
	"sitetrace/internal/engine"
	"sitetrace/internal/graph"
	"sitetrace/internal/logging"
	"sitetrace/internal/marker"
	"sitetrace/internal/schedule"
)

// Options are the CLI-level knobs shared by every command.
type Options struct {
	ConfigPath  string
	Simulation  bool
	ForceUpdate bool
	LogDir      string
	LogLevel    string
}

// App holds one fully wired run context.
type App struct {
	Config   *config.Config
	Log      *log.Logger
	Client   *graph.Client
	Engine   *engine.Engine
	Analyzer *schedule.Analyzer
	Markers  *marker.Store
	Journal  *marker.Journal
	DB       *sql.DB

	logCloser func() error
}

// Resolve loads configuration and wires the client, engine, analyzer
// and workspace store together.
func Resolve(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogDir != "" {
		cfg.Logging.Dir = opts.LogDir
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, closer, err := logging.New(cfg.Logging.Level, cfg.Logging.Dir)
	if err != nil {
		return nil, err
	}

	db, err := marker.Open(cfg.Workspace)
	if err != nil {
		closer()
		return nil, fmt.Errorf("open workspace db: %w", err)
	}

	client := graph.NewClient(cfg, opts.Simulation, logger)
	journal := marker.NewJournal(db)
	eng := engine.New(client, cfg, logger)
	eng.Journal = journal
	eng.ForceUpdate = opts.ForceUpdate

	if opts.Simulation {
		logger.Info("simulation mode, remote writes are skipped")
	}

	return &App{
		Config:    cfg,
		Log:       logger,
		Client:    client,
		Engine:    eng,
		Analyzer:  schedule.NewAnalyzer(client, cfg, logger),
		Markers:   marker.NewStore(db),
		Journal:   journal,
		DB:        db,
		logCloser: closer,
	}, nil
}

// Close releases the workspace database and any log file sink.
func (a *App) Close() error {
	var first error
	if err := a.DB.Close(); err != nil {
		first = err
	}
	if err := a.logCloser(); err != nil && first == nil {
		first = err
	}
	return first
}
