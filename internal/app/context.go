package app

import (
	"database/sql"
	"path/filepath"
	"time"

	"forgeday/internal/collab"
	"forgeday/internal/config"
	"forgeday/internal/db"
	"forgeday/internal/engine"
	"forgeday/internal/events"
	"forgeday/internal/migrate"
	"forgeday/internal/repo"
)

// App bundles the open database and a wired engine for one workspace.
type App struct {
	Workspace string
	DB        *sql.DB
	Repo      repo.Repo
	Config    *config.Config
	Engine    *engine.Engine
}

// Open loads config (falling back to defaults when forgeday.yml is
// absent), opens and migrates the workspace database, and wires the
// default collaborators.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return build(workspace, conn, cfg, nil), nil
}

// Build wires an App around an existing database, with an optional frozen
// clock. Used by tests and the server.
func Build(workspace string, conn *sql.DB, cfg *config.Config, now func() time.Time) *App {
	return build(workspace, conn, cfg, now)
}

func build(workspace string, conn *sql.DB, cfg *config.Config, now func() time.Time) *App {
	outputDir := cfg.Generate.OutputDir
	if !filepath.IsAbs(outputDir) {
		cfg.Generate.OutputDir = filepath.Join(workspace, outputDir)
	}
	r := repo.Repo{DB: conn}
	eng := &engine.Engine{
		DB:      conn,
		Repo:    r,
		Events:  events.Writer{DB: conn, Now: now},
		Config:  cfg,
		Planner: collab.TemplatePlanner{},
		Generator: collab.SkeletonGenerator{
			FileRetries: cfg.Generate.FileRetries,
		},
		Annotator: collab.TemplateAnnotator{},
		VCS: collab.GitVCS{
			Owner:   cfg.Remote.Owner,
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
		},
		Now: now,
	}
	return &App{Workspace: workspace, DB: conn, Repo: r, Config: cfg, Engine: eng}
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
