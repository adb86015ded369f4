package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wikimport/internal/api"
	"wikimport/internal/config"
	"wikimport/internal/database"
	"wikimport/internal/logging"
	"wikimport/internal/services"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares once the root command has run.
type app struct {
	cfgPath string
	cfg     *config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "wikimport",
		Short:         "Import MediaWiki XML dumps into a wiki",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to wikimport.yaml or the directory holding it")

	root.AddCommand(
		newImportCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
		newTokenCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// openDB connects to the database and brings its schema up to date.
func (a *app) openDB(ctx context.Context) (*database.DB, error) {
	if dir := filepath.Dir(a.cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := database.New(&a.cfg.Database, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// buildServices wires the service layer over db and the local filesystem.
func (a *app) buildServices(db *database.DB) (api.Services, error) {
	fs := afero.NewOsFs()
	accounts := services.NewAccountService(db, a.cfg.Security.BcryptCost, a.log)
	wikiService := services.NewWikiService(db, services.NewMarkdownService(), fs, a.cfg.Upload.Path, a.cfg.Site.Wiki, a.log)
	backup, err := services.NewBackupService(fs, a.cfg.Backup.Enabled, a.cfg.Backup.Path)
	if err != nil {
		return api.Services{}, fmt.Errorf("failed to initialize backup service: %w", err)
	}
	imports := services.NewImportService(db, wikiService, accounts, backup, fs, a.cfg.Import, a.log)

	return api.Services{
		DB:       db,
		Accounts: accounts,
		Wiki:     wikiService,
		Imports:  imports,
	}, nil
}
