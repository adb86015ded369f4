package main

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wikimport/internal/api"
	"wikimport/internal/database"
	"wikimport/internal/logging"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		targetWiki  string
		targetSpace string
		attachments string
		history     bool
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "import <dump.xml>",
		Short: "Import a MediaWiki XML dump (\"-\" reads stdin; .gz and .bz2 are decompressed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("target-wiki") {
				a.cfg.Import.TargetWiki = strings.TrimSpace(targetWiki)
			}
			if flags.Changed("target-space") {
				a.cfg.Import.TargetSpace = strings.TrimSpace(targetSpace)
			}
			if flags.Changed("attachments") {
				a.cfg.Import.AttachmentPath = attachments
			}
			if flags.Changed("history") {
				a.cfg.Import.PreserveHistory = history
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			src, err := openDump(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			svc, err := a.buildServices(db)
			if err != nil {
				return err
			}

			result, importErr := svc.Imports.Import(ctx, src, filepath.Base(args[0]), nil)
			if result == nil {
				return importErr
			}

			out := cmd.OutOrStdout()
			for _, page := range result.Pages {
				printPageLog(out, page, verbose)
			}
			fmt.Fprintf(out, "run %s: %s\n", result.Run.ID, result.Report)
			return importErr
		},
	}
	f := cmd.Flags()
	f.StringVar(&targetWiki, "target-wiki", "", "wiki every page is written to")
	f.StringVar(&targetSpace, "target-space", "", "space every page is written to")
	f.StringVar(&attachments, "attachments", "", "directory holding the MediaWiki images tree")
	f.BoolVar(&history, "history", false, "import every revision instead of only the last")
	f.BoolVarP(&verbose, "verbose", "v", false, "print info messages for every page")
	return cmd
}

// printPageLog writes the messages recorded for one page. Info messages are
// only shown when verbose is set.
func printPageLog(w io.Writer, page logging.PageLog, verbose bool) {
	var lines []string
	for _, e := range page.Entries {
		if e.Level < zapcore.WarnLevel && !verbose {
			continue
		}
		lines = append(lines, fmt.Sprintf("  %-5s %s", e.Level.CapitalString(), e.Message))
	}
	if len(lines) == 0 {
		return
	}
	title := page.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "#%d %s\n%s\n", page.Index, title, strings.Join(lines, "\n"))
}

// openDump opens path, unwrapping gzip and bzip2 by extension.
func openDump(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open dump: %w", err)
		}
		return readCloser{Reader: zr, close: func() error {
			zr.Close()
			return f.Close()
		}}, nil
	case ".bz2":
		return readCloser{Reader: bzip2.NewReader(f), close: f.Close}, nil
	}
	return f, nil
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error { return r.close() }

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the import and page API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			svc, err := a.buildServices(db)
			if err != nil {
				return err
			}

			e := api.NewServer(a.cfg, svc, a.log)
			server := &http.Server{
				Addr:         a.cfg.Address(),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}

			errc := make(chan error, 1)
			go func() {
				a.log.Info("server listening", zap.String("addr", a.cfg.Address()), zap.String("site", a.cfg.Site.Name))
				errc <- e.StartServer(server)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-quit:
			}

			a.log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := e.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown error: %w", err)
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d of %d\n", version, database.LatestVersion())
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		username string
		expiry   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			svc, err := a.buildServices(db)
			if err != nil {
				return err
			}

			// The import account is created on demand so a fresh install can
			// be driven over the API right away.
			user, err := svc.Accounts.GetUserByUsername(cmd.Context(), username)
			if err != nil && username == a.cfg.Import.AuthorName {
				user, err = svc.Accounts.EnsureAccount(cmd.Context(), username)
			}
			if err != nil {
				return fmt.Errorf("user %q: %w", username, err)
			}

			if expiry <= 0 {
				expiry = a.cfg.Security.JWTAccessExpiry
			}
			token, err := api.GenerateJWT(user, a.cfg.Security.SecretKey, expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "user the token is issued to")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (defaults to security.jwt_access_expiry)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
