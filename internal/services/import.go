package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"wikimport/internal/attachment"
	"wikimport/internal/config"
	"wikimport/internal/database"
	"wikimport/internal/document"
	"wikimport/internal/importer"
	"wikimport/internal/logging"
	"wikimport/internal/markup"
	"wikimport/internal/mediawiki"
	"wikimport/internal/models"
)

// ErrImportNotFound is returned for an unknown import run ID.
var ErrImportNotFound = errors.New("import run not found")

// Setting keys describing the latest import.
const (
	settingsPrefix   = "import."
	SettingSiteName  = settingsPrefix + "source.sitename"
	SettingSiteBase  = settingsPrefix + "source.base"
	SettingGenerator = settingsPrefix + "source.generator"
	SettingLastRun   = settingsPrefix + "last_run"
)

// SourceInfo describes the wiki the latest import was read from.
type SourceInfo struct {
	SiteName  string `json:"site_name,omitempty"`
	Base      string `json:"base,omitempty"`
	Generator string `json:"generator,omitempty"`
	LastRunID string `json:"last_run_id,omitempty"`
}

// ImportResult is the outcome of one import pass.
type ImportResult struct {
	Run    *models.ImportRun      `json:"run"`
	Report importer.Report        `json:"report"`
	Pages  []logging.PageLog      `json:"pages"`
	Site   mediawiki.SiteInfo     `json:"site"`
	Docs   []importer.DocumentRef `json:"-"`
}

// ImportService runs import passes against the wiki store.
type ImportService struct {
	db       *database.DB
	wiki     *WikiService
	accounts *AccountService
	backup   *BackupService
	fs       afero.Fs
	cfg      config.ImportConfig
	log      *zap.Logger
}

// NewImportService creates an import service. Attachments are looked up on
// fs below cfg.AttachmentPath.
func NewImportService(db *database.DB, wiki *WikiService, accounts *AccountService, backup *BackupService, fs afero.Fs, cfg config.ImportConfig, log *zap.Logger) *ImportService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImportService{
		db:       db,
		wiki:     wiki,
		accounts: accounts,
		backup:   backup,
		fs:       fs,
		cfg:      cfg,
		log:      log.Named("import"),
	}
}

// ImporterConfig converts the configured import settings to the importer's
// per-pass configuration.
func ImporterConfig(cfg config.ImportConfig) importer.Config {
	return importer.Config{
		TargetWiki:      cfg.TargetWiki,
		TargetSpace:     cfg.TargetSpace,
		DefaultSpace:    cfg.DefaultSpace,
		PreserveHistory: cfg.PreserveHistory,
		ImageExtensions: append([]string(nil), cfg.ImageExtensions...),
	}
}

// Import reads a MediaWiki dump from src and writes every page to the wiki.
// source names the dump in the run record. userID is the API caller, if any.
// Page failures are counted in the report. An error is returned when the
// dump cannot be read; the partial result comes with it.
func (s *ImportService) Import(ctx context.Context, src io.Reader, source string, userID *int64) (*ImportResult, error) {
	author, err := s.accounts.EnsureAccount(ctx, s.cfg.AuthorName)
	if err != nil {
		return nil, fmt.Errorf("import author: %w", err)
	}

	run := &models.ImportRun{
		ID:     uuid.NewString(),
		Source: source,
		UserID: userID,
	}
	if err := s.db.CreateImportRun(ctx, run); err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("run", run.ID))
	log.Info("import started", zap.String("source", source), zap.String("author", author.Username))

	cfg := ImporterConfig(s.cfg)
	pageLog := logging.NewImportLog(log)
	finder := attachment.NewFinder(s.fs, s.cfg.AttachmentPath, s.cfg.AttachmentExcludeDirs)
	bridge := importer.NewBridge(s.wiki.WithAuthor(author), markup.MarkdownRenderer{}, cfg, pageLog)
	writer := newTrackingWriter(bridge)
	listener := importer.NewListener(cfg, writer, finder, pageLog)

	reader := mediawiki.NewReader(log)
	_, readErr := reader.Read(ctx, src, listener)

	result := &ImportResult{
		Run:    run,
		Report: listener.Report(),
		Pages:  pageLog.Pages(),
		Site:   reader.SiteInfo(),
		Docs:   writer.docs,
	}

	if s.backup != nil && s.backup.Enabled() {
		s.backupPages(ctx, writer.docs, log)
	}

	run.Status = models.ImportCompleted
	if readErr != nil {
		run.Status = models.ImportFailed
		run.Error = readErr.Error()
	}
	run.PagesSeen = result.Report.PagesSeen
	run.PagesImported = result.Report.PagesImported
	run.PagesSkipped = result.Report.PagesSkipped
	run.PagesFailed = result.Report.PagesFailed
	if b, err := json.Marshal(result); err == nil {
		run.Report = string(b)
	}

	// The run is recorded even when the caller gave up on the pass.
	recordCtx := context.WithoutCancel(ctx)
	if err := s.db.FinishImportRun(recordCtx, run); err != nil {
		log.Error("failed to record import run", zap.Error(err))
	}
	if err := s.recordSource(recordCtx, run.ID, result.Site); err != nil {
		log.Warn("failed to record import source", zap.Error(err))
	}

	if readErr != nil {
		log.Error("import failed", zap.Error(readErr), zap.Stringer("report", result.Report))
		return result, readErr
	}
	log.Info("import finished", zap.Stringer("report", result.Report))
	return result, nil
}

func (s *ImportService) recordSource(ctx context.Context, runID string, site mediawiki.SiteInfo) error {
	return s.db.SetSettings(ctx, map[string]string{
		SettingSiteName:  site.SiteName,
		SettingSiteBase:  site.Base,
		SettingGenerator: site.Generator,
		SettingLastRun:   runID,
	})
}

// Source returns what is known about the latest import. It is empty before
// the first pass.
func (s *ImportService) Source(ctx context.Context) (*SourceInfo, error) {
	settings, err := s.db.GetSettings(ctx, settingsPrefix)
	if err != nil {
		return nil, err
	}
	return &SourceInfo{
		SiteName:  settings[SettingSiteName],
		Base:      settings[SettingSiteBase],
		Generator: settings[SettingGenerator],
		LastRunID: settings[SettingLastRun],
	}, nil
}

// GetRun returns a recorded import run.
func (s *ImportService) GetRun(ctx context.Context, id string) (*models.ImportRun, error) {
	run, err := s.db.GetImportRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrImportNotFound
	}
	return run, nil
}

// ListRuns returns the most recent import runs.
func (s *ImportService) ListRuns(ctx context.Context, limit int) ([]models.ImportRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.db.ListImportRuns(ctx, limit)
}

func (s *ImportService) backupPages(ctx context.Context, docs []importer.DocumentRef, log *zap.Logger) {
	for _, doc := range docs {
		detail, err := s.wiki.GetDocument(ctx, doc)
		if err != nil {
			log.Warn("backup skipped", zap.Stringer("page", doc), zap.Error(err))
			continue
		}
		parents := detail.Path
		if n := len(parents); n > 0 {
			parents = parents[:n-1]
		}
		if _, err := s.backup.SavePage(detail.Page, parents); err != nil {
			log.Warn("backup failed", zap.Stringer("page", doc), zap.Error(err))
		}
	}
}

// trackingWriter records the documents of pages written without error, in
// write order and once each.
type trackingWriter struct {
	next importer.PageWriter
	docs []importer.DocumentRef
	seen map[importer.DocumentRef]struct{}
}

func newTrackingWriter(next importer.PageWriter) *trackingWriter {
	return &trackingWriter{next: next, seen: make(map[importer.DocumentRef]struct{})}
}

func (w *trackingWriter) AddWikiPage(ctx context.Context, page *document.Page) (importer.PageResult, error) {
	res, err := w.next.AddWikiPage(ctx, page)
	if err != nil {
		return res, err
	}
	if _, ok := w.seen[res.Document]; !ok {
		w.seen[res.Document] = struct{}{}
		w.docs = append(w.docs, res.Document)
	}
	return res, nil
}
