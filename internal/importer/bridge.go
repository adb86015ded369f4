package importer

import (
	"context"
	"fmt"
	"strings"

	"wikimport/internal/document"
	"wikimport/internal/markup"
	"wikimport/internal/reference"
)

// Log receives the per-page import messages.
type Log interface {
	NextPage()
	SetPageTitle(title string)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// PageWriter persists a finished page.
type PageWriter interface {
	AddWikiPage(ctx context.Context, page *document.Page) (PageResult, error)
}

// Bridge writes finished pages to a DocumentStore.
type Bridge struct {
	store    DocumentStore
	renderer markup.Renderer
	cfg      Config
	log      Log
}

// NewBridge creates a bridge that renders revisions with renderer and writes
// them to store.
func NewBridge(store DocumentStore, renderer markup.Renderer, cfg Config, log Log) *Bridge {
	return &Bridge{
		store:    store,
		renderer: renderer,
		cfg:      cfg.clone(),
		log:      log,
	}
}

// AddWikiPage validates page and writes its attachments and revisions. A page
// rejected by validation returns a *SkipError without touching the store.
// Writes already issued are not rolled back when a later one fails.
func (b *Bridge) AddWikiPage(ctx context.Context, page *document.Page) (PageResult, error) {
	var res PageResult

	last := page.LastRevision()
	if reason, ok := validatePage(page); !ok {
		skip := &SkipError{Title: page.Title(), Reason: reason}
		b.log.Warn("Page skipped: %s", reason)
		return res, skip
	}
	if last == nil {
		return res, fmt.Errorf("%w: page has no revisions", ErrPagePersistence)
	}

	doc := b.documentRef(page)
	res.Document = doc

	if err := b.writeAttachments(ctx, doc, page, &res); err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrPagePersistence, doc, err)
	}

	revisions := []*document.Revision{last}
	if b.cfg.PreserveHistory {
		revisions = page.Revisions()
	}
	for _, rev := range revisions {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrPagePersistence, doc, err)
		}
		if err := b.writeRevision(ctx, doc, page, rev, &res); err != nil {
			return res, fmt.Errorf("%w: %s: %w", ErrPagePersistence, doc, err)
		}
	}

	b.log.Info("Page created: %s", doc)
	return res, nil
}

func validatePage(page *document.Page) (SkipReason, bool) {
	switch {
	case strings.TrimSpace(page.Name()) == "":
		return SkipBlankName, false
	case strings.TrimSpace(page.Space()) == "":
		return SkipBlankSpace, false
	case strings.EqualFold(strings.TrimSpace(page.Space()), reference.DefaultCategoryToken):
		return SkipCategoryPage, false
	}
	return "", true
}

func (b *Bridge) documentRef(page *document.Page) DocumentRef {
	wiki := page.Wiki
	switch {
	case b.cfg.TargetWiki != "":
		wiki = b.cfg.TargetWiki
	case wiki == "":
		wiki = b.store.CurrentWiki()
	}

	space := page.Space()
	switch {
	case b.cfg.TargetSpace != "":
		space = b.cfg.TargetSpace
	case space == "":
		space = reference.FallbackSpace
	}
	return DocumentRef{Wiki: wiki, Space: space, Name: page.Name()}
}

func (b *Bridge) writeAttachments(ctx context.Context, doc DocumentRef, page *document.Page, res *PageResult) error {
	written := make(map[string]struct{})
	for _, att := range page.Attachments() {
		if _, ok := written[att.FileName]; ok {
			continue
		}
		written[att.FileName] = struct{}{}

		content, err := att.Content(ctx)
		if err != nil {
			b.log.Warn("Attachment %s skipped: %v", att.FileName, err)
			res.AttachmentsMissing++
			continue
		}
		if err := b.store.SetAttachmentContent(ctx, doc, att.FileName, content); err != nil {
			return fmt.Errorf("attachment %s: %w", att.FileName, err)
		}
		res.AttachmentsWritten++
		res.AttachmentBytes += int64(len(content))
	}
	return nil
}

func (b *Bridge) writeRevision(ctx context.Context, doc DocumentRef, page *document.Page, rev *document.Revision, res *PageResult) error {
	syntax := b.renderer.SyntaxID()
	content, err := b.render(rev)
	if err != nil {
		b.log.Warn("Failed to render revision %s of %q, storing original content: %v", rev.VersionString(), rev.Title, err)
		content = markup.FallbackPrefix + rev.OriginalContent
		syntax = markup.PlainSyntaxID
		res.RenderFallbacks++
	}

	if err := b.store.SetDocumentContent(ctx, doc, content, rev.Comment, rev.Minor); err != nil {
		return fmt.Errorf("content of revision %s: %w", rev.VersionString(), err)
	}
	res.RevisionsWritten++
	if err := b.store.SetDocumentSyntax(ctx, doc, syntax); err != nil {
		return fmt.Errorf("syntax: %w", err)
	}

	title := rev.Title
	if title == "" {
		title = page.Title()
	}
	if title != "" {
		if err := b.store.SetDocumentTitle(ctx, doc, title); err != nil {
			return fmt.Errorf("title: %w", err)
		}
	}

	if rev.Parent != "" {
		parent, err := b.store.ResolveReference(rev.Parent, doc)
		if err != nil {
			return fmt.Errorf("parent %q: %w", rev.Parent, err)
		}
		if err := b.store.SetDocumentParent(ctx, doc, parent); err != nil {
			return fmt.Errorf("parent %s: %w", parent, err)
		}
	}

	if tags := rev.Tags(); len(tags) > 0 {
		value := strings.Join(tags, TagSeparator) + TagSeparator
		if err := b.store.SetProperty(ctx, doc, TagClass, TagProperty, value); err != nil {
			return fmt.Errorf("tags: %w", err)
		}
	}
	return nil
}

func (b *Bridge) render(rev *document.Revision) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRenderFailed, r)
		}
	}()
	if rev.Content == nil {
		return "", fmt.Errorf("%w: no parsed content", ErrRenderFailed)
	}
	out, err = b.renderer.Render(rev.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRenderFailed, err)
	}
	return out, nil
}
