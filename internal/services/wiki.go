package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"wikimport/internal/database"
	"wikimport/internal/importer"
	"wikimport/internal/markup"
	"wikimport/internal/models"
)

// Wiki errors.
var (
	ErrPageNotFound    = errors.New("page not found")
	ErrNoAuthor        = errors.New("no author account for writes")
	ErrInvalidFileName = errors.New("invalid attachment file name")
	ErrSlugsExhausted  = errors.New("no free slug for page")
)

const (
	maxSlugSuffix       = 1000
	defaultUploadPrefix = "/uploads"
)

// WikiService stores imported documents. It implements
// importer.DocumentStore.
type WikiService struct {
	db         *database.DB
	markdown   *MarkdownService
	fs         afero.Fs
	uploadPath string
	wiki       string
	author     *models.User
	log        *zap.Logger
}

var _ importer.DocumentStore = (*WikiService)(nil)

// NewWikiService creates a wiki service that stores attachment bytes on fs
// under uploadPath. wiki names the wiki used when an import names none.
func NewWikiService(db *database.DB, markdown *MarkdownService, fs afero.Fs, uploadPath, wiki string, log *zap.Logger) *WikiService {
	if log == nil {
		log = zap.NewNop()
	}
	return &WikiService{
		db:         db,
		markdown:   markdown,
		fs:         fs,
		uploadPath: uploadPath,
		wiki:       wiki,
		log:        log.Named("wiki"),
	}
}

// WithAuthor returns a copy of the service that records author on every
// write.
func (s *WikiService) WithAuthor(author *models.User) *WikiService {
	c := *s
	c.author = author
	return &c
}

// CurrentWiki implements importer.DocumentStore.
func (s *WikiService) CurrentWiki() string {
	return s.wiki
}

// ResolveReference implements importer.DocumentStore.
func (s *WikiService) ResolveReference(ref string, relativeTo importer.DocumentRef) (importer.DocumentRef, error) {
	return importer.ParseDocumentRef(ref, relativeTo)
}

// SetDocumentContent stores content as the page's current text and appends
// a revision.
func (s *WikiService) SetDocumentContent(ctx context.Context, doc importer.DocumentRef, content, comment string, minor bool) error {
	page, err := s.ensurePage(ctx, doc)
	if err != nil {
		return err
	}

	page.Content = content
	page.AuthorID = s.author.ID
	if page.ContentHTML, err = s.render(page); err != nil {
		return err
	}
	if err := s.db.UpdatePage(ctx, page); err != nil {
		return err
	}

	return s.db.CreateRevision(ctx, &models.Revision{
		PageID:   page.ID,
		Title:    page.Title,
		Content:  content,
		Syntax:   page.Syntax,
		AuthorID: s.author.ID,
		Comment:  comment,
		IsMinor:  minor,
	})
}

// SetDocumentSyntax switches the page syntax and renders the content again.
func (s *WikiService) SetDocumentSyntax(ctx context.Context, doc importer.DocumentRef, syntaxID string) error {
	page, err := s.ensurePage(ctx, doc)
	if err != nil {
		return err
	}
	if page.Syntax == syntaxID {
		return nil
	}

	page.Syntax = syntaxID
	if page.ContentHTML, err = s.render(page); err != nil {
		return err
	}
	if err := s.db.UpdatePage(ctx, page); err != nil {
		return err
	}
	return s.db.AmendLatestRevision(ctx, page.ID, page.Title, page.Syntax)
}

// SetDocumentTitle sets the page title.
func (s *WikiService) SetDocumentTitle(ctx context.Context, doc importer.DocumentRef, title string) error {
	page, err := s.ensurePage(ctx, doc)
	if err != nil {
		return err
	}
	if page.Title == title {
		return nil
	}

	page.Title = title
	if err := s.db.UpdatePage(ctx, page); err != nil {
		return err
	}
	return s.db.AmendLatestRevision(ctx, page.ID, page.Title, page.Syntax)
}

// SetDocumentParent links doc under parent, creating an empty parent page
// when it does not exist yet. A page is never linked under itself; titles
// such as "Tools/Tools" flatten to that.
func (s *WikiService) SetDocumentParent(ctx context.Context, doc, parent importer.DocumentRef) error {
	if s.withWiki(doc) == s.withWiki(parent) {
		s.log.Warn("parent link skipped, page is its own parent", zap.Stringer("page", doc))
		return nil
	}
	page, err := s.ensurePage(ctx, doc)
	if err != nil {
		return err
	}
	parentPage, err := s.ensurePage(ctx, parent)
	if err != nil {
		return err
	}
	if page.ParentID != nil && *page.ParentID == parentPage.ID {
		return nil
	}

	page.ParentID = &parentPage.ID
	return s.db.UpdatePage(ctx, page)
}

// SetProperty stores a class property on the page. The tag property also
// replaces the page's tags.
func (s *WikiService) SetProperty(ctx context.Context, doc importer.DocumentRef, className, property, value string) error {
	page, err := s.ensurePage(ctx, doc)
	if err != nil {
		return err
	}

	err = s.db.SetPageProperty(ctx, &models.Property{PageID: page.ID, ClassName: className, Name: property, Value: value})
	if err != nil {
		return err
	}

	if className == importer.TagClass && property == importer.TagProperty {
		return s.db.SetPageTags(ctx, page.ID, strings.Split(value, importer.TagSeparator))
	}
	return nil
}

// SetAttachmentContent writes an attachment file and records it on the page.
// A second write with the same file name replaces the first.
func (s *WikiService) SetAttachmentContent(ctx context.Context, doc importer.DocumentRef, fileName string, content []byte) error {
	name := filepath.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Errorf("%q: %w", fileName, ErrInvalidFileName)
	}

	page, err := s.ensurePage(ctx, doc)
	if err != nil {
		return err
	}

	dir := filepath.Join(s.uploadPath, strconv.FormatInt(page.ID, 10))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	dest := filepath.Join(dir, name)
	if err := afero.WriteFile(s.fs, dest, content, 0o644); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}

	return s.db.SaveAttachment(ctx, &models.Attachment{
		PageID:     page.ID,
		Filename:   name,
		Filepath:   dest,
		MimeType:   detectMimeType(name, content),
		SizeBytes:  int64(len(content)),
		UploaderID: s.author.ID,
	})
}

// withWiki fills in the service's wiki when doc names none.
func (s *WikiService) withWiki(doc importer.DocumentRef) importer.DocumentRef {
	if doc.Wiki == "" {
		doc.Wiki = s.wiki
	}
	return doc
}

// ensurePage returns the page for doc, creating an empty one on first use.
func (s *WikiService) ensurePage(ctx context.Context, doc importer.DocumentRef) (*models.Page, error) {
	if s.author == nil {
		return nil, ErrNoAuthor
	}
	doc = s.withWiki(doc)
	wiki := doc.Wiki

	page, err := s.db.GetPageByName(ctx, wiki, doc.Space, doc.Name)
	if err != nil || page != nil {
		return page, err
	}

	slug, err := s.uniqueSlug(ctx, PageSlug(doc.Space, doc.Name))
	if err != nil {
		return nil, err
	}
	page = &models.Page{
		Wiki:     wiki,
		Space:    doc.Space,
		Name:     doc.Name,
		Slug:     slug,
		Syntax:   markup.MarkdownSyntaxID,
		AuthorID: s.author.ID,
	}
	if err := s.db.CreatePage(ctx, page); err != nil {
		return nil, err
	}
	s.log.Debug("page created", zap.String("page", page.FullName()), zap.String("slug", slug))
	return page, nil
}

// uniqueSlug appends a numeric suffix until slug is free.
func (s *WikiService) uniqueSlug(ctx context.Context, slug string) (string, error) {
	if slug == "" {
		slug = "page"
	}
	candidate := slug
	for i := 2; i <= maxSlugSuffix; i++ {
		taken, err := s.db.SlugTaken(ctx, candidate, 0)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = slug + "-" + strconv.Itoa(i)
	}
	return "", fmt.Errorf("%s: %w", slug, ErrSlugsExhausted)
}

func (s *WikiService) render(page *models.Page) (string, error) {
	out, err := s.markdown.RenderPage(page.Syntax, page.Content, UploadURL(page.ID))
	if err != nil {
		return "", fmt.Errorf("render %s: %w", page.FullName(), err)
	}
	return out, nil
}

// UploadURL returns the URL prefix of a page's attachments.
func UploadURL(pageID int64) string {
	return path.Join(defaultUploadPrefix, strconv.FormatInt(pageID, 10))
}

func detectMimeType(name string, content []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(content)
}

// PageDetail is a page with everything stored alongside it.
type PageDetail struct {
	*models.Page
	Path        []models.PageSummary `json:"path"`
	Children    []models.PageSummary `json:"children"`
	Revisions   []models.Revision    `json:"revisions"`
	Attachments []models.Attachment  `json:"attachments"`
	Properties  []models.Property    `json:"properties"`
	Links       []string             `json:"links"`
}

// GetPage retrieves a page by slug with its subpages, history and
// attachments.
func (s *WikiService) GetPage(ctx context.Context, slug string) (*PageDetail, error) {
	page, err := s.db.GetPageBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	return s.detail(ctx, page)
}

// GetDocument retrieves a page by its document reference.
func (s *WikiService) GetDocument(ctx context.Context, doc importer.DocumentRef) (*PageDetail, error) {
	doc = s.withWiki(doc)
	page, err := s.db.GetPageByName(ctx, doc.Wiki, doc.Space, doc.Name)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, ErrPageNotFound
	}
	return s.detail(ctx, page)
}

func (s *WikiService) detail(ctx context.Context, page *models.Page) (*PageDetail, error) {
	d := &PageDetail{Page: page}
	var err error
	if d.Path, err = s.db.GetPagePath(ctx, page.ID); err != nil {
		return nil, err
	}
	if d.Children, err = s.db.GetPageChildren(ctx, page.ID); err != nil {
		return nil, err
	}
	if d.Revisions, err = s.db.ListRevisions(ctx, page.ID); err != nil {
		return nil, err
	}
	if d.Attachments, err = s.db.ListAttachments(ctx, page.ID); err != nil {
		return nil, err
	}
	if d.Properties, err = s.db.GetPageProperties(ctx, page.ID); err != nil {
		return nil, err
	}
	if page.Syntax == markup.MarkdownSyntaxID {
		d.Links = s.markdown.ExtractLinks(page.Content)
	}
	return d, nil
}

// ListPages retrieves pages matching filter.
func (s *WikiService) ListPages(ctx context.Context, filter models.PageFilter) ([]models.PageSummary, error) {
	return s.db.ListPages(ctx, filter)
}

// Search performs a search across all pages.
func (s *WikiService) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.db.SearchPages(ctx, query, limit)
}

// GetAllTags returns every tag with its page count.
func (s *WikiService) GetAllTags(ctx context.Context) ([]models.Tag, error) {
	return s.db.ListTags(ctx)
}
