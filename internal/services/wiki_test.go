package services

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wikimport/internal/config"
	"wikimport/internal/database"
	"wikimport/internal/document"
	"wikimport/internal/importer"
	"wikimport/internal/markup"
	"wikimport/internal/models"
)

type testEnv struct {
	db       *database.DB
	fs       afero.Fs
	markdown *MarkdownService
	wiki     *WikiService
	accounts *AccountService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "wiki.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	fs := afero.NewMemMapFs()
	md := NewMarkdownService()
	return &testEnv{
		db:       db,
		fs:       fs,
		markdown: md,
		wiki:     NewWikiService(db, md, fs, "/uploads", "xwiki", nil),
		accounts: NewAccountService(db, bcrypt.MinCost, nil),
	}
}

func (e *testEnv) store(t *testing.T) *WikiService {
	t.Helper()
	author, err := e.accounts.EnsureAccount(context.Background(), "importer")
	require.NoError(t, err)
	return e.wiki.WithAuthor(author)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestWikiServiceStoresDocument(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	store := env.store(t)
	doc := importer.DocumentRef{Wiki: "xwiki", Space: "Help", Name: "Install"}

	assert.Equal(t, "xwiki", store.CurrentWiki())
	require.NoError(t, store.SetAttachmentContent(ctx, doc, "Logo.png", pngHeader))
	require.NoError(t, store.SetDocumentContent(ctx, doc, "# Install\n\n![logo](image:Logo.png)", "first draft", false))
	require.NoError(t, store.SetDocumentSyntax(ctx, doc, markup.MarkdownSyntaxID))
	require.NoError(t, store.SetDocumentTitle(ctx, doc, "Install guide"))

	parent, err := store.ResolveReference("Guides", doc)
	require.NoError(t, err)
	assert.Equal(t, importer.DocumentRef{Wiki: "xwiki", Space: "Help", Name: "Guides"}, parent)
	require.NoError(t, store.SetDocumentParent(ctx, doc, parent))
	require.NoError(t, store.SetProperty(ctx, doc, importer.TagClass, importer.TagProperty, "Docs|Tools|"))

	detail, err := store.GetDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "help/install", detail.Slug)
	assert.Equal(t, "Install guide", detail.Title)
	assert.Equal(t, "importer", detail.Author.Username)

	uploads := UploadURL(detail.ID)
	assert.Equal(t, "/uploads/"+strconv.FormatInt(detail.ID, 10), uploads)
	assert.Contains(t, detail.ContentHTML, `src="`+uploads+`/Logo.png"`)

	require.Len(t, detail.Path, 2)
	assert.Equal(t, "Guides", detail.Path[0].Name)
	assert.Empty(t, detail.Children)

	guides, err := store.GetDocument(ctx, parent)
	require.NoError(t, err)
	require.Len(t, guides.Children, 1)
	assert.Equal(t, "Install", guides.Children[0].Name)
	assert.Equal(t, "help/install", guides.Children[0].Slug)

	require.Len(t, detail.Revisions, 1)
	assert.Equal(t, 1, detail.Revisions[0].Version)
	assert.Equal(t, "Install guide", detail.Revisions[0].Title)
	assert.Equal(t, "first draft", detail.Revisions[0].Comment)

	require.Len(t, detail.Tags, 2)
	assert.Equal(t, "Docs", detail.Tags[0].Name)
	require.Len(t, detail.Properties, 1)
	assert.Equal(t, "Docs|Tools|", detail.Properties[0].Value)

	require.Len(t, detail.Attachments, 1)
	att := detail.Attachments[0]
	assert.Equal(t, "Logo.png", att.Filename)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, int64(len(pngHeader)), att.SizeBytes)

	stored, err := afero.ReadFile(env.fs, att.Filepath)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, stored)

	bySlug, err := store.GetPage(ctx, "help/install")
	require.NoError(t, err)
	assert.Equal(t, detail.ID, bySlug.ID)
}

func TestWikiServiceRevisionsAndSyntax(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	store := env.store(t)
	doc := importer.DocumentRef{Space: "Main", Name: "Start"}

	require.NoError(t, store.SetDocumentContent(ctx, doc, "one", "", false))
	require.NoError(t, store.SetDocumentContent(ctx, doc, "two <b>", "typo", true))
	require.NoError(t, store.SetDocumentSyntax(ctx, doc, markup.PlainSyntaxID))

	detail, err := store.GetDocument(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "xwiki", detail.Wiki)
	assert.Equal(t, markup.PlainSyntaxID, detail.Syntax)
	assert.Equal(t, "<pre>two &lt;b&gt;</pre>\n", detail.ContentHTML)

	require.Len(t, detail.Revisions, 2)
	assert.Equal(t, markup.MarkdownSyntaxID, detail.Revisions[0].Syntax)
	assert.Equal(t, markup.PlainSyntaxID, detail.Revisions[1].Syntax)
	assert.True(t, detail.Revisions[1].IsMinor)
	assert.Equal(t, 2, detail.Revisions[1].Version)
}

func TestWikiServiceSlugCollision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	store := env.store(t)

	a := importer.DocumentRef{Space: "Main", Name: "A B"}
	b := importer.DocumentRef{Space: "Main", Name: "A_B"}
	require.NoError(t, store.SetDocumentContent(ctx, a, "a", "", false))
	require.NoError(t, store.SetDocumentContent(ctx, b, "b", "", false))

	da, err := store.GetDocument(ctx, a)
	require.NoError(t, err)
	db, err := store.GetDocument(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "main/a-b", da.Slug)
	assert.Equal(t, "main/a-b-2", db.Slug)
}

func TestWikiServiceRejects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	doc := importer.DocumentRef{Space: "Main", Name: "Start"}

	err := env.wiki.SetDocumentContent(ctx, doc, "x", "", false)
	assert.ErrorIs(t, err, ErrNoAuthor)

	store := env.store(t)
	assert.ErrorIs(t, store.SetAttachmentContent(ctx, doc, "..", []byte("x")), ErrInvalidFileName)
	assert.ErrorIs(t, store.SetAttachmentContent(ctx, doc, " ", []byte("x")), ErrInvalidFileName)

	_, err = store.GetPage(ctx, "missing")
	assert.ErrorIs(t, err, ErrPageNotFound)
	_, err = store.GetDocument(ctx, importer.DocumentRef{Space: "Main", Name: "Missing"})
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestWikiServiceSkipsSelfParent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	store := env.store(t)
	doc := importer.DocumentRef{Space: "Main", Name: "Tools"}

	require.NoError(t, store.SetDocumentContent(ctx, doc, "x", "", false))
	require.NoError(t, store.SetDocumentParent(ctx, doc, importer.DocumentRef{Wiki: "xwiki", Space: "Main", Name: "Tools"}))

	detail, err := store.GetDocument(ctx, doc)
	require.NoError(t, err)
	assert.Nil(t, detail.ParentID)
	assert.Len(t, detail.Path, 1)
}

func TestWikiServiceThroughBridge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	store := env.store(t)

	b := markup.NewBuilder()
	b.BeginParagraph()
	b.OnText("Hello ")
	b.BeginLink(markup.ResourceReference{Type: markup.ResourceDocument, Reference: "Main.Other"}, false, nil)
	b.OnText("other")
	b.EndLink(markup.ResourceReference{}, false, nil)
	b.EndParagraph()
	content, err := b.Document()
	require.NoError(t, err)

	page := newDocumentPage("Main", "Hello", content)
	bridge := importer.NewBridge(store, markup.MarkdownRenderer{}, importer.Config{DefaultSpace: "Main"}, nopLog{})
	res, err := bridge.AddWikiPage(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RevisionsWritten)

	detail, err := store.GetDocument(ctx, res.Document)
	require.NoError(t, err)
	assert.Equal(t, "Hello [[Main.Other|other]]\n", detail.Content)
	assert.Contains(t, detail.ContentHTML, `href="/wiki/main/other"`)
	assert.Equal(t, []string{"Main.Other"}, detail.Links)

	list, err := store.ListPages(ctx, models.PageFilter{Space: "Main"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	hits, err := store.Search(ctx, "hello", 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func newDocumentPage(space, title string, content *markup.Document) *document.Page {
	page := document.NewPage(space)
	rev := page.NewRevision(false)
	rev.Title = title
	rev.SetVersion("1")
	rev.Content = content
	return page
}

type nopLog struct{}

func (nopLog) NextPage()            {}
func (nopLog) SetPageTitle(string)  {}
func (nopLog) Info(string, ...any)  {}
func (nopLog) Warn(string, ...any)  {}
func (nopLog) Error(string, ...any) {}
