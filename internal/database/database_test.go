package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimport/internal/config"
	"wikimport/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "wiki.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func newTestUser(t *testing.T, db *DB) *models.User {
	t.Helper()
	u := &models.User{Username: "importer", Email: "importer@localhost", PasswordHash: "x", Role: models.RoleImporter, IsActive: true}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	v, err := db.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)

	require.NoError(t, db.Migrate(ctx))
	v, err = db.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), v)
	require.NoError(t, db.HealthCheck(ctx))
}

func TestPageLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)

	parent := &models.Page{Wiki: "xwiki", Space: "Help", Name: "Guides", Slug: "help/guides", Syntax: "markdown/1.0", AuthorID: user.ID}
	require.NoError(t, db.CreatePage(ctx, parent))

	page := &models.Page{
		Wiki: "xwiki", Space: "Help", Name: "Install", Slug: "help/install",
		Title: "Install", Content: "# Install\n\nRun **make**.", Syntax: "markdown/1.0",
		AuthorID: user.ID, ParentID: &parent.ID,
	}
	require.NoError(t, db.CreatePage(ctx, page))

	got, err := db.GetPageByName(ctx, "xwiki", "Help", "Install")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, page.ID, got.ID)
	assert.Equal(t, "importer", got.Author.Username)
	assert.Equal(t, "xwiki:Help.Install", got.FullName())

	missing, err := db.GetPageByName(ctx, "xwiki", "Help", "Nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	got.Title = "Installing"
	got.Syntax = "plain/1.0"
	require.NoError(t, db.UpdatePage(ctx, got))
	bySlug, err := db.GetPageBySlug(ctx, "HELP/INSTALL")
	require.NoError(t, err)
	require.NotNil(t, bySlug)
	assert.Equal(t, "Installing", bySlug.Title)
	assert.Equal(t, "plain/1.0", bySlug.Syntax)

	taken, err := db.SlugTaken(ctx, "help/install", parent.ID)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = db.SlugTaken(ctx, "help/install", page.ID)
	require.NoError(t, err)
	assert.False(t, taken)

	path, err := db.GetPagePath(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, "Guides", path[0].Name)
	assert.Equal(t, "Install", path[1].Name)

	children, err := db.GetPageChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Run make.", children[0].Excerpt)

	list, err := db.ListPages(ctx, models.PageFilter{Space: "Help", OrderBy: "name", OrderDir: "ASC"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Guides", list[0].Name)

	n, err := db.CountPages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dup := &models.Page{Wiki: "xwiki", Space: "Help", Name: "Install", Slug: "other", Syntax: "markdown/1.0", AuthorID: user.ID}
	assert.Error(t, db.CreatePage(ctx, dup))
}

func TestRevisionsNumberPerPage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)

	page := &models.Page{Wiki: "xwiki", Space: "Main", Name: "A", Slug: "main/a", Syntax: "markdown/1.0", AuthorID: user.ID}
	require.NoError(t, db.CreatePage(ctx, page))

	for _, content := range []string{"one", "two", "three"} {
		rev := &models.Revision{PageID: page.ID, Content: content, Syntax: "markdown/1.0", AuthorID: user.ID, IsMinor: content == "two"}
		require.NoError(t, db.CreateRevision(ctx, rev))
	}

	revs, err := db.ListRevisions(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, revs, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{revs[0].Version, revs[1].Version, revs[2].Version})
	assert.True(t, revs[1].IsMinor)
	assert.Equal(t, "three", revs[2].Content)
	assert.Equal(t, "importer", revs[0].Author.Username)
}

func TestTagsAndProperties(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)

	page := &models.Page{Wiki: "xwiki", Space: "Main", Name: "A", Slug: "main/a", Syntax: "markdown/1.0", AuthorID: user.ID}
	require.NoError(t, db.CreatePage(ctx, page))

	require.NoError(t, db.SetPageTags(ctx, page.ID, []string{"Docs", " ", "Tools", "docs"}))
	tags, err := db.GetPageTags(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "Docs", tags[0].Name)
	assert.NotZero(t, tags[0].ID)
	assert.NotEqual(t, tags[0].ID, tags[1].ID)

	bySlug, err := db.GetPageBySlug(ctx, "main/a")
	require.NoError(t, err)
	assert.Equal(t, tags, bySlug.Tags)

	require.NoError(t, db.SetPageTags(ctx, page.ID, []string{"Tools"}))
	all, err := db.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 0, all[0].PageCount)
	assert.Equal(t, 1, all[1].PageCount)

	tagged, err := db.ListPages(ctx, models.PageFilter{Tag: "tools"})
	require.NoError(t, err)
	assert.Len(t, tagged, 1)

	prop := &models.Property{PageID: page.ID, ClassName: "TagClass", Name: "tags", Value: "Docs|"}
	require.NoError(t, db.SetPageProperty(ctx, prop))
	prop.Value = "Tools|"
	require.NoError(t, db.SetPageProperty(ctx, prop))

	props, err := db.GetPageProperties(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Tools|", props[0].Value)
}

func TestAttachmentsReplaceByName(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)

	page := &models.Page{Wiki: "xwiki", Space: "Main", Name: "A", Slug: "main/a", Syntax: "markdown/1.0", AuthorID: user.ID}
	require.NoError(t, db.CreatePage(ctx, page))

	att := &models.Attachment{PageID: page.ID, Filename: "a.png", Filepath: "p/1", MimeType: "image/png", SizeBytes: 10, UploaderID: user.ID}
	require.NoError(t, db.SaveAttachment(ctx, att))
	firstID := att.ID

	att2 := &models.Attachment{PageID: page.ID, Filename: "a.png", Filepath: "p/2", MimeType: "image/png", SizeBytes: 20, UploaderID: user.ID}
	require.NoError(t, db.SaveAttachment(ctx, att2))
	assert.Equal(t, firstID, att2.ID)

	list, err := db.ListAttachments(ctx, page.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(20), list[0].SizeBytes)
	assert.Equal(t, "p/2", list[0].Filepath)
}

func TestImportRuns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	run := &models.ImportRun{ID: "run-1", Source: "dump.xml"}
	require.NoError(t, db.CreateImportRun(ctx, run))

	got, err := db.GetImportRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ImportRunning, got.Status)
	assert.False(t, got.Finished())

	run.Status = models.ImportCompleted
	run.PagesSeen, run.PagesImported, run.PagesSkipped = 3, 2, 1
	run.Report = `{"pages_seen":3}`
	require.NoError(t, db.FinishImportRun(ctx, run))

	got, err = db.GetImportRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Finished())
	assert.Equal(t, 2, got.PagesImported)
	assert.True(t, got.FinishedAt.Valid)
	assert.JSONEq(t, `{"pages_seen":3}`, got.Report)

	runs, err := db.ListImportRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	err = db.FinishImportRun(ctx, &models.ImportRun{ID: "missing", Status: models.ImportFailed})
	assert.ErrorIs(t, err, ErrNotFound)

	missing, err := db.GetImportRun(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSearchAndSettings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := newTestUser(t, db)

	page := &models.Page{Wiki: "xwiki", Space: "Main", Name: "A", Slug: "main/a", Title: "Alpha", Content: "gamma ray", Syntax: "markdown/1.0", AuthorID: user.ID}
	require.NoError(t, db.CreatePage(ctx, page))

	hits, err := db.SearchPages(ctx, "gamma", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "main/a", hits[0].Slug)

	hits, err = db.SearchPages(ctx, "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	got, err := db.GetSettings(ctx, "source.")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, db.SetSettings(ctx, map[string]string{
		"source.sitename": "Tools",
		"source.base":     "http://tools/wiki",
		"import.last_run": "run-1",
	}))
	require.NoError(t, db.SetSettings(ctx, map[string]string{
		"source.sitename": "Docs",
		"source.base":     "",
	}))

	got, err = db.GetSettings(ctx, "source.")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source.sitename": "Docs"}, got)

	got, err = db.GetSettings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
