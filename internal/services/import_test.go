package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimport/internal/config"
	"wikimport/internal/document"
	"wikimport/internal/importer"
	"wikimport/internal/models"
)

const importDump = `<mediawiki xmlns="http://www.mediawiki.org/xml/export-0.10/" version="0.10">
  <siteinfo>
    <sitename>Tools Wiki</sitename>
    <generator>MediaWiki 1.39.3</generator>
  </siteinfo>
  <page>
    <title>Help:Guides/Install</title>
    <id>42</id>
    <revision>
      <id>100</id>
      <contributor><username>alice</username></contributor>
      <comment>first draft</comment>
      <text xml:space="preserve">Install it.</text>
    </revision>
    <revision>
      <id>101</id>
      <contributor><username>bob</username></contributor>
      <minor/>
      <text xml:space="preserve">Install '''it''' now. [[Image:Logo.png|The logo]] [[Missing.pdf]]

[[Category:Docs|Install, Guide]]</text>
    </revision>
  </page>
  <page>
    <title>Category:Docs</title>
    <id>43</id>
    <revision>
      <id>200</id>
      <text xml:space="preserve">All documentation.</text>
    </revision>
  </page>
  <page>
    <title>Start</title>
    <id>44</id>
    <revision>
      <id>300</id>
      <text xml:space="preserve">See [[Help:Guides/Install|install]]. {{Infobox|x=1}}</text>
    </revision>
  </page>
</mediawiki>`

func newImportService(t *testing.T, env *testEnv, cfg config.ImportConfig, backup bool) *ImportService {
	t.Helper()
	require.NoError(t, afero.WriteFile(env.fs, "/attachments/images/Logo.png", pngHeader, 0o644))
	require.NoError(t, afero.WriteFile(env.fs, "/attachments/archive/Logo.png", []byte("old"), 0o644))

	bs, err := NewBackupService(env.fs, backup, "/backup")
	require.NoError(t, err)
	return NewImportService(env.db, env.wiki, env.accounts, bs, env.fs, cfg, nil)
}

func TestImportServiceImportsDump(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newImportService(t, env, config.ImportConfig{
		DefaultSpace:          "Main",
		PreserveHistory:       true,
		AttachmentPath:        "/attachments",
		AttachmentExcludeDirs: []string{"archive"},
		AuthorName:            "importer",
	}, true)

	source, err := svc.Source(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SourceInfo{}, source)

	userID := int64(1)
	result, err := svc.Import(ctx, strings.NewReader(importDump), "dump.xml", &userID)
	require.NoError(t, err)

	report := result.Report
	assert.Equal(t, 3, report.PagesSeen)
	assert.Equal(t, 2, report.PagesImported)
	assert.Equal(t, 1, report.PagesSkipped)
	assert.Equal(t, 0, report.PagesFailed)
	assert.Equal(t, 3, report.RevisionsWritten)
	assert.Equal(t, 1, report.AttachmentsWritten)
	assert.Equal(t, 1, report.MacroErrors)
	assert.Equal(t, "Tools Wiki", result.Site.SiteName)
	require.Len(t, result.Pages, 3)
	assert.Equal(t, "Help:Guides/Install", result.Pages[0].Title)

	install, err := env.wiki.GetDocument(ctx, importer.DocumentRef{Wiki: "xwiki", Space: "Help", Name: "Install"})
	require.NoError(t, err)
	require.Len(t, install.Revisions, 2)
	assert.Equal(t, "first draft", install.Revisions[0].Comment)
	assert.True(t, install.Revisions[1].IsMinor)
	assert.Contains(t, install.Content, "![The logo](image:Logo.png)")
	assert.Contains(t, install.ContentHTML, `/Logo.png"`)
	assert.NotContains(t, install.Content, "Install, Guide")
	require.Len(t, install.Tags, 1)
	assert.Equal(t, "Docs", install.Tags[0].Name)
	require.Len(t, install.Path, 2)
	assert.Equal(t, "Guides", install.Path[0].Name)
	require.Len(t, install.Attachments, 1)
	assert.Equal(t, int64(len(pngHeader)), install.Attachments[0].SizeBytes)

	start, err := env.wiki.GetDocument(ctx, importer.DocumentRef{Wiki: "xwiki", Space: "Main", Name: "Start"})
	require.NoError(t, err)
	assert.Contains(t, start.Content, "[[Help.Install|install]]")
	assert.Contains(t, start.Content, "{{warning")

	_, err = env.wiki.GetDocument(ctx, importer.DocumentRef{Wiki: "xwiki", Space: "Category", Name: "Docs"})
	assert.ErrorIs(t, err, ErrPageNotFound)

	run, err := svc.GetRun(ctx, result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportCompleted, run.Status)
	assert.Equal(t, 2, run.PagesImported)
	assert.Equal(t, 1, run.PagesSkipped)
	assert.Contains(t, run.Report, `"pages_imported":2`)
	require.NotNil(t, run.UserID)
	assert.Equal(t, userID, *run.UserID)

	exists, err := afero.Exists(env.fs, "/backup/xwiki/Help/Guides/Install.md")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = afero.Exists(env.fs, "/backup/xwiki/Main/Start.md")
	require.NoError(t, err)
	assert.True(t, exists)

	runs, err := svc.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	source, err = svc.Source(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SourceInfo{SiteName: "Tools Wiki", Generator: "MediaWiki 1.39.3", LastRunID: result.Run.ID}, source)
}

func TestImportServiceLastRevisionAndTargetSpace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newImportService(t, env, config.ImportConfig{
		TargetWiki:   "docs",
		TargetSpace:  "Imported",
		DefaultSpace: "Main",
		AuthorName:   "importer",
	}, false)

	result, err := svc.Import(ctx, strings.NewReader(importDump), "dump.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Report.PagesImported)
	assert.Equal(t, 2, result.Report.RevisionsWritten)
	assert.Equal(t, 0, result.Report.AttachmentsWritten)
	assert.Equal(t, 1, result.Report.AttachmentsMissing)

	install, err := env.wiki.GetDocument(ctx, importer.DocumentRef{Wiki: "docs", Space: "Imported", Name: "Install"})
	require.NoError(t, err)
	require.Len(t, install.Revisions, 1)
	assert.True(t, install.Revisions[0].IsMinor)
	assert.Equal(t, "importer", install.Revisions[0].Author.Username)
	assert.Empty(t, install.Attachments)
	require.Len(t, install.Path, 2)
	assert.Equal(t, "Imported", install.Path[0].Space)

	_, err = env.wiki.GetDocument(ctx, importer.DocumentRef{Wiki: "docs", Space: "Imported", Name: "Start"})
	require.NoError(t, err)
}

func TestImportServiceMalformedDump(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newImportService(t, env, config.ImportConfig{DefaultSpace: "Main", AuthorName: "importer"}, false)

	dump := `<mediawiki><page><title>Ok</title><id>1</id><revision><id>2</id><text>x</text></revision></page><page><title>Broken`
	result, err := svc.Import(ctx, strings.NewReader(dump), "broken.xml", nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Report.PagesImported)

	run, err := svc.GetRun(ctx, result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportFailed, run.Status)
	assert.NotEmpty(t, run.Error)

	_, err = svc.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrImportNotFound)

	source, err := svc.Source(ctx)
	require.NoError(t, err)
	assert.Empty(t, source.SiteName)
	assert.Equal(t, result.Run.ID, source.LastRunID)
}

func TestImportServiceSelfParentTitle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newImportService(t, env, config.ImportConfig{DefaultSpace: "Main", AuthorName: "importer"}, false)

	dump := `<mediawiki>
  <page>
    <title>Tools/Tools</title>
    <id>1</id>
    <revision>
      <id>2</id>
      <text xml:space="preserve">Tool index. [[Category:Index]]</text>
    </revision>
  </page>
</mediawiki>`
	result, err := svc.Import(ctx, strings.NewReader(dump), "tools.xml", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Report.PagesImported)
	assert.Equal(t, 0, result.Report.PagesFailed)

	tools, err := env.wiki.GetDocument(ctx, importer.DocumentRef{Space: "Main", Name: "Tools"})
	require.NoError(t, err)
	assert.Nil(t, tools.ParentID)
	require.Len(t, tools.Tags, 1)
	assert.Equal(t, "Index", tools.Tags[0].Name)
}

type writerFunc func(*document.Page) (importer.PageResult, error)

func (f writerFunc) AddWikiPage(_ context.Context, page *document.Page) (importer.PageResult, error) {
	return f(page)
}

func TestTrackingWriterKeepsFirstWriteOrder(t *testing.T) {
	a := importer.DocumentRef{Wiki: "xwiki", Space: "Main", Name: "A"}
	b := importer.DocumentRef{Wiki: "xwiki", Space: "Main", Name: "B"}
	c := importer.DocumentRef{Wiki: "xwiki", Space: "Main", Name: "C"}
	writes := []struct {
		doc importer.DocumentRef
		err error
	}{{b, nil}, {a, nil}, {b, nil}, {c, errors.New("boom")}, {a, nil}}

	i := 0
	w := newTrackingWriter(writerFunc(func(*document.Page) (importer.PageResult, error) {
		next := writes[i]
		i++
		return importer.PageResult{Document: next.doc}, next.err
	}))
	for range writes {
		_, _ = w.AddWikiPage(context.Background(), document.NewPage("Main"))
	}

	assert.Equal(t, []importer.DocumentRef{b, a}, w.docs)
}

func TestImporterConfig(t *testing.T) {
	exts := []string{"png"}
	cfg := ImporterConfig(config.ImportConfig{TargetSpace: "X", DefaultSpace: "Main", PreserveHistory: true, ImageExtensions: exts})
	exts[0] = "gif"
	assert.Equal(t, importer.Config{TargetSpace: "X", DefaultSpace: "Main", PreserveHistory: true, ImageExtensions: []string{"png"}}, cfg)
}
