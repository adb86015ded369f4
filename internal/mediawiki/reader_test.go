package mediawiki

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimport/internal/document"
	"wikimport/internal/importer"
	"wikimport/internal/logging"
	"wikimport/internal/markup"
)

const sampleDump = `<mediawiki xmlns="http://www.mediawiki.org/xml/export-0.10/" version="0.10" xml:lang="en">
  <siteinfo>
    <sitename>Tools Wiki</sitename>
    <base>http://tools.example.org/wiki/Main_Page</base>
    <generator>MediaWiki 1.39.3</generator>
    <namespaces>
      <namespace key="0" case="first-letter" />
      <namespace key="6" case="first-letter">File</namespace>
      <namespace key="14" case="first-letter">Category</namespace>
    </namespaces>
  </siteinfo>
  <page>
    <title>Help:Guides/Install</title>
    <ns>12</ns>
    <id>42</id>
    <revision>
      <id>100</id>
      <timestamp>2021-03-01T10:00:00Z</timestamp>
      <contributor><username>alice</username><id>7</id></contributor>
      <comment>first draft</comment>
      <text xml:space="preserve">Install it.</text>
    </revision>
    <revision>
      <id>101</id>
      <parentid>100</parentid>
      <timestamp>2021-03-02T10:00:00Z</timestamp>
      <contributor><ip>10.0.0.1</ip></contributor>
      <minor/>
      <text xml:space="preserve">Install '''it''' now.</text>
    </revision>
    <upload>
      <filename>Setup.png</filename>
      <src>http://tools.example.org/images/Setup.png</src>
      <size>512</size>
    </upload>
  </page>
  <page>
    <title>Start</title>
    <ns>0</ns>
    <id>43</id>
    <revision>
      <id>200</id>
      <text xml:space="preserve">Hello</text>
    </revision>
  </page>
</mediawiki>`

// pageRecorder adds page events to recorder.
type pageRecorder struct {
	recorder
}

func (r *pageRecorder) BeginWikiPage()                { r.add("page(") }
func (r *pageRecorder) EndWikiPage(context.Context)   { r.add(")page") }
func (r *pageRecorder) BeginWikiPageRevision()        { r.add("rev(") }
func (r *pageRecorder) EndWikiPageRevision()          { r.add(")rev") }
func (r *pageRecorder) OnProperty(name, value string) { r.add("%s=%s", name, value) }
func (r *pageRecorder) BeginAttachment(name string)   { r.add("attach(%s", name) }
func (r *pageRecorder) EndAttachment(name string)     { r.add(")attach") }
func (r *pageRecorder) OnRawContent(text string)      { r.add("raw:%s", text) }

func TestReaderEventOrder(t *testing.T) {
	r := NewReader(nil)
	rec := &pageRecorder{}

	n, err := r.Read(context.Background(), strings.NewReader(sampleDump), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want := []string{
		"page(", "title=Help:Guides/Install", "version=42",
		"rev(", "version=100", "author=alice", "comment=first draft", "raw:Install it.",
		"p(", "text:Install it.", ")p",
		")rev",
		"rev(", "version=101", "author=10.0.0.1", "minor=true", "raw:Install '''it''' now.",
		"p(", "text:Install ", "bold(", "text:it", ")bold", "text: now.", ")p",
		")rev",
		"attach(Setup.png", ")attach",
		")page",
		"page(", "title=Start", "version=43",
		"rev(", "version=200", "raw:Hello", "p(", "text:Hello", ")p", ")rev",
		")page",
	}
	assert.Equal(t, want, rec.events)

	site := r.SiteInfo()
	assert.Equal(t, "Tools Wiki", site.SiteName)
	assert.Equal(t, "MediaWiki 1.39.3", site.Generator)
	require.Len(t, site.Namespaces, 3)
	assert.Equal(t, Namespace{Key: 6, Name: "File"}, site.Namespaces[1])
}

func TestReaderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &pageRecorder{}
	n, err := NewReader(nil).Read(ctx, strings.NewReader(sampleDump), rec)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, rec.events)
}

func TestReaderMalformedXML(t *testing.T) {
	dump := `<mediawiki><page><title>Ok</title><id>1</id><revision><id>2</id><text>x</text></revision></page><page><title>Broken`
	rec := &pageRecorder{}

	n, err := NewReader(nil).Read(context.Background(), strings.NewReader(dump), rec)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ")page", rec.events[len(rec.events)-1])
}

type collectingWriter struct {
	pages []*document.Page
}

func (w *collectingWriter) AddWikiPage(_ context.Context, page *document.Page) (importer.PageResult, error) {
	w.pages = append(w.pages, page)
	return importer.PageResult{}, nil
}

func TestReaderDrivesImportListener(t *testing.T) {
	w := &collectingWriter{}
	l := importer.NewListener(importer.Config{DefaultSpace: "Main", PreserveHistory: true}, w, nil, logging.NewImportLog(nil))

	n, err := NewReader(nil).Read(context.Background(), strings.NewReader(sampleDump), l)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, w.pages, 2)

	install := w.pages[0]
	assert.Equal(t, "Help", install.Space())
	assert.Equal(t, "Install", install.Name())
	require.Len(t, install.Revisions(), 2)

	first, second := install.Revisions()[0], install.Revisions()[1]
	assert.Equal(t, "100", first.VersionString())
	assert.Equal(t, "alice", first.Author)
	assert.Equal(t, "101", second.VersionString())
	assert.Equal(t, "10.0.0.1", second.Author)
	assert.True(t, second.Minor)
	assert.Equal(t, "Guides", second.Parent)
	assert.Equal(t, "Install '''it''' now.", second.OriginalContent)

	out, err := markup.MarkdownRenderer{}.Render(second.Content)
	require.NoError(t, err)
	assert.Equal(t, "Install **it** now.\n", out)

	require.Len(t, install.Attachments(), 1)
	assert.Equal(t, "Setup.png", install.Attachments()[0].FileName)

	report := l.Report()
	assert.Equal(t, 2, report.PagesSeen)
	assert.Equal(t, 2, report.PagesImported)
}
