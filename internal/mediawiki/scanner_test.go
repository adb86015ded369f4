package mediawiki

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikimport/internal/markup"
)

// recorder flattens events into short strings.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func listName(ordered bool) string {
	if ordered {
		return "ol"
	}
	return "ul"
}

func paramString(params map[string]string) string {
	keys := slices.Sorted(maps.Keys(params))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (r *recorder) BeginParagraph()        { r.add("p(") }
func (r *recorder) EndParagraph()          { r.add(")p") }
func (r *recorder) BeginHeading(level int) { r.add("h%d(", level) }
func (r *recorder) EndHeading(level int)   { r.add(")h%d", level) }
func (r *recorder) BeginFormat(f markup.Format) {
	r.add("%s(", f)
}
func (r *recorder) EndFormat(f markup.Format) { r.add(")%s", f) }
func (r *recorder) BeginList(ordered bool)    { r.add("%s(", listName(ordered)) }
func (r *recorder) EndList(ordered bool)      { r.add(")%s", listName(ordered)) }
func (r *recorder) BeginListItem()            { r.add("li(") }
func (r *recorder) EndListItem()              { r.add(")li") }
func (r *recorder) OnText(text string)        { r.add("text:%s", text) }
func (r *recorder) OnNewLine()                { r.add("nl") }
func (r *recorder) OnHorizontalLine()         { r.add("hr") }

func (r *recorder) BeginLink(ref markup.ResourceReference, freeStanding bool, _ map[string]string) {
	if freeStanding {
		r.add("link*(%s:%s", ref.Type, ref.Reference)
		return
	}
	r.add("link(%s:%s", ref.Type, ref.Reference)
}

func (r *recorder) EndLink(markup.ResourceReference, bool, map[string]string) { r.add(")link") }

func (r *recorder) OnImage(ref markup.ResourceReference, _ bool, params map[string]string) {
	r.add("image:%s%s", ref.Reference, paramString(params))
}

func (r *recorder) OnMacro(id string, params map[string]string, _ string, inline bool) {
	if inline {
		r.add("macro~%s%s", id, paramString(params))
		return
	}
	r.add("macro:%s%s", id, paramString(params))
}

func (r *recorder) OnRawHTML(html string) { r.add("html:%s", html) }

func scan(t *testing.T, text string) []string {
	t.Helper()
	r := &recorder{}
	require.NoError(t, Scan(text, r))
	return r.events
}

func TestScanBlocks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "heading",
			in:   "== Install ==",
			want: []string{"h2(", "text:Install", ")h2"},
		},
		{
			name: "uneven heading",
			in:   "== a =",
			want: []string{"h1(", "text:= a", ")h1"},
		},
		{
			name: "paragraph lines",
			in:   "first\nsecond",
			want: []string{"p(", "text:first", "nl", "text:second", ")p"},
		},
		{
			name: "blank line splits paragraphs",
			in:   "first\n\nsecond",
			want: []string{"p(", "text:first", ")p", "p(", "text:second", ")p"},
		},
		{
			name: "rule",
			in:   "above\n----\nbelow",
			want: []string{"p(", "text:above", ")p", "hr", "p(", "text:below", ")p"},
		},
		{
			name: "nested lists",
			in:   "* one\n** two\n* three\n# four",
			want: []string{
				"ul(", "li(", "text:one",
				"ul(", "li(", "text:two", ")li", ")ul",
				")li", "li(", "text:three", ")li", ")ul",
				"ol(", "li(", "text:four", ")li", ")ol",
			},
		},
		{
			name: "magic words",
			in:   "__NOTOC__\n__TOC__\n__FORCETOC__",
			want: []string{"macro:toc{}", "macro:forcetoc{}"},
		},
		{
			name: "block template",
			in:   "{{Infobox\n|name = Tool\n|Stable\n}}",
			want: []string{"macro:Infobox{1=Stable,name=Tool}"},
		},
		{
			name: "html block",
			in:   "<div class=\"note\">\nhello\n</div>\nafter",
			want: []string{"html:<div class=\"note\">\nhello\n</div>", "p(", "text:after", ")p"},
		},
		{
			name: "gallery",
			in:   "<gallery>\nFile:A.png|Caption A\nImage:B.jpg\n</gallery>",
			want: []string{"image:A.png{alt=Caption A}", "image:B.jpg{}"},
		},
		{
			name: "indent markers",
			in:   ": quoted",
			want: []string{"p(", "text:quoted", ")p"},
		},
		{
			name: "crlf",
			in:   "a\r\nb",
			want: []string{"p(", "text:a", "nl", "text:b", ")p"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scan(t, tt.in))
		})
	}
}

func TestScanInline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "bold and italic",
			in:   "Hello '''bold''' and ''it''",
			want: []string{"text:Hello ", "bold(", "text:bold", ")bold", "text: and ", "italic(", "text:it", ")italic"},
		},
		{
			name: "overlapping formats stay balanced",
			in:   "'''b ''bi''' i''",
			want: []string{
				"bold(", "text:b ", "italic(", "text:bi", ")italic", ")bold",
				"italic(", "text: i", ")italic",
			},
		},
		{
			name: "unclosed format closes at line end",
			in:   "'''open",
			want: []string{"bold(", "text:open", ")bold"},
		},
		{
			name: "labelled link",
			in:   "See [[Main Page|the home]] now",
			want: []string{"text:See ", "link(doc:Main Page", "text:the home", ")link", "text: now"},
		},
		{
			name: "anchor stripped",
			in:   "[[Help:Foo#Usage]]",
			want: []string{"link(doc:Help:Foo", ")link"},
		},
		{
			name: "same page anchor",
			in:   "[[#Usage|below]]",
			want: []string{"text:below"},
		},
		{
			name: "category",
			in:   "[[Category:Docs]]",
			want: []string{"link(doc:Category:Docs", ")link"},
		},
		{
			name: "category link keeps colon",
			in:   "[[:Category:Docs]]",
			want: []string{"link(doc::Category:Docs", ")link"},
		},
		{
			name: "leading colon dropped",
			in:   "[[:Help:Foo]]",
			want: []string{"link(doc:Help:Foo", ")link"},
		},
		{
			name: "formatted label",
			in:   "[[Foo|'''big''']]",
			want: []string{"link(doc:Foo", "bold(", "text:big", ")bold", ")link"},
		},
		{
			name: "image with options",
			in:   "[[Image:Logo.png|thumb|200px|left|The logo]]",
			want: []string{"image:Logo.png{alt=The logo}"},
		},
		{
			name: "image alt option",
			in:   "[[File:Logo.png|alt=Company logo]]",
			want: []string{"image:Logo.png{alt=Company logo}"},
		},
		{
			name: "file that is not an image",
			in:   "[[File:manual.pdf|Manual]]",
			want: []string{"link(doc:File:manual.pdf", "text:Manual", ")link"},
		},
		{
			name: "external link",
			in:   "[http://example.com Example site]",
			want: []string{"link(url:http://example.com", "text:Example site", ")link"},
		},
		{
			name: "external link without label",
			in:   "[https://example.com/x]",
			want: []string{"link(url:https://example.com/x", ")link"},
		},
		{
			name: "bare url",
			in:   "visit http://example.com/x.",
			want: []string{"text:visit ", "link*(url:http://example.com/x", ")link", "text:."},
		},
		{
			name: "inline template",
			in:   "Note {{tpl|a=b|c}} end",
			want: []string{"text:Note ", "macro~tpl{1=c,a=b}", "text: end"},
		},
		{
			name: "template with link argument",
			in:   "{{see|[[A|B]]}} x",
			want: []string{"macro~see{1=[[A|B]]}", "text: x"},
		},
		{
			name: "line break",
			in:   "a<br/>b",
			want: []string{"text:a", "nl", "text:b"},
		},
		{
			name: "format tags",
			in:   "<b>x</b> <code>y</code>",
			want: []string{"bold(", "text:x", ")bold", "text: ", "monospace(", "text:y", ")monospace"},
		},
		{
			name: "raw element",
			in:   "a<span style=\"color:red\">y</span>",
			want: []string{"text:a", "html:<span style=\"color:red\">y</span>"},
		},
		{
			name: "self closing element",
			in:   "<references />",
			want: []string{"html:<references />"},
		},
		{
			name: "nowiki",
			in:   "<nowiki>'''x'''</nowiki>",
			want: []string{"text:'''x'''"},
		},
		{
			name: "comment dropped",
			in:   "<!-- hidden -->z",
			want: []string{"text:z"},
		},
		{
			name: "entities",
			in:   "a &amp; b",
			want: []string{"text:a & b"},
		},
		{
			name: "stray angle bracket",
			in:   "a < b",
			want: []string{"text:a < b"},
		},
		{
			name: "unclosed link",
			in:   "[[broken",
			want: []string{"text:[[broken"},
		},
		{
			name: "unclosed template",
			in:   "{{broken",
			want: []string{"text:{{broken"},
		},
		{
			name: "unmatched close tag",
			in:   "x</i>",
			want: []string{"text:x</i>"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := append(append([]string{"p("}, tt.want...), ")p")
			assert.Equal(t, want, scan(t, tt.in))
		})
	}
}

func TestScanProducesBalancedTree(t *testing.T) {
	inputs := []string{
		"'''unclosed ''mixed\n* list ''item\n## deep\n== head ''x ==\n[[a|'''b]] {{c|[[d]]",
		"<div>\nnever closed",
		"{{outer\n{{inner}}\n",
		"<gallery>\nFile:x.png",
		"[[Image:]] [[:]] [[]] [ ] [[File:.png]]",
	}
	for _, in := range inputs {
		b := markup.NewBuilder()
		require.NoError(t, Scan(in, b))
		_, err := b.Document()
		assert.NoError(t, err, "input %q", in)
	}
}

type panickingListener struct {
	recorder
}

func (panickingListener) OnText(string) { panic("listener exploded") }

func TestScanRecoversListenerPanic(t *testing.T) {
	err := Scan("text", &panickingListener{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener exploded")
}

func TestScanRendersMarkdown(t *testing.T) {
	b := markup.NewBuilder()
	require.NoError(t, Scan("== Setup ==\nRun '''make''' first.\n* one\n* two", b))
	doc, err := b.Document()
	require.NoError(t, err)

	out, err := markup.MarkdownRenderer{}.Render(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "## Setup")
	assert.Contains(t, out, "Run **make** first.")
	assert.Contains(t, out, "- one")
}
