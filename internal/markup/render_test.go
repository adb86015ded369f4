package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, build func(b *Builder)) string {
	t.Helper()
	b := NewBuilder()
	build(b)
	doc, err := b.Document()
	require.NoError(t, err)
	out, err := MarkdownRenderer{}.Render(doc)
	require.NoError(t, err)
	return out
}

func TestRenderHeadingAndParagraph(t *testing.T) {
	out := render(t, func(b *Builder) {
		b.BeginHeading(2)
		b.OnText("Install")
		b.EndHeading(2)
		b.BeginParagraph()
		b.OnText("Run ")
		b.BeginFormat(FormatMonospace)
		b.OnText("make")
		b.EndFormat(FormatMonospace)
		b.OnText(" then ")
		b.BeginFormat(FormatBold)
		b.OnText("wait")
		b.EndFormat(FormatBold)
		b.EndParagraph()
	})
	assert.Equal(t, "## Install\n\nRun `make` then **wait**\n", out)
}

func TestRenderLinks(t *testing.T) {
	tags := ResourceReference{Type: ResourceDocument, Reference: "Main.Tags"}
	tags.SetParam(QueryStringParam, "do=viewTag&tag=Help")

	tests := []struct {
		name  string
		ref   ResourceReference
		free  bool
		label string
		want  string
	}{
		{"document", ResourceReference{Type: ResourceDocument, Reference: "Main.BazPage"}, false, "Baz", "[[Main.BazPage|Baz]]\n"},
		{"document without label", ResourceReference{Type: ResourceDocument, Reference: "Main.BazPage"}, false, "", "[[Main.BazPage]]\n"},
		{"query string", tags, false, "HELP", "[[Main.Tags?do=viewTag&tag=Help|HELP]]\n"},
		{"url", ResourceReference{Type: ResourceURL, Reference: "http://x.org"}, false, "X", "[X](http://x.org)\n"},
		{"free standing url", ResourceReference{Type: ResourceURL, Reference: "http://x.org"}, true, "http://x.org", "<http://x.org>\n"},
		{"image link", ResourceReference{Type: ResourceImage, Reference: "image:Logo.PNG"}, false, "", "![Logo.PNG](image:Logo.PNG)\n"},
		{"attachment", ResourceReference{Type: ResourceAttachment, Reference: "attach:manual.pdf"}, false, "", "[manual.pdf](attach:manual.pdf)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(t, func(b *Builder) {
				b.BeginParagraph()
				b.BeginLink(tt.ref, tt.free, nil)
				b.OnText(tt.label)
				b.EndLink(tt.ref, tt.free, nil)
				b.EndParagraph()
			})
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRenderListsAndMacros(t *testing.T) {
	out := render(t, func(b *Builder) {
		b.OnMacro("toc", map[string]string{"numbered": "true"}, "", false)
		b.BeginList(true)
		b.BeginListItem()
		b.OnText("one")
		b.BeginList(false)
		b.BeginListItem()
		b.OnText("nested")
		b.EndListItem()
		b.EndList(false)
		b.EndListItem()
		b.BeginListItem()
		b.OnText("two")
		b.EndListItem()
		b.EndList(true)
		b.OnMacro("warning", nil, "infobox", false)
	})
	assert.Equal(t, "{{toc numbered=\"true\"/}}\n\n1. one\n  - nested\n2. two\n\n{{warning}}infobox{{/warning}}\n", out)
}

func TestRenderRawHTML(t *testing.T) {
	out := render(t, func(b *Builder) {
		b.OnRawHTML("<p><b>bold</b></p>")
	})
	assert.Equal(t, "**bold**\n", out)
}

func TestRenderFailures(t *testing.T) {
	_, err := MarkdownRenderer{}.Render(nil)
	require.ErrorIs(t, err, ErrRender)

	doc := &Document{Children: []*Block{{Kind: KindParagraph, Children: []*Block{{Kind: Kind(99)}}}}}
	_, err = MarkdownRenderer{}.Render(doc)
	require.ErrorIs(t, err, ErrRender)

	doc = &Document{Children: []*Block{{Kind: KindParagraph, Children: []*Block{{Kind: KindLink}}}}}
	_, err = MarkdownRenderer{}.Render(doc)
	require.ErrorIs(t, err, ErrRender)
}
