package services

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"wikimport/internal/importer"
	"wikimport/internal/markup"
	"wikimport/internal/reference"
)

var (
	slugInvalidRegex = regexp.MustCompile(`[^a-z0-9/-]`)
	slugHyphenRegex  = regexp.MustCompile(`-+`)
	slugSlashRegex   = regexp.MustCompile(`/+`)
	slugJoinRegex    = regexp.MustCompile(`-*/+-*`)

	wikiLinkRegex = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]+)?\]\]`)

	macroParams    = `((?:\s+[^="{}\s][^="{}]*="(?:[^"\\]|\\.)*")*)`
	macroRegex     = regexp.MustCompile(`(?s)\{\{(\w+)` + macroParams + `\s*(/?)\}\}`)
	macroCloseTmpl = "{{/%s}}"
	macroParamRe   = regexp.MustCompile(`([^="{}\s][^="{}]*)="((?:[^"\\]|\\.)*)"`)
)

// uploadBaseKey carries the URL prefix for image: and attach: references of
// the page being rendered.
var uploadBaseKey = parser.NewContextKey()

// MarkdownService handles markdown parsing and rendering.
type MarkdownService struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewMarkdownService creates a new markdown service with secure defaults.
func NewMarkdownService() *MarkdownService {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,            // GitHub Flavored Markdown
			extension.Typographer,    // Smart quotes, dashes, etc.
			extension.DefinitionList, // Definition lists
			extension.Footnote,       // Footnotes
			&wikiLinkExtension{},     // [[Space.Page|label]] links
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(), // Auto-generate heading IDs
			parser.WithASTTransformers(
				util.Prioritized(&resourceTransformer{}, 100),
			),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(), // Treat newlines as <br>
			gmhtml.WithXHTML(),     // XHTML compatible output
			gmhtml.WithUnsafe(),    // We'll sanitize separately with bluemonday
		),
	)

	// Create a strict sanitizer policy
	sanitizer := bluemonday.UGCPolicy()

	// Allow additional safe elements
	sanitizer.AllowElements("details", "summary", "mark", "abbr", "kbd", "sub", "sup")

	// Allow data attributes for syntax highlighting
	sanitizer.AllowDataAttributes()

	// Allow class attributes for styling
	sanitizer.AllowAttrs("class").OnElements(
		"div", "span", "pre", "code", "table", "thead", "tbody", "tr", "th", "td",
		"ul", "ol", "li", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6", "nav",
	)

	// Allow id attributes for heading anchors
	sanitizer.AllowAttrs("id").OnElements("h1", "h2", "h3", "h4", "h5", "h6", "a")

	// Allow language class on code blocks
	sanitizer.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[a-zA-Z0-9_-]+$`)).OnElements("code")

	// Allow internal wiki links
	sanitizer.AllowAttrs("href").OnElements("a")
	sanitizer.AllowRelativeURLs(true)

	// Allow images with alt text
	sanitizer.AllowAttrs("alt", "title", "width", "height").OnElements("img")
	sanitizer.AllowAttrs("src").Matching(regexp.MustCompile(`^(/uploads/|https?://)`)).OnElements("img")

	return &MarkdownService{
		md:        md,
		sanitizer: sanitizer,
	}
}

// Render converts markdown to sanitized HTML. Attachment references resolve
// against /uploads.
func (s *MarkdownService) Render(markdown string) (string, error) {
	return s.render(markdown, "/uploads")
}

// RenderPage converts stored page content in syntax to sanitized HTML.
// uploadBase is the URL prefix of the page's attachments. Plain content is
// escaped into a preformatted block.
func (s *MarkdownService) RenderPage(syntax, content, uploadBase string) (string, error) {
	switch syntax {
	case markup.PlainSyntaxID:
		return "<pre>" + html.EscapeString(content) + "</pre>\n", nil
	case markup.MarkdownSyntaxID, "":
		return s.render(content, uploadBase)
	}
	return "", fmt.Errorf("unsupported syntax %q", syntax)
}

func (s *MarkdownService) render(markdown, uploadBase string) (string, error) {
	markdown = s.expandMacros(markdown)

	pc := parser.NewContext()
	pc.Set(uploadBaseKey, strings.TrimSuffix(uploadBase, "/"))

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(markdown), &buf, parser.WithContext(pc)); err != nil {
		return "", err
	}

	// Sanitize the output
	sanitized := s.sanitizer.SanitizeBytes(buf.Bytes())

	return string(sanitized), nil
}

// ExtractLinks extracts all wiki-style link targets from markdown.
func (s *MarkdownService) ExtractLinks(markdown string) []string {
	matches := wikiLinkRegex.FindAllStringSubmatch(markdown, -1)

	links := make([]string, 0, len(matches))
	seen := make(map[string]bool)

	for _, match := range matches {
		if len(match) > 1 {
			link := strings.TrimSpace(match[1])
			if !seen[link] {
				links = append(links, link)
				seen[link] = true
			}
		}
	}

	return links
}

// GenerateTOC extracts headings and generates a table of contents.
func (s *MarkdownService) GenerateTOC(markdown string) []TOCEntry {
	source := []byte(markdown)
	doc := s.md.Parser().Parse(text.NewReader(source))

	var entries []TOCEntry

	ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		if heading, ok := node.(*ast.Heading); ok {
			text := extractTextFromNode(heading, source)
			id := generateHeadingID(text)
			if v, ok := heading.AttributeString("id"); ok {
				if b, ok := v.([]byte); ok {
					id = string(b)
				}
			}

			entries = append(entries, TOCEntry{
				Level: heading.Level,
				Text:  text,
				ID:    id,
			})
		}

		return ast.WalkContinue, nil
	})

	return entries
}

// TOCEntry represents a table of contents entry.
type TOCEntry struct {
	Level int
	Text  string
	ID    string
}

// expandMacros replaces {{toc/}} with a linked heading list and
// {{warning/}} with a notice naming the unsupported macro. Other macros are
// left as written.
func (s *MarkdownService) expandMacros(markdown string) string {
	if !strings.Contains(markdown, "{{") {
		return markdown
	}

	var toc []TOCEntry
	tocLoaded := false

	var out strings.Builder
	rest := markdown
	for {
		loc := macroRegex.FindStringSubmatchIndex(rest)
		if loc == nil {
			out.WriteString(rest)
			break
		}
		id := rest[loc[2]:loc[3]]
		params := parseMacroParams(rest[loc[4]:loc[5]])
		end := loc[1]
		var body string
		if loc[6] == loc[7] {
			closeTag := fmt.Sprintf(macroCloseTmpl, id)
			i := strings.Index(rest[end:], closeTag)
			if i < 0 {
				out.WriteString(rest[:end])
				rest = rest[end:]
				continue
			}
			body = rest[end : end+i]
			end += i + len(closeTag)
		}

		block := atLineStart(rest, loc[0]) && atLineEnd(rest, end)
		var replacement string
		switch strings.ToLower(id) {
		case "toc", "forcetoc":
			if !tocLoaded {
				toc = s.GenerateTOC(macroRegex.ReplaceAllString(markdown, ""))
				tocLoaded = true
			}
			replacement = tocMarkdown(toc, params["numbered"] == "true")
		case importer.WarningMacro:
			replacement = warningHTML(params["macro"], body, block)
		default:
			replacement = rest[loc[0]:end]
		}

		out.WriteString(rest[:loc[0]])
		out.WriteString(replacement)
		rest = rest[end:]
	}
	return out.String()
}

func parseMacroParams(s string) map[string]string {
	params := make(map[string]string)
	for _, m := range macroParamRe.FindAllStringSubmatch(s, -1) {
		value, err := strconv.Unquote(`"` + m[2] + `"`)
		if err != nil {
			value = m[2]
		}
		params[strings.TrimSpace(m[1])] = value
	}
	return params
}

func tocMarkdown(entries []TOCEntry, numbered bool) string {
	if len(entries) == 0 {
		return ""
	}
	top := entries[0].Level
	for _, e := range entries {
		top = min(top, e.Level)
	}
	var sb strings.Builder
	for _, e := range entries {
		marker := "- "
		if numbered {
			marker = "1. "
		}
		indent := strings.Repeat("   ", e.Level-top)
		fmt.Fprintf(&sb, "%s%s[%s](#%s)\n", indent, marker, e.Text, e.ID)
	}
	return sb.String()
}

func warningHTML(name, body string, block bool) string {
	msg := "Unsupported macro"
	if name != "" {
		msg += " <code>" + html.EscapeString(name) + "</code>"
	}
	if body != "" {
		msg += ": " + html.EscapeString(body)
	}
	if block {
		return `<div class="warning">` + msg + `</div>`
	}
	return `<span class="warning">` + msg + `</span>`
}

func atLineStart(s string, i int) bool {
	return i == 0 || s[i-1] == '\n'
}

func atLineEnd(s string, i int) bool {
	return i == len(s) || s[i] == '\n'
}

// extractTextFromNode extracts plain text from an AST node.
func extractTextFromNode(node ast.Node, source []byte) string {
	var buf bytes.Buffer

	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		if textNode, ok := child.(*ast.Text); ok {
			buf.Write(textNode.Segment.Value(source))
		} else if child.HasChildren() {
			buf.WriteString(extractTextFromNode(child, source))
		}
	}

	return buf.String()
}

// generateHeadingID creates a URL-safe ID from heading text.
func generateHeadingID(text string) string {
	id := slugify(text)
	if id == "" {
		return "heading"
	}
	return id
}

// Wiki link extension for [[Space.Page|label]] syntax

type wikiLinkExtension struct{}

func (e *wikiLinkExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(&wikiLinkParser{}, 100),
		),
	)
}

type wikiLinkParser struct{}

func (p *wikiLinkParser) Trigger() []byte {
	return []byte{'['}
}

func (p *wikiLinkParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()

	// Check for [[
	if len(line) < 4 || line[0] != '[' || line[1] != '[' {
		return nil
	}

	// Find closing ]]
	end := bytes.Index(line[2:], []byte("]]"))
	if end < 0 {
		return nil
	}

	content := string(line[2 : end+2])

	// Split on | for display text
	parts := strings.SplitN(content, "|", 2)
	target := strings.TrimSpace(parts[0])
	if target == "" {
		return nil
	}
	displayText := target
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		displayText = strings.TrimSpace(parts[1])
	}

	link := ast.NewLink()
	link.Destination = []byte(wikiLinkHref(target))
	link.Title = []byte(target)
	link.AppendChild(link, ast.NewString([]byte(displayText)))

	// Advance reader past the wiki link
	block.Advance(end + 4)

	return link
}

// wikiLinkHref maps "wiki:Space.Page?query" to the page URL.
func wikiLinkHref(target string) string {
	target, query, _ := strings.Cut(target, "?")
	if _, rest, ok := strings.Cut(target, ":"); ok {
		target = rest
	}
	href := "/wiki/" + slugify(target)
	if space, name, ok := strings.Cut(target, "."); ok {
		href = "/wiki/" + PageSlug(space, name)
	}
	if query != "" {
		href += "?" + query
	}
	return href
}

// resourceTransformer points image: and attach: destinations at the page's
// uploaded files.
type resourceTransformer struct{}

func (t *resourceTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	base, _ := pc.Get(uploadBaseKey).(string)
	if base == "" {
		base = "/uploads"
	}
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.Image:
			n.Destination = resourceURL(base, n.Destination)
		case *ast.Link:
			n.Destination = resourceURL(base, n.Destination)
		}
		return ast.WalkContinue, nil
	})
}

func resourceURL(base string, dest []byte) []byte {
	d := string(dest)
	for _, prefix := range []string{reference.ImagePrefix, reference.AttachmentPrefix} {
		if name, ok := strings.CutPrefix(d, prefix); ok {
			return []byte(base + "/" + url.PathEscape(name))
		}
	}
	return dest
}

// slugify converts a page name to a URL-safe slug.
// Preserves forward slashes for hierarchical paths like "help/install".
func slugify(name string) string {
	slug := strings.ToLower(name)

	// Replace spaces and underscores with hyphens
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")

	// Remove non-alphanumeric characters except hyphens and forward slashes
	slug = slugInvalidRegex.ReplaceAllString(slug, "")

	slug = slugHyphenRegex.ReplaceAllString(slug, "-")
	slug = slugSlashRegex.ReplaceAllString(slug, "/")

	// Trim hyphens and slashes from ends and around slashes
	slug = strings.Trim(slug, "-/")
	slug = slugJoinRegex.ReplaceAllString(slug, "/")

	return slug
}

// Slugify is exported for use in handlers.
func Slugify(name string) string {
	return slugify(name)
}

// PageSlug returns the URL slug of a page in space.
func PageSlug(space, name string) string {
	return slugify(space + "/" + name)
}
