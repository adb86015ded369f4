package markup

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Syntax identifiers understood by the target wiki.
const (
	MarkdownSyntaxID = "markdown/1.0"
	PlainSyntaxID    = "plain/1.0"
)

// FallbackPrefix precedes the original source of a revision that could not be
// rendered.
const FallbackPrefix = "FAILED ORIGINAL CONTENT: \n\n"

// ErrRender is returned when a tree cannot be rendered.
var ErrRender = errors.New("markup: render failed")

// Renderer turns an accumulated tree into target storage text.
type Renderer interface {
	Render(doc *Document) (string, error)
	SyntaxID() string
}

// MarkdownRenderer renders trees to the target wiki's Markdown dialect:
// document links are written as [[Space.Page|label]], images and attachments
// keep their image: and attach: prefixed references, macros become {{id}}
// tags.
type MarkdownRenderer struct{}

var _ Renderer = MarkdownRenderer{}

// SyntaxID implements Renderer.
func (MarkdownRenderer) SyntaxID() string { return MarkdownSyntaxID }

// Render implements Renderer.
func (r MarkdownRenderer) Render(doc *Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", ErrRender)
	}
	var sb strings.Builder
	if err := r.blocks(&sb, doc.Children, 0); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()) + "\n", nil
}

func (r MarkdownRenderer) blocks(sb *strings.Builder, blocks []*Block, depth int) error {
	for _, b := range blocks {
		switch b.Kind {
		case KindParagraph:
			text, err := r.inline(b.Children)
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			sb.WriteString(strings.TrimSpace(text))
			sb.WriteString("\n\n")
		case KindHeading:
			text, err := r.inline(b.Children)
			if err != nil {
				return err
			}
			level := min(max(b.Level, 1), 6)
			sb.WriteString(strings.Repeat("#", level) + " " + strings.TrimSpace(text) + "\n\n")
		case KindList:
			if err := r.list(sb, b, depth); err != nil {
				return err
			}
			if depth == 0 {
				sb.WriteString("\n")
			}
		case KindHorizontalLine:
			sb.WriteString("---\n\n")
		case KindMacro:
			if b.Inline {
				sb.WriteString(macro(b))
				continue
			}
			sb.WriteString(macro(b) + "\n\n")
		case KindRawHTML:
			md, err := htmlToMarkdown(b.Text)
			if err != nil {
				return err
			}
			sb.WriteString(md + "\n\n")
		default:
			text, err := r.inline([]*Block{b})
			if err != nil {
				return err
			}
			sb.WriteString(text)
		}
	}
	return nil
}

func (r MarkdownRenderer) list(sb *strings.Builder, list *Block, depth int) error {
	indent := strings.Repeat("  ", depth)
	n := 0
	for _, item := range list.Children {
		if item.Kind != KindListItem {
			return fmt.Errorf("%w: %s inside list", ErrRender, item.Kind)
		}
		n++
		marker := "- "
		if list.Ordered {
			marker = fmt.Sprintf("%d. ", n)
		}
		var inline []*Block
		var nested []*Block
		for _, c := range item.Children {
			if c.Kind == KindList {
				nested = append(nested, c)
				continue
			}
			inline = append(inline, c)
		}
		text, err := r.inline(inline)
		if err != nil {
			return err
		}
		sb.WriteString(indent + marker + strings.TrimSpace(text) + "\n")
		for _, c := range nested {
			if err := r.list(sb, c, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r MarkdownRenderer) inline(blocks []*Block) (string, error) {
	var sb strings.Builder
	for _, b := range blocks {
		switch b.Kind {
		case KindText:
			sb.WriteString(b.Text)
		case KindNewLine:
			sb.WriteString("\n")
		case KindFormat:
			text, err := r.inline(b.Children)
			if err != nil {
				return "", err
			}
			mark, err := formatMark(b.Format)
			if err != nil {
				return "", err
			}
			sb.WriteString(mark + text + mark)
		case KindLink:
			text, err := r.inline(b.Children)
			if err != nil {
				return "", err
			}
			link, err := renderLink(b, text)
			if err != nil {
				return "", err
			}
			sb.WriteString(link)
		case KindImage:
			if b.Ref == nil {
				return "", fmt.Errorf("%w: image without reference", ErrRender)
			}
			sb.WriteString(image(b.Ref.Reference, b.Params["alt"]))
		case KindMacro:
			sb.WriteString(macro(b))
		case KindRawHTML:
			md, err := htmlToMarkdown(b.Text)
			if err != nil {
				return "", err
			}
			sb.WriteString(md)
		case KindHorizontalLine:
			sb.WriteString("\n---\n")
		default:
			return "", fmt.Errorf("%w: unexpected %s in inline content", ErrRender, b.Kind)
		}
	}
	return sb.String(), nil
}

func formatMark(f Format) (string, error) {
	switch f {
	case FormatBold:
		return "**", nil
	case FormatItalic:
		return "*", nil
	case FormatMonospace:
		return "`", nil
	case FormatStrikeout:
		return "~~", nil
	}
	return "", fmt.Errorf("%w: format %d", ErrRender, f)
}

func renderLink(b *Block, label string) (string, error) {
	if b.Ref == nil {
		return "", fmt.Errorf("%w: link without reference", ErrRender)
	}
	ref := b.Ref.Reference
	label = strings.TrimSpace(label)
	switch b.Ref.Type {
	case ResourceDocument:
		target := ref
		if q := b.Ref.Params[QueryStringParam]; q != "" {
			target += "?" + q
		}
		if label == "" || label == ref {
			return "[[" + target + "]]", nil
		}
		return "[[" + target + "|" + label + "]]", nil
	case ResourceURL, ResourceMailto:
		if label == "" || b.FreeStanding {
			return "<" + ref + ">", nil
		}
		return "[" + label + "](" + ref + ")", nil
	case ResourceImage:
		return image(ref, label), nil
	case ResourceAttachment:
		if label == "" {
			label = strings.TrimPrefix(ref, "attach:")
		}
		return "[" + label + "](" + ref + ")", nil
	}
	return "", fmt.Errorf("%w: reference type %q", ErrRender, b.Ref.Type)
}

func image(ref, alt string) string {
	if alt == "" {
		alt = strings.TrimPrefix(ref, "image:")
	}
	return "![" + alt + "](" + ref + ")"
}

func macro(b *Block) string {
	var sb strings.Builder
	sb.WriteString("{{" + b.MacroID)
	keys := make([]string, 0, len(b.Params))
	for k := range b.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%q", k, b.Params[k])
	}
	if b.Text == "" {
		sb.WriteString("/}}")
		return sb.String()
	}
	sb.WriteString("}}" + b.Text + "{{/" + b.MacroID + "}}")
	return sb.String()
}

func htmlToMarkdown(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	return strings.TrimSpace(md), nil
}
