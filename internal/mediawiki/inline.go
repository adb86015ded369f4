package mediawiki

import (
	"html"
	"regexp"
	"slices"
	"strings"

	"wikimport/internal/markup"
	"wikimport/internal/reference"
)

var (
	tagPattern = regexp.MustCompile(`^<(/?)([a-zA-Z][a-zA-Z0-9]*)(?:\s[^<>]*)?(/?)>`)
	urlPattern = regexp.MustCompile(`^(?:https?|ftp)://[^\s<>\[\]"|]+`)
)

var urlSchemes = []string{"http://", "https://", "ftp://", "mailto:"}

var tagFormats = map[string]markup.Format{
	"b":      markup.FormatBold,
	"strong": markup.FormatBold,
	"i":      markup.FormatItalic,
	"em":     markup.FormatItalic,
	"s":      markup.FormatStrikeout,
	"del":    markup.FormatStrikeout,
	"strike": markup.FormatStrikeout,
	"code":   markup.FormatMonospace,
	"tt":     markup.FormatMonospace,
}

type inlineScanner struct {
	l       markup.Listener
	text    strings.Builder
	formats []markup.Format
}

// scanInline emits the inline events of a single line. Formats left open at
// the end of the line are closed.
func scanInline(src string, l markup.Listener) {
	s := &inlineScanner{l: l}
	s.scan(src)
	s.flush()
	for len(s.formats) > 0 {
		f := s.formats[len(s.formats)-1]
		s.formats = s.formats[:len(s.formats)-1]
		s.l.EndFormat(f)
	}
}

func (s *inlineScanner) flush() {
	if s.text.Len() == 0 {
		return
	}
	s.l.OnText(html.UnescapeString(s.text.String()))
	s.text.Reset()
}

func (s *inlineScanner) scan(src string) {
	for i := 0; i < len(src); {
		rest := src[i:]
		switch {
		case strings.HasPrefix(rest, "'''"):
			s.toggle(markup.FormatBold)
			i += 3
		case strings.HasPrefix(rest, "''"):
			s.toggle(markup.FormatItalic)
			i += 2
		case strings.HasPrefix(rest, "[["):
			end := findClose(rest, 2, "[[", "]]")
			if end < 0 {
				s.text.WriteString("[[")
				i += 2
				continue
			}
			s.flush()
			s.wikiLink(rest[2:end])
			i += end + 2
		case strings.HasPrefix(rest, "{{"):
			end := findClose(rest, 2, "{{", "}}")
			if end < 0 {
				s.text.WriteString("{{")
				i += 2
				continue
			}
			s.flush()
			id, params := parseTemplate(rest[2:end])
			s.l.OnMacro(id, params, "", true)
			i += end + 2
		case rest[0] == '[' && hasScheme(rest[1:]):
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				s.text.WriteByte('[')
				i++
				continue
			}
			s.flush()
			s.externalLink(rest[1:end])
			i += end + 1
		case rest[0] == '<':
			i += s.tag(rest)
		case isWordStart(src, i) && urlPattern.MatchString(rest):
			url := strings.TrimRight(urlPattern.FindString(rest), ".,;:!?)'")
			s.flush()
			ref := markup.NewReference(url)
			s.l.BeginLink(ref, true, nil)
			s.l.EndLink(ref, true, nil)
			i += len(url)
		default:
			s.text.WriteByte(src[i])
			i++
		}
	}
}

// toggle closes f when it is open and opens it otherwise. Formats opened after
// f are closed and reopened around it so the stream stays balanced.
func (s *inlineScanner) toggle(f markup.Format) {
	if s.isOpen(f) {
		s.closeFormat(f)
		return
	}
	s.openFormat(f)
}

func (s *inlineScanner) isOpen(f markup.Format) bool {
	return slices.Contains(s.formats, f)
}

func (s *inlineScanner) openFormat(f markup.Format) {
	s.flush()
	s.l.BeginFormat(f)
	s.formats = append(s.formats, f)
}

func (s *inlineScanner) closeFormat(f markup.Format) {
	s.flush()
	var reopen []markup.Format
	for len(s.formats) > 0 {
		top := s.formats[len(s.formats)-1]
		s.formats = s.formats[:len(s.formats)-1]
		s.l.EndFormat(top)
		if top == f {
			break
		}
		reopen = append(reopen, top)
	}
	for j := len(reopen) - 1; j >= 0; j-- {
		s.l.BeginFormat(reopen[j])
		s.formats = append(s.formats, reopen[j])
	}
}

func (s *inlineScanner) wikiLink(body string) {
	parts := splitTopLevel(body)
	target := strings.TrimSpace(parts[0])
	var label string
	if len(parts) > 1 {
		label = strings.TrimSpace(strings.Join(parts[1:], "|"))
	}

	if ns, name, ok := strings.Cut(target, ":"); ok && fileNamespace(ns) && isImageFile(strings.TrimSpace(name)) {
		s.image(strings.TrimSpace(name), parts[1:])
		return
	}

	if strings.HasPrefix(target, ":") && !reference.IsCategory(target[1:], reference.Config{}) {
		target = strings.TrimSpace(target[1:])
	}
	if page, _, ok := strings.Cut(target, "#"); ok {
		if strings.TrimSpace(page) == "" {
			s.text.WriteString(firstNonEmpty(label, strings.TrimPrefix(target, "#")))
			return
		}
		target = strings.TrimSpace(page)
	}
	if target == "" {
		s.text.WriteString("[[" + body + "]]")
		return
	}

	ref := markup.NewReference(target)
	s.l.BeginLink(ref, false, nil)
	if label != "" {
		scanInline(label, s.l)
	}
	s.l.EndLink(ref, false, nil)
}

// image emits an embedded file. The last option that is not a layout keyword
// becomes the alternative text.
func (s *inlineScanner) image(name string, options []string) {
	var params map[string]string
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if strings.HasPrefix(strings.ToLower(opt), "alt=") {
			params = map[string]string{"alt": strings.TrimSpace(opt[len("alt="):])}
			continue
		}
		if opt != "" && !isImageOption(opt) {
			params = map[string]string{"alt": opt}
		}
	}
	s.l.OnImage(markup.NewReference(name), false, params)
}

func (s *inlineScanner) externalLink(body string) {
	url, label, _ := strings.Cut(strings.TrimSpace(body), " ")
	ref := markup.NewReference(url)
	s.l.BeginLink(ref, false, nil)
	if label = strings.TrimSpace(label); label != "" {
		scanInline(label, s.l)
	}
	s.l.EndLink(ref, false, nil)
}

// tag handles an HTML tag or comment at the start of src and returns how many
// bytes it consumed.
func (s *inlineScanner) tag(src string) int {
	if strings.HasPrefix(src, "<!--") {
		if end := strings.Index(src, "-->"); end >= 0 {
			return end + 3
		}
		return len(src)
	}

	m := tagPattern.FindStringSubmatch(src)
	if m == nil {
		s.text.WriteByte('<')
		return 1
	}
	closing, name := m[1] == "/", strings.ToLower(m[2])
	selfClosing := m[3] == "/" || strings.HasSuffix(m[0], "/>")

	if name == "br" {
		s.flush()
		s.l.OnNewLine()
		return len(m[0])
	}
	if f, ok := tagFormats[name]; ok {
		switch {
		case selfClosing:
		case closing && s.isOpen(f):
			s.closeFormat(f)
		case closing:
			s.text.WriteString(m[0])
		default:
			s.openFormat(f)
		}
		return len(m[0])
	}
	if closing {
		s.text.WriteString(m[0])
		return len(m[0])
	}

	closeTag := "</" + name + ">"
	if name == "nowiki" {
		if selfClosing {
			return len(m[0])
		}
		end := strings.Index(strings.ToLower(src), closeTag)
		if end < 0 {
			s.text.WriteString(m[0])
			return len(m[0])
		}
		s.text.WriteString(src[len(m[0]):end])
		return end + len(closeTag)
	}
	if selfClosing {
		s.flush()
		s.l.OnRawHTML(m[0])
		return len(m[0])
	}
	end := strings.Index(strings.ToLower(src), closeTag)
	if end < 0 {
		s.text.WriteString(m[0])
		return len(m[0])
	}
	s.flush()
	s.l.OnRawHTML(src[:end+len(closeTag)])
	return end + len(closeTag)
}

func hasScheme(s string) bool {
	lower := strings.ToLower(s)
	for _, scheme := range urlSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

func isWordStart(src string, i int) bool {
	if i == 0 {
		return true
	}
	switch src[i-1] {
	case ' ', '\t', '(', '>':
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
