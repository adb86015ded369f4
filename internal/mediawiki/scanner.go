package mediawiki

import (
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"wikimport/internal/markup"
	"wikimport/internal/reference"
)

// Scan emits markup events for wikitext. Syntax it does not understand, and
// syntax left unclosed, comes through as text. Containers it opens are always
// closed, so a well-behaved listener sees a balanced stream unless Scan
// returns an error.
func Scan(text string, l markup.Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan wikitext: %v", r)
		}
	}()
	s := &blockScanner{l: l}
	s.run(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))
	return nil
}

var magicWords = map[string]string{
	"__TOC__":      "toc",
	"__FORCETOC__": "forcetoc",
	"__NOTOC__":    "",
}

// htmlBlocks are elements passed through as raw HTML when a line starts with
// one.
var htmlBlocks = []string{"div", "table", "blockquote", "center", "pre"}

type blockScanner struct {
	l     markup.Listener
	para  bool
	lists []bool // ordered flag per open list, outermost first
}

func (s *blockScanner) run(lines []string) {
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			s.closeAll()
		case isMagicWord(trimmed):
			s.closeAll()
			if id := magicWords[trimmed]; id != "" {
				s.l.OnMacro(id, nil, "", false)
			}
		case isHeading(trimmed):
			s.closeAll()
			level, inner := heading(trimmed)
			s.l.BeginHeading(level)
			scanInline(inner, s.l)
			s.l.EndHeading(level)
		case strings.HasPrefix(trimmed, "----"):
			s.closeAll()
			s.l.OnHorizontalLine()
			if rest := strings.TrimSpace(strings.TrimLeft(trimmed, "-")); rest != "" {
				s.paragraphLine(rest)
			}
		case isListLine(line):
			s.closePara()
			s.listLine(line)
		case strings.HasPrefix(trimmed, "{{") && !strings.HasPrefix(trimmed, "{{{"):
			end := gatherBalanced(lines, i, "{{", "}}")
			s.template(strings.Join(lines[i:end+1], "\n"))
			i = end
		case strings.HasPrefix(trimmed, "<gallery"):
			end := gatherUntil(lines, i, "</gallery>")
			s.closeAll()
			s.gallery(lines[i : end+1])
			i = end
		case htmlBlockTag(trimmed) != "":
			tag := htmlBlockTag(trimmed)
			end := gatherBalanced(lines, i, "<"+tag, "</"+tag+">")
			s.closeAll()
			s.l.OnRawHTML(strings.Join(lines[i:end+1], "\n"))
			i = end
		default:
			if len(s.lists) > 0 {
				s.closeLists(0)
			}
			// Definition and indent markers carry no structure here.
			if text := strings.TrimSpace(strings.TrimLeft(trimmed, ":;")); text != "" {
				s.paragraphLine(text)
			}
		}
	}
	s.closeAll()
}

func (s *blockScanner) paragraphLine(text string) {
	if s.para {
		s.l.OnNewLine()
	} else {
		s.l.BeginParagraph()
		s.para = true
	}
	scanInline(text, s.l)
}

func (s *blockScanner) closePara() {
	if s.para {
		s.l.EndParagraph()
		s.para = false
	}
}

func (s *blockScanner) closeAll() {
	s.closePara()
	s.closeLists(0)
}

// closeLists closes open lists until depth remain.
func (s *blockScanner) closeLists(depth int) {
	for len(s.lists) > depth {
		ordered := s.lists[len(s.lists)-1]
		s.l.EndListItem()
		s.l.EndList(ordered)
		s.lists = s.lists[:len(s.lists)-1]
	}
}

func (s *blockScanner) listLine(line string) {
	markers := listMarkers(line)
	common := 0
	for common < len(s.lists) && common < len(markers) && s.lists[common] == (markers[common] == '#') {
		common++
	}
	s.closeLists(common)
	if len(s.lists) == len(markers) {
		s.l.EndListItem()
		s.l.BeginListItem()
	} else {
		for _, m := range markers[len(s.lists):] {
			ordered := m == '#'
			s.l.BeginList(ordered)
			s.l.BeginListItem()
			s.lists = append(s.lists, ordered)
		}
	}
	scanInline(strings.TrimSpace(line[len(markers):]), s.l)
}

func (s *blockScanner) template(src string) {
	trimmed := strings.TrimSpace(src)
	if end := findClose(trimmed, 2, "{{", "}}"); end == len(trimmed)-2 {
		s.closeAll()
		id, params := parseTemplate(trimmed[2:end])
		s.l.OnMacro(id, params, "", false)
		return
	}
	for _, line := range strings.Split(src, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			s.paragraphLine(line)
		}
	}
}

// gallery emits one image per "File:Name.png|Caption" line.
func (s *blockScanner) gallery(lines []string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "<") {
			continue
		}
		name, caption, _ := strings.Cut(line, "|")
		params := map[string]string{}
		if caption = strings.TrimSpace(caption); caption != "" {
			params["alt"] = caption
		}
		s.l.OnImage(markup.NewReference(stripNamespace(strings.TrimSpace(name))), false, params)
	}
}

func isMagicWord(s string) bool {
	_, ok := magicWords[s]
	return ok
}

func isHeading(s string) bool {
	if len(s) < 3 || s[0] != '=' || s[len(s)-1] != '=' {
		return false
	}
	_, inner := heading(s)
	return strings.TrimSpace(inner) != ""
}

func heading(s string) (int, string) {
	lead := len(s) - len(strings.TrimLeft(s, "="))
	trail := len(s) - len(strings.TrimRight(s, "="))
	level := min(lead, trail, 6)
	if lead+trail > len(s) {
		return 1, ""
	}
	return level, strings.TrimSpace(s[level : len(s)-level])
}

func isListLine(line string) bool {
	return line != "" && (line[0] == '*' || line[0] == '#')
}

func listMarkers(line string) string {
	n := 0
	for n < len(line) && (line[n] == '*' || line[n] == '#') {
		n++
	}
	return line[:n]
}

func htmlBlockTag(line string) string {
	lower := strings.ToLower(line)
	for _, tag := range htmlBlocks {
		if strings.HasPrefix(lower, "<"+tag+">") || strings.HasPrefix(lower, "<"+tag+" ") {
			return tag
		}
	}
	return ""
}

// gatherBalanced returns the index of the line where the open/close pairs
// started at lines[start] balance out, or the last line.
func gatherBalanced(lines []string, start int, open, close string) int {
	depth := 0
	for i := start; i < len(lines); i++ {
		lower := strings.ToLower(lines[i])
		depth += strings.Count(lower, open) - strings.Count(lower, close)
		if depth <= 0 {
			return i
		}
	}
	return len(lines) - 1
}

func gatherUntil(lines []string, start int, marker string) int {
	for i := start; i < len(lines); i++ {
		if strings.Contains(strings.ToLower(lines[i]), marker) {
			return i
		}
	}
	return len(lines) - 1
}

// findClose returns the index of the close delimiter matching an open one
// that ends just before from, or -1.
func findClose(s string, from int, open, close string) int {
	depth := 1
	for i := from; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], open):
			depth++
			i += len(open)
		case strings.HasPrefix(s[i:], close):
			depth--
			if depth == 0 {
				return i
			}
			i += len(close)
		default:
			i++
		}
	}
	return -1
}

// splitTopLevel splits on "|" outside nested templates and links.
func splitTopLevel(s string) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "{{"), strings.HasPrefix(s[i:], "[["):
			depth++
			i++
		case strings.HasPrefix(s[i:], "}}"), strings.HasPrefix(s[i:], "]]"):
			depth--
			i++
		case s[i] == '|' && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	return append(parts, s[last:])
}

// parseTemplate splits "name|a=b|c" into the template name and its named and
// positional parameters.
func parseTemplate(body string) (string, map[string]string) {
	parts := splitTopLevel(body)
	id := strings.TrimSpace(parts[0])
	if len(parts) == 1 {
		return id, nil
	}
	params := make(map[string]string, len(parts)-1)
	pos := 0
	for _, p := range parts[1:] {
		if k, v, ok := strings.Cut(p, "="); ok && !strings.ContainsAny(k, "[{") {
			params[strings.TrimSpace(k)] = strings.TrimSpace(v)
			continue
		}
		pos++
		params[strconv.Itoa(pos)] = strings.TrimSpace(p)
	}
	return id, params
}

var imageOptions = []string{"thumb", "thumbnail", "frame", "frameless", "border", "left", "right", "center", "none", "upright", "baseline", "middle", "sub", "super", "top", "text-top", "bottom", "text-bottom"}

func isImageOption(opt string) bool {
	opt = strings.ToLower(strings.TrimSpace(opt))
	if slices.Contains(imageOptions, opt) {
		return true
	}
	if strings.HasSuffix(opt, "px") {
		return true
	}
	for _, prefix := range []string{"link=", "upright=", "page=", "class=", "lang=", "alt="} {
		if strings.HasPrefix(opt, prefix) {
			return true
		}
	}
	return false
}

// fileNamespace reports whether ns names an embedded file.
func fileNamespace(ns string) bool {
	ns = strings.TrimSpace(ns)
	return strings.EqualFold(ns, reference.DefaultImageToken) || strings.EqualFold(ns, "File")
}

func stripNamespace(name string) string {
	if ns, rest, ok := strings.Cut(name, ":"); ok && (fileNamespace(ns) || strings.EqualFold(ns, "Media")) {
		return strings.TrimSpace(rest)
	}
	return name
}

func isImageFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	return ext != "" && slices.Contains(reference.DefaultImageExtensions, ext)
}
