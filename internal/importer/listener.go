package importer

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"wikimport/internal/attachment"
	"wikimport/internal/document"
	"wikimport/internal/markup"
	"wikimport/internal/reference"
)

// Page property names.
const (
	PropertyTitle   = "title"
	PropertyAuthor  = "author"
	PropertyComment = "comment"
	PropertyVersion = "version"
	PropertyMinor   = "minor"
)

// WarningMacro replaces macros the target wiki does not support.
const WarningMacro = "warning"

var tocMacros = []string{"toc", "forcetoc"}

type state int

const (
	stateIdle state = iota
	statePageOpen
	stateRevisionOpen
)

func (s state) String() string {
	switch s {
	case statePageOpen:
		return "page open"
	case stateRevisionOpen:
		return "revision open"
	}
	return "idle"
}

// pageState is everything owned by the page in flight. It is dropped when the
// page ends.
type pageState struct {
	page     *document.Page
	revision *document.Revision
	// fresh is set until the first begin-revision claims the revision made by
	// begin-page.
	fresh       bool
	pageID      *string
	raw         strings.Builder
	macroErrors int
	// suppressed counts the open links whose whole content is dropped.
	suppressed int
}

// Listener consumes page and markup events for one import pass. Markup events
// are rewritten for the target wiki and accumulated per revision. Finished
// pages go to a PageWriter. No error escapes a page.
type Listener struct {
	cfg      Config
	refCfg   reference.Config
	writer   PageWriter
	registry *attachment.Registry
	log      Log
	builder  *markup.Builder

	state  state
	cur    *pageState
	report Report
}

var _ markup.Listener = (*Listener)(nil)

// NewListener creates a listener that loads attachments through fetcher and
// hands finished pages to writer.
func NewListener(cfg Config, writer PageWriter, fetcher document.Fetcher, log Log) *Listener {
	cfg = cfg.clone()
	return &Listener{
		cfg:      cfg,
		refCfg:   cfg.referenceConfig(),
		writer:   writer,
		registry: attachment.NewRegistry(fetcher),
		log:      log,
		builder:  markup.NewBuilder(),
	}
}

// Report returns the totals so far.
func (l *Listener) Report() Report {
	return l.report
}

func (l *Listener) invalid(event string) {
	l.log.Error("%v: %s while %s", ErrInvalidState, event, l.state)
}

// BeginWikiPage opens a page with its first revision.
func (l *Listener) BeginWikiPage() {
	if l.state != stateIdle {
		l.invalid("begin page")
		return
	}
	l.log.NextPage()
	l.report.PagesSeen++

	page := document.NewPage(l.cfg.DefaultSpace)
	l.cur = &pageState{page: page, revision: page.NewRevision(false), fresh: true}
	l.registry.Reset()
	l.builder.Reset()
	l.state = statePageOpen
}

// BeginWikiPageRevision opens a revision. The first one reuses the revision
// created by BeginWikiPage; later ones carry author, parent and tags forward.
func (l *Listener) BeginWikiPageRevision() {
	if l.state != statePageOpen {
		l.invalid("begin revision")
		return
	}
	if l.cur.fresh {
		l.cur.fresh = false
	} else {
		l.cur.revision = l.cur.page.NewRevision(true)
	}
	l.cur.revision.Version = nil
	l.cur.raw.Reset()
	l.cur.suppressed = 0
	l.builder.Reset()
	l.state = stateRevisionOpen
}

// EndWikiPageRevision captures the raw source and the parsed tree. A revision
// whose tree cannot be captured is dropped unless it is the only one.
func (l *Listener) EndWikiPageRevision() {
	if l.state != stateRevisionOpen {
		l.invalid("end revision")
		return
	}
	l.endRevision()
}

func (l *Listener) endRevision() {
	rev := l.cur.revision
	rev.OriginalContent = l.cur.raw.String()

	doc, err := l.builder.Document()
	if err != nil {
		l.log.Warn("%v: %q version %s: %v", ErrRevisionCapture, rev.Title, rev.VersionString(), err)
		if l.cur.page.RemoveLastRevision() {
			l.report.RevisionsDiscarded++
			l.cur.revision = l.cur.page.LastRevision()
		}
	} else {
		rev.Content = doc
	}
	l.builder.Reset()
	l.cur.suppressed = 0
	l.state = statePageOpen
}

// EndWikiPage hands the page to the writer and returns to idle whatever the
// outcome. An open revision is closed first.
func (l *Listener) EndWikiPage(ctx context.Context) {
	switch l.state {
	case stateIdle:
		l.invalid("end page")
		return
	case stateRevisionOpen:
		l.log.Warn("%v: end page while %s, closing revision", ErrInvalidState, l.state)
		l.endRevision()
	}

	cur := l.cur
	defer func() {
		l.cur = nil
		l.registry.Reset()
		l.builder.Reset()
		l.state = stateIdle
	}()

	l.log.SetPageTitle(cur.page.Title())
	if cur.macroErrors > 0 {
		l.log.Warn("Total macro errors reported on this page: %d", cur.macroErrors)
		l.report.MacroErrors += cur.macroErrors
	}
	if n := len(cur.page.Attachments()); n > 0 {
		l.log.Info("Total attachments encountered: %d", n)
	}

	res, err := l.write(ctx, cur.page)
	l.report.add(res)
	switch {
	case IsSkip(err):
		l.report.PagesSkipped++
	case err != nil:
		l.report.PagesFailed++
		l.log.Error("Failed to create the page: %v", err)
	default:
		l.report.PagesImported++
		if res.AttachmentsWritten > 0 {
			l.log.Info("Attachments written: %d (%s)", res.AttachmentsWritten, humanize.Bytes(uint64(res.AttachmentBytes)))
		}
	}
}

func (l *Listener) write(ctx context.Context, page *document.Page) (res PageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrPagePersistence, r)
		}
	}()
	return l.writer.AddWikiPage(ctx, page)
}

// OnProperty routes a page property to the current revision. The first
// version seen on a page is the page id and is not stored.
func (l *Listener) OnProperty(name, value string) {
	if l.state == stateIdle {
		l.invalid("property " + name)
		return
	}
	rev := l.cur.revision
	switch name {
	case PropertyTitle:
		rev.Title = value
		rev.Parent = parentName(value)
	case PropertyAuthor:
		rev.Author = value
	case PropertyComment:
		rev.Comment = value
	case PropertyVersion:
		if l.cur.pageID == nil {
			l.cur.pageID = &value
		} else if rev.Version == nil {
			rev.SetVersion(value)
		}
	case PropertyMinor:
		minor, _ := strconv.ParseBool(strings.TrimSpace(value))
		rev.Minor = minor
	}
}

// parentName returns the converted name of the page above a subpage title
// such as "Help:Guides/Install", or "" for top-level titles.
func parentName(title string) string {
	if _, rest, ok := strings.Cut(title, ":"); ok && rest != "" {
		title = rest
	}
	i := strings.LastIndex(title, "/")
	if i <= 0 {
		return ""
	}
	parent := title[:i]
	if j := strings.LastIndex(parent, "/"); j >= 0 {
		parent = parent[j+1:]
	}
	return reference.ConvertPageName(parent)
}

// BeginAttachment requests an attachment for the current page.
func (l *Listener) BeginAttachment(name string) {
	if l.state == stateIdle {
		l.invalid("begin attachment")
		return
	}
	l.registry.Request(l.cur.page, name)
}

func (l *Listener) EndAttachment(string) {}

// OnRawContent accumulates the source text of the open revision.
func (l *Listener) OnRawContent(text string) {
	if l.state != stateRevisionOpen {
		l.invalid("raw content")
		return
	}
	l.cur.raw.WriteString(text)
}

func (l *Listener) inRevision() bool { return l.state == stateRevisionOpen }

// emitting reports whether content events reach the tree. Nothing inside a
// suppressed link does.
func (l *Listener) emitting() bool { return l.inRevision() && l.cur.suppressed == 0 }

func (l *Listener) BeginLink(ref markup.ResourceReference, freeStanding bool, params map[string]string) {
	if !l.inRevision() {
		return
	}
	if l.cur.suppressed > 0 {
		l.cur.suppressed++
		return
	}
	if out, ok := l.convert(ref, true); ok {
		l.builder.BeginLink(out, freeStanding, params)
	} else {
		l.cur.suppressed++
	}
}

func (l *Listener) EndLink(ref markup.ResourceReference, freeStanding bool, params map[string]string) {
	if !l.inRevision() {
		return
	}
	if l.cur.suppressed > 0 {
		l.cur.suppressed--
		return
	}
	if out, ok := l.convert(ref, false); ok {
		l.builder.EndLink(out, freeStanding, params)
	}
}

// convert rewrites a link reference. It reports false when the link must not
// be emitted. Side effects (tags, attachment requests) happen on begin only.
func (l *Listener) convert(ref markup.ResourceReference, begin bool) (markup.ResourceReference, bool) {
	res := reference.Resolve(ref.Reference, l.refCfg)
	switch res.Kind {
	case reference.Category:
		if begin {
			l.cur.revision.AddTag(res.Tag)
		}
		return markup.ResourceReference{}, false
	case reference.Unresolved:
		if strings.Contains(ref.Reference, "::") {
			return markup.ResourceReference{}, false
		}
		return ref.Clone(), true
	case reference.External:
		out := markup.NewReference(ref.Reference)
		out.Params = maps.Clone(ref.Params)
		return out, true
	case reference.Image, reference.Attachment:
		if begin {
			l.registry.Request(l.cur.page, res.Attachment)
		}
		typ := markup.ResourceAttachment
		if res.Kind == reference.Image {
			typ = markup.ResourceImage
		}
		return markup.ResourceReference{Type: typ, Reference: res.Reference}, true
	}

	out := markup.ResourceReference{Type: markup.ResourceDocument, Reference: res.Reference, Params: maps.Clone(ref.Params)}
	if res.QueryString != "" {
		out.SetParam(markup.QueryStringParam, res.QueryString)
	}
	return out, true
}

// OnImage rewrites the image target to an attachment of the page.
func (l *Listener) OnImage(ref markup.ResourceReference, freeStanding bool, params map[string]string) {
	if !l.emitting() {
		return
	}
	name := strings.TrimSpace(ref.Reference)
	name = strings.TrimPrefix(name, reference.ImagePrefix)
	if ns, rest, ok := strings.Cut(name, ":"); ok && l.isFileNamespace(ns) {
		name = strings.TrimSpace(rest)
	}
	file := strings.ReplaceAll(name, " ", "_")
	l.registry.Request(l.cur.page, file)
	l.builder.OnImage(markup.ResourceReference{Type: markup.ResourceImage, Reference: reference.ImagePrefix + file}, freeStanding, params)
}

func (l *Listener) isFileNamespace(ns string) bool {
	ns = strings.TrimSpace(ns)
	if strings.EqualFold(ns, l.refCfg.ImageToken) {
		return true
	}
	for _, token := range l.refCfg.MediaTokens {
		if strings.EqualFold(ns, token) {
			return true
		}
	}
	return false
}

// OnMacro forces numbered output on table-of-contents macros. Any other macro
// becomes a warning that names it.
func (l *Listener) OnMacro(id string, params map[string]string, content string, inline bool) {
	if !l.emitting() {
		return
	}
	out := maps.Clone(params)
	if out == nil {
		out = make(map[string]string)
	}
	if isTOC(id) {
		out["numbered"] = "true"
	} else {
		if _, ok := out["macro"]; !ok {
			out["macro"] = id
		}
		id = WarningMacro
		l.cur.macroErrors++
	}
	l.builder.OnMacro(id, out, content, inline)
}

func isTOC(id string) bool {
	for _, m := range tocMacros {
		if strings.EqualFold(id, m) {
			return true
		}
	}
	return false
}

func (l *Listener) BeginParagraph() {
	if l.emitting() {
		l.builder.BeginParagraph()
	}
}

func (l *Listener) EndParagraph() {
	if l.emitting() {
		l.builder.EndParagraph()
	}
}

func (l *Listener) BeginHeading(level int) {
	if l.emitting() {
		l.builder.BeginHeading(level)
	}
}

func (l *Listener) EndHeading(level int) {
	if l.emitting() {
		l.builder.EndHeading(level)
	}
}

func (l *Listener) BeginFormat(f markup.Format) {
	if l.emitting() {
		l.builder.BeginFormat(f)
	}
}

func (l *Listener) EndFormat(f markup.Format) {
	if l.emitting() {
		l.builder.EndFormat(f)
	}
}

func (l *Listener) BeginList(ordered bool) {
	if l.emitting() {
		l.builder.BeginList(ordered)
	}
}

func (l *Listener) EndList(ordered bool) {
	if l.emitting() {
		l.builder.EndList(ordered)
	}
}

func (l *Listener) BeginListItem() {
	if l.emitting() {
		l.builder.BeginListItem()
	}
}

func (l *Listener) EndListItem() {
	if l.emitting() {
		l.builder.EndListItem()
	}
}

func (l *Listener) OnText(text string) {
	if l.emitting() {
		l.builder.OnText(text)
	}
}

func (l *Listener) OnNewLine() {
	if l.emitting() {
		l.builder.OnNewLine()
	}
}

func (l *Listener) OnHorizontalLine() {
	if l.emitting() {
		l.builder.OnHorizontalLine()
	}
}

func (l *Listener) OnRawHTML(html string) {
	if l.emitting() {
		l.builder.OnRawHTML(html)
	}
}
