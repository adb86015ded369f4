// Package document is the in-memory model of a page being imported: its
// revisions in chronological order and the attachments it references.
package document

import (
	"context"
	"slices"
	"strings"

	"wikimport/internal/markup"
	"wikimport/internal/reference"
)

// Fetcher locates an attachment by file name and reads its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, fileName string) (path string, content []byte, err error)
}

// Page is a source page accumulated across its revisions.
type Page struct {
	Wiki         string
	DefaultSpace string

	space       string
	name        string
	revisions   []*Revision
	attachments []*Attachment
	fileNames   map[string]struct{}
}

// NewPage creates an empty page that falls back to defaultSpace when its title
// carries no namespace.
func NewPage(defaultSpace string) *Page {
	return &Page{
		DefaultSpace: defaultSpace,
		fileNames:    make(map[string]struct{}),
	}
}

// SetSpace overrides the space derived from the title.
func (p *Page) SetSpace(space string) { p.space = space }

// SetName overrides the name derived from the title.
func (p *Page) SetName(name string) { p.name = name }

// Space returns the explicit space, else the namespace of the page title,
// else the default space.
func (p *Page) Space() string {
	if p.space != "" {
		return p.space
	}
	if ns, _, ok := splitTitle(p.Title()); ok {
		return ns
	}
	return p.DefaultSpace
}

// Name returns the explicit name, else the converted last segment of the page
// title.
func (p *Page) Name() string {
	if p.name != "" {
		return p.name
	}
	_, title, _ := splitTitle(p.Title())
	if i := strings.LastIndex(title, "/"); i >= 0 {
		title = title[i+1:]
	}
	return reference.ConvertPageName(title)
}

// Title returns the most recent non-blank revision title. Sources usually
// send the title once, ahead of the first revision.
func (p *Page) Title() string {
	for i := len(p.revisions) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(p.revisions[i].Title); t != "" {
			return t
		}
	}
	return ""
}

// AddRevision appends rev as the most recent revision.
func (p *Page) AddRevision(rev *Revision) {
	p.revisions = append(p.revisions, rev)
}

// NewRevision appends and returns a new revision. With carry set, author,
// parent and tags are copied from the previous revision; version, title and
// content never are.
func (p *Page) NewRevision(carry bool) *Revision {
	rev := &Revision{}
	if last := p.LastRevision(); carry && last != nil {
		rev.Author = last.Author
		rev.Parent = last.Parent
		rev.tags = slices.Clone(last.tags)
	}
	p.AddRevision(rev)
	return rev
}

// LastRevision returns the most recently appended revision, or nil.
func (p *Page) LastRevision() *Revision {
	if len(p.revisions) == 0 {
		return nil
	}
	return p.revisions[len(p.revisions)-1]
}

// Revisions returns the revisions in chronological order.
func (p *Page) Revisions() []*Revision {
	return p.revisions
}

// RemoveLastRevision drops the most recent revision unless it is the only one.
// It reports whether a revision was removed.
func (p *Page) RemoveLastRevision() bool {
	if len(p.revisions) <= 1 {
		return false
	}
	p.revisions[len(p.revisions)-1] = nil
	p.revisions = p.revisions[:len(p.revisions)-1]
	return true
}

// AddAttachment appends att unless an attachment with the same file name is
// already present. It reports whether att was added.
func (p *Page) AddAttachment(att *Attachment) bool {
	if _, ok := p.fileNames[att.FileName]; ok {
		return false
	}
	p.fileNames[att.FileName] = struct{}{}
	att.Page = p
	p.attachments = append(p.attachments, att)
	return true
}

// Attachments returns the page attachments in request order.
func (p *Page) Attachments() []*Attachment {
	return p.attachments
}

// Revision is one edit of a page.
type Revision struct {
	// Version is nil until the source assigns one.
	Version         *string
	Title           string
	Author          string
	Comment         string
	Minor           bool
	Parent          string
	OriginalContent string
	Content         *markup.Document

	tags []string
}

// SetVersion stores v as the revision version.
func (r *Revision) SetVersion(v string) {
	r.Version = &v
}

// VersionString returns the version or "" when unset.
func (r *Revision) VersionString() string {
	if r.Version == nil {
		return ""
	}
	return *r.Version
}

// AddTag appends tag unless it is blank or already present.
func (r *Revision) AddTag(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" || slices.Contains(r.tags, tag) {
		return
	}
	r.tags = append(r.tags, tag)
}

// Tags returns the ordered tag set.
func (r *Revision) Tags() []string {
	return r.tags
}

// Attachment is a file referenced by a page.
type Attachment struct {
	FileName string
	// Path is the resolved source path, set once the content is loaded.
	Path string
	Page *Page

	fetcher Fetcher
	content []byte
	loaded  bool
}

// NewAttachment binds fileName to the fetcher that will load its bytes.
func NewAttachment(fileName string, fetcher Fetcher) *Attachment {
	return &Attachment{FileName: fileName, fetcher: fetcher}
}

// Content loads the attachment bytes on first use.
func (a *Attachment) Content(ctx context.Context) ([]byte, error) {
	if a.loaded {
		return a.content, nil
	}
	if a.fetcher == nil {
		a.loaded = true
		return nil, nil
	}
	path, content, err := a.fetcher.Fetch(ctx, a.FileName)
	if err != nil {
		return nil, err
	}
	a.Path, a.content, a.loaded = path, content, true
	return content, nil
}

// splitTitle separates a "Namespace:Title" source title.
func splitTitle(title string) (ns, rest string, ok bool) {
	i := strings.Index(title, ":")
	if i <= 0 || i == len(title)-1 {
		return "", title, false
	}
	return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+1:]), true
}
