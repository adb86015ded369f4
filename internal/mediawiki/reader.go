// Package mediawiki reads MediaWiki XML export dumps and turns page wikitext
// into markup events.
package mediawiki

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"wikimport/internal/importer"
	"wikimport/internal/markup"
)

// Handler receives the events of a dump in document order.
type Handler interface {
	markup.Listener
	BeginWikiPage()
	BeginWikiPageRevision()
	EndWikiPageRevision()
	EndWikiPage(ctx context.Context)
	OnProperty(name, value string)
	BeginAttachment(name string)
	EndAttachment(name string)
	OnRawContent(text string)
}

// SiteInfo describes the wiki a dump was exported from.
type SiteInfo struct {
	SiteName   string      `xml:"sitename"`
	Base       string      `xml:"base"`
	Generator  string      `xml:"generator"`
	Namespaces []Namespace `xml:"namespaces>namespace"`
}

// Namespace is a source wiki namespace.
type Namespace struct {
	Key  int    `xml:"key,attr"`
	Name string `xml:",chardata"`
}

type contributor struct {
	Username string `xml:"username"`
	ID       uint64 `xml:"id"`
	IP       string `xml:"ip"`
}

func (c contributor) name() string {
	if c.Username != "" {
		return c.Username
	}
	return c.IP
}

type revision struct {
	ID          uint64      `xml:"id"`
	ParentID    uint64      `xml:"parentid"`
	Timestamp   string      `xml:"timestamp"`
	Contributor contributor `xml:"contributor"`
	Minor       *struct{}   `xml:"minor"`
	Comment     string      `xml:"comment"`
	Text        string      `xml:"text"`
}

type upload struct {
	Filename string `xml:"filename"`
	Src      string `xml:"src"`
	Size     int64  `xml:"size"`
}

type page struct {
	Title     string     `xml:"title"`
	Ns        int        `xml:"ns"`
	ID        uint64     `xml:"id"`
	Revisions []revision `xml:"revision"`
	Uploads   []upload   `xml:"upload"`
}

// Reader streams a dump one page at a time.
type Reader struct {
	log  *zap.Logger
	site SiteInfo
}

// NewReader returns a Reader. A nil logger discards scan warnings.
func NewReader(log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{log: log}
}

// SiteInfo returns the site header of the last dump read.
func (r *Reader) SiteInfo() SiteInfo {
	return r.site
}

// Read emits every page of src to h and returns the number of pages read. It
// stops at the first XML error or when ctx is done.
func (r *Reader) Read(ctx context.Context, src io.Reader, h Handler) (int, error) {
	dec := xml.NewDecoder(src)
	r.site = SiteInfo{}
	pages := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return pages, nil
		}
		if err != nil {
			return pages, fmt.Errorf("read dump: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "siteinfo":
			if err := dec.DecodeElement(&r.site, &start); err != nil {
				return pages, fmt.Errorf("read site info: %w", err)
			}
			r.log.Debug("dump site", zap.String("site", r.site.SiteName), zap.String("generator", r.site.Generator))
		case "page":
			if err := ctx.Err(); err != nil {
				return pages, err
			}
			var p page
			if err := dec.DecodeElement(&p, &start); err != nil {
				return pages, fmt.Errorf("read page %d: %w", pages+1, err)
			}
			r.emit(ctx, &p, h)
			pages++
		}
	}
}

func (r *Reader) emit(ctx context.Context, p *page, h Handler) {
	h.BeginWikiPage()
	h.OnProperty(importer.PropertyTitle, p.Title)
	h.OnProperty(importer.PropertyVersion, strconv.FormatUint(p.ID, 10))

	for _, rev := range p.Revisions {
		h.BeginWikiPageRevision()
		h.OnProperty(importer.PropertyVersion, strconv.FormatUint(rev.ID, 10))
		if author := rev.Contributor.name(); author != "" {
			h.OnProperty(importer.PropertyAuthor, author)
		}
		if rev.Comment != "" {
			h.OnProperty(importer.PropertyComment, rev.Comment)
		}
		if rev.Minor != nil {
			h.OnProperty(importer.PropertyMinor, "true")
		}
		h.OnRawContent(rev.Text)
		if err := Scan(rev.Text, h); err != nil {
			r.log.Warn("wikitext scan failed",
				zap.String("title", p.Title),
				zap.Uint64("revision", rev.ID),
				zap.Error(err))
		}
		h.EndWikiPageRevision()
	}

	for _, up := range p.Uploads {
		h.BeginAttachment(up.Filename)
		h.EndAttachment(up.Filename)
	}
	h.EndWikiPage(ctx)
}
