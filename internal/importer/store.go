package importer

import (
	"context"
	"fmt"
	"strings"
)

// Tag storage on the target wiki.
const (
	TagClass     = "TagClass"
	TagProperty  = "tags"
	TagSeparator = "|"
)

// DocumentRef identifies a document in the target wiki.
type DocumentRef struct {
	Wiki  string
	Space string
	Name  string
}

// String returns the "wiki:Space.Name" form.
func (r DocumentRef) String() string {
	if r.Wiki == "" {
		return r.Space + "." + r.Name
	}
	return fmt.Sprintf("%s:%s.%s", r.Wiki, r.Space, r.Name)
}

// ParseDocumentRef parses "wiki:Space.Name", "Space.Name" or "Name". Missing
// parts are taken from relativeTo.
func ParseDocumentRef(s string, relativeTo DocumentRef) (DocumentRef, error) {
	orig := strings.TrimSpace(s)
	if orig == "" {
		return DocumentRef{}, fmt.Errorf("empty document reference")
	}
	ref, s := relativeTo, orig
	if wiki, rest, ok := strings.Cut(s, ":"); ok {
		if wiki == "" {
			return DocumentRef{}, fmt.Errorf("invalid document reference %q", orig)
		}
		ref.Wiki, s = wiki, rest
	}
	if space, name, ok := strings.Cut(s, "."); ok {
		ref.Space, s = space, name
	}
	if s == "" || ref.Space == "" {
		return DocumentRef{}, fmt.Errorf("invalid document reference %q", orig)
	}
	ref.Name = s
	return ref, nil
}

// DocumentStore is the target wiki as seen by the importer. Every call is
// synchronous and completes before the next event is processed.
type DocumentStore interface {
	// CurrentWiki returns the wiki used when neither the page nor the
	// configuration names one.
	CurrentWiki() string
	SetAttachmentContent(ctx context.Context, doc DocumentRef, fileName string, content []byte) error
	SetDocumentContent(ctx context.Context, doc DocumentRef, content, comment string, minor bool) error
	SetDocumentSyntax(ctx context.Context, doc DocumentRef, syntaxID string) error
	SetDocumentTitle(ctx context.Context, doc DocumentRef, title string) error
	ResolveReference(ref string, relativeTo DocumentRef) (DocumentRef, error)
	SetDocumentParent(ctx context.Context, doc, parent DocumentRef) error
	SetProperty(ctx context.Context, doc DocumentRef, className, property, value string) error
}
