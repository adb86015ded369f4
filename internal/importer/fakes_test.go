package importer

import (
	"context"
	"errors"
	"fmt"

	"wikimport/internal/attachment"
	"wikimport/internal/document"
	"wikimport/internal/markup"
)

type storeCall struct {
	Op    string
	Doc   string
	Value string
}

type recordingStore struct {
	wiki  string
	calls []storeCall
	// failOp fails every call of that operation, or only those against
	// failDoc when it is set.
	failOp  string
	failDoc string
}

func (s *recordingStore) record(op string, doc DocumentRef, value string) error {
	s.calls = append(s.calls, storeCall{Op: op, Doc: doc.String(), Value: value})
	if op == s.failOp && (s.failDoc == "" || s.failDoc == doc.String()) {
		return fmt.Errorf("%s failed", op)
	}
	return nil
}

func (s *recordingStore) ops(op string) []storeCall {
	var out []storeCall
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *recordingStore) CurrentWiki() string { return s.wiki }

func (s *recordingStore) SetAttachmentContent(_ context.Context, doc DocumentRef, fileName string, content []byte) error {
	return s.record("attachment", doc, fileName+"="+string(content))
}

func (s *recordingStore) SetDocumentContent(_ context.Context, doc DocumentRef, content, comment string, minor bool) error {
	return s.record("content", doc, content)
}

func (s *recordingStore) SetDocumentSyntax(_ context.Context, doc DocumentRef, syntaxID string) error {
	return s.record("syntax", doc, syntaxID)
}

func (s *recordingStore) SetDocumentTitle(_ context.Context, doc DocumentRef, title string) error {
	return s.record("title", doc, title)
}

func (s *recordingStore) ResolveReference(ref string, relativeTo DocumentRef) (DocumentRef, error) {
	return ParseDocumentRef(ref, relativeTo)
}

func (s *recordingStore) SetDocumentParent(_ context.Context, doc, parent DocumentRef) error {
	return s.record("parent", doc, parent.String())
}

func (s *recordingStore) SetProperty(_ context.Context, doc DocumentRef, className, property, value string) error {
	return s.record("property", doc, className+"."+property+"="+value)
}

type mapFetcher map[string]string

func (f mapFetcher) Fetch(_ context.Context, name string) (string, []byte, error) {
	content, ok := f[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", attachment.ErrNotFound, name)
	}
	return "/media/" + name, []byte(content), nil
}

type failingRenderer struct{}

func (failingRenderer) SyntaxID() string { return markup.MarkdownSyntaxID }

func (failingRenderer) Render(*markup.Document) (string, error) {
	return "", errors.New("unsupported block")
}

type panickingWriter struct{}

func (panickingWriter) AddWikiPage(context.Context, *document.Page) (PageResult, error) {
	panic("store exploded")
}

// capturingWriter keeps finished pages for inspection.
type capturingWriter struct {
	pages []*document.Page
}

func (w *capturingWriter) AddWikiPage(_ context.Context, page *document.Page) (PageResult, error) {
	w.pages = append(w.pages, page)
	return PageResult{}, nil
}

// revision emits one revision whose body is a single paragraph.
func revision(l *Listener, version, text string) {
	l.BeginWikiPageRevision()
	l.OnProperty(PropertyVersion, version)
	l.OnProperty(PropertyAuthor, "editor")
	l.OnRawContent(text)
	l.BeginParagraph()
	l.OnText(text)
	l.EndParagraph()
	l.EndWikiPageRevision()
}

// page emits a page with the given title; body emits its revisions.
func page(l *Listener, title string, body func(l *Listener)) {
	l.BeginWikiPage()
	l.OnProperty(PropertyTitle, title)
	l.OnProperty(PropertyVersion, "page-id")
	body(l)
	l.EndWikiPage(context.Background())
}
