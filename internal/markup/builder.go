package markup

import (
	"errors"
	"fmt"
	"maps"
)

// Accumulator errors.
var (
	ErrUnbalanced = errors.New("markup: unbalanced events")
	ErrNoDocument = errors.New("markup: no document accumulated")
)

// Builder accumulates Listener events into a Document.
type Builder struct {
	root  *Block
	stack []*Block
	err   error
}

var _ Listener = (*Builder)(nil)

// NewBuilder returns an empty accumulator.
func NewBuilder() *Builder {
	b := &Builder{}
	b.Reset()
	return b
}

// Reset discards everything accumulated so far.
func (b *Builder) Reset() {
	b.root = &Block{Kind: KindDocument}
	b.stack = []*Block{b.root}
	b.err = nil
}

// Document returns the accumulated tree. It fails when a container was left
// open or closed out of order.
func (b *Builder) Document() (*Document, error) {
	if b.root == nil {
		return nil, ErrNoDocument
	}
	if b.err != nil {
		return nil, b.err
	}
	if len(b.stack) > 1 {
		top := b.stack[len(b.stack)-1]
		return nil, fmt.Errorf("%w: %s still open", ErrUnbalanced, top.Kind)
	}
	return &Document{Children: b.root.Children}, nil
}

func (b *Builder) top() *Block {
	return b.stack[len(b.stack)-1]
}

func (b *Builder) push(block *Block) {
	b.append(block)
	b.stack = append(b.stack, block)
}

func (b *Builder) append(block *Block) {
	top := b.top()
	top.Children = append(top.Children, block)
}

func (b *Builder) pop(kind Kind) {
	if len(b.stack) == 1 {
		b.fail(fmt.Errorf("%w: end %s without begin", ErrUnbalanced, kind))
		return
	}
	top := b.top()
	if top.Kind != kind {
		b.fail(fmt.Errorf("%w: end %s while %s is open", ErrUnbalanced, kind, top.Kind))
		return
	}
	b.stack = b.stack[:len(b.stack)-1]
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) BeginParagraph() { b.push(&Block{Kind: KindParagraph}) }
func (b *Builder) EndParagraph()   { b.pop(KindParagraph) }

func (b *Builder) BeginHeading(level int) { b.push(&Block{Kind: KindHeading, Level: level}) }
func (b *Builder) EndHeading(int)         { b.pop(KindHeading) }

func (b *Builder) BeginFormat(f Format) { b.push(&Block{Kind: KindFormat, Format: f}) }
func (b *Builder) EndFormat(Format)     { b.pop(KindFormat) }

func (b *Builder) BeginList(ordered bool) { b.push(&Block{Kind: KindList, Ordered: ordered}) }
func (b *Builder) EndList(bool)           { b.pop(KindList) }

func (b *Builder) BeginListItem() { b.push(&Block{Kind: KindListItem}) }
func (b *Builder) EndListItem()   { b.pop(KindListItem) }

func (b *Builder) OnText(text string) {
	if text == "" {
		return
	}
	// Merge adjacent text so renderers see whole runs.
	top := b.top()
	if n := len(top.Children); n > 0 && top.Children[n-1].Kind == KindText {
		top.Children[n-1].Text += text
		return
	}
	b.append(&Block{Kind: KindText, Text: text})
}

func (b *Builder) OnNewLine()        { b.append(&Block{Kind: KindNewLine}) }
func (b *Builder) OnHorizontalLine() { b.append(&Block{Kind: KindHorizontalLine}) }

func (b *Builder) BeginLink(ref ResourceReference, freeStanding bool, params map[string]string) {
	r := ref.Clone()
	b.push(&Block{Kind: KindLink, Ref: &r, FreeStanding: freeStanding, Params: maps.Clone(params)})
}

func (b *Builder) EndLink(ResourceReference, bool, map[string]string) {
	b.pop(KindLink)
}

func (b *Builder) OnImage(ref ResourceReference, freeStanding bool, params map[string]string) {
	r := ref.Clone()
	b.append(&Block{Kind: KindImage, Ref: &r, FreeStanding: freeStanding, Params: maps.Clone(params)})
}

func (b *Builder) OnMacro(id string, params map[string]string, content string, inline bool) {
	b.append(&Block{Kind: KindMacro, MacroID: id, Params: maps.Clone(params), Text: content, Inline: inline})
}

func (b *Builder) OnRawHTML(html string) {
	b.append(&Block{Kind: KindRawHTML, Text: html})
}
