package markup

// Kind is the type of a Block.
type Kind int

const (
	KindDocument Kind = iota
	KindParagraph
	KindHeading
	KindFormat
	KindList
	KindListItem
	KindText
	KindNewLine
	KindHorizontalLine
	KindLink
	KindImage
	KindMacro
	KindRawHTML
)

var kindNames = map[Kind]string{
	KindDocument:       "document",
	KindParagraph:      "paragraph",
	KindHeading:        "heading",
	KindFormat:         "format",
	KindList:           "list",
	KindListItem:       "list item",
	KindText:           "text",
	KindNewLine:        "newline",
	KindHorizontalLine: "horizontal line",
	KindLink:           "link",
	KindImage:          "image",
	KindMacro:          "macro",
	KindRawHTML:        "raw html",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Block is a node of the document tree. Which fields are meaningful depends on
// Kind.
type Block struct {
	Kind         Kind
	Level        int
	Format       Format
	Ordered      bool
	Text         string
	Ref          *ResourceReference
	FreeStanding bool
	MacroID      string
	Params       map[string]string
	Inline       bool
	Children     []*Block
}

// Document is the root of an accumulated revision tree.
type Document struct {
	Children []*Block
}

// Walk visits every block depth-first, parents before children.
func (d *Document) Walk(fn func(*Block)) {
	if d == nil {
		return
	}
	var walk func([]*Block)
	walk = func(blocks []*Block) {
		for _, b := range blocks {
			fn(b)
			walk(b.Children)
		}
	}
	walk(d.Children)
}
