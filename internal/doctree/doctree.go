package doctree

// Document is the root of a fetched or imported document.
type Document struct {
	Title string // Document title (from metadata or filename)
	Body  []Node // Top-level structural elements, in order
}

// Node is one element of a document content tree. The set of node kinds is
// closed: TextRun, Paragraph, Table, ListMarker and Container.
type Node interface {
	node()
}

// TextRun is a literal run of text.
type TextRun struct {
	Text string
}

// Paragraph is a block of inline children. HeadingLevel is 0 for body text.
type Paragraph struct {
	Children     []Node
	HeadingLevel int
	IsBullet     bool
}

// Table holds rows of cells; each cell is a sequence of child nodes.
type Table struct {
	Rows [][][]Node
}

// ListMarker marks a list item at the given nesting depth (0 = top level).
type ListMarker struct {
	Level int
}

// Container groups children without decoration (sections, table of contents).
type Container struct {
	Children []Node
}

func (*TextRun) node()    {}
func (*Paragraph) node()  {}
func (*Table) node()      {}
func (*ListMarker) node() {}
func (*Container) node()  {}

// Text is shorthand for a TextRun node.
func Text(s string) *TextRun { return &TextRun{Text: s} }

// Heading builds a heading paragraph at the given level.
func Heading(level int, s string) *Paragraph {
	return &Paragraph{HeadingLevel: level, Children: []Node{Text(s)}}
}

// Para builds a plain paragraph with a single text run.
func Para(s string) *Paragraph {
	return &Paragraph{Children: []Node{Text(s)}}
}
