package model

// Format is the normalized attachment format tag chosen by the classifier.
type Format int

const (
	FormatOpaque Format = iota
	FormatText
	FormatDelimitedTable
	FormatSpreadsheet
	FormatDocument
	FormatImage
	FormatMarkup
)

// Formats lists every format tag in declaration order.
var Formats = []Format{
	FormatOpaque,
	FormatText,
	FormatDelimitedTable,
	FormatSpreadsheet,
	FormatDocument,
	FormatImage,
	FormatMarkup,
}

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatDelimitedTable:
		return "delimited-table"
	case FormatSpreadsheet:
		return "spreadsheet"
	case FormatDocument:
		return "document"
	case FormatImage:
		return "image"
	case FormatMarkup:
		return "markup"
	default:
		return "opaque"
	}
}

// FragmentKind tags the closed set of renderable fragment variants.
type FragmentKind string

const (
	KindTextBlock FragmentKind = "text-block"
	KindTable     FragmentKind = "table"
	KindImage     FragmentKind = "image"
	KindDocument  FragmentKind = "structured-document"
	KindReference FragmentKind = "reference-note"
)

// Fragment is a canonical renderable unit produced by a format handler.
// The set of implementations is closed to this package.
type Fragment interface {
	Kind() FragmentKind
	fragment()
}

// TextBlock is preformatted text with preserved line breaks.
type TextBlock struct {
	Lines []string
}

func (t *TextBlock) Kind() FragmentKind { return KindTextBlock }
func (*TextBlock) fragment()            {}

// Cell is one table cell. Covered cells are hidden by a merged span.
type Cell struct {
	Value   string
	Bold    bool
	ColSpan int
	RowSpan int
	Covered bool
}

// Sheet is a titled grid. HeaderRows leading rows are rendered as headings.
type Sheet struct {
	Name       string
	HeaderRows int
	Rows       [][]Cell
	Truncated  bool
}

// Table holds one or more sheets (a delimited file always has exactly one).
type Table struct {
	Delimiter rune
	Sheets    []Sheet
}

func (t *Table) Kind() FragmentKind { return KindTable }
func (*Table) fragment()            {}

// Image is a decoded raster image ready for inline embedding.
type Image struct {
	MediaType     string
	Data          []byte
	Width         int
	Height        int
	DisplayWidth  int
	DisplayHeight int
	Caption       string
}

func (i *Image) Kind() FragmentKind { return KindImage }
func (*Image) fragment()            {}

// Span is a run of inline text with emphasis.
type Span struct {
	Text      string
	Bold      bool
	Italic    bool
	Underline bool
}

// BlockKind distinguishes structured document blocks.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockHeading   BlockKind = "heading"
	BlockListItem  BlockKind = "list-item"
	BlockTableRow  BlockKind = "table-row"
)

// DocBlock is one block of a structured document in document order.
type DocBlock struct {
	Kind    BlockKind
	Level   int
	Ordered bool
	Spans   []Span
}

// Text joins the block's spans.
func (b DocBlock) Text() string {
	var n int
	for _, s := range b.Spans {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for _, s := range b.Spans {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// Document is a structured document: either extracted blocks or sanitized markup.
type Document struct {
	Blocks []DocBlock
	Markup string
}

func (d *Document) Kind() FragmentKind { return KindDocument }
func (*Document) fragment()            {}

// Reference is a placeholder note for content that is not inlined.
type Reference struct {
	Filename  string
	MediaType string
	Size      int64
	Advisory  []string
}

func (r *Reference) Kind() FragmentKind { return KindReference }
func (*Reference) fragment()            {}
