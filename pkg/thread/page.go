package thread

// Entry is one raw record of a comment page payload
type Entry struct {
	Thread    string // Empty for "more" aggregation rows
	Parent    string
	Above     string
	Below     string
	Level     int
	Collapsed bool
	Deleted   bool
	User      string
	Userpic   string
	ThreadURL string
	Date      string
	Timestamp int64
	Article   string // Raw HTML of the comment body

	More     int    // Number of hidden comments behind an aggregation row
	MoreHref string // Expansion link of an aggregation row
}

// IsFull reports whether the entry carries its complete content
func (e Entry) IsFull() bool {
	return e.Thread != "" && !e.Collapsed
}

// IsDeletedStub reports whether the entry is a collapsed placeholder for a deleted comment
func (e Entry) IsDeletedStub() bool {
	return e.Thread != "" && e.Collapsed && e.Deleted
}

// Page is the structured content of one fetched comment page
type Page struct {
	Entries    []Entry
	ReplyCount int // Declared total for the discussion, 0 when the page does not say
}

// PageParser extracts the structured comment section of a raw page.
// It returns an error wrapping utils.ErrRequiredSection when the page has none.
type PageParser interface {
	ParsePage(raw []byte) (Page, error)
}

// PageParserFunc adapts a function to the PageParser interface
type PageParserFunc func(raw []byte) (Page, error)

// ParsePage implements PageParser
func (f PageParserFunc) ParsePage(raw []byte) (Page, error) { return f(raw) }
