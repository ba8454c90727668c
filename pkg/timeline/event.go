package timeline

// EventKind discriminates the closed set of stream events. The raw
// wire envelope is loosely typed; it is mapped onto this union at the
// parsing boundary so the datasource never handles untyped data.
type EventKind int

const (
	// KindInsert carries a brand-new entry for the head of the list.
	KindInsert EventKind = iota

	// KindDelete removes an entry by id.
	KindDelete

	// KindEdit replaces an entry's payload in place, if newer.
	KindEdit
)

func (k EventKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	case KindEdit:
		return "edit"
	}
	return "unknown"
}

// StreamEvent is one typed real-time event. Fields are populated per
// kind: Entry for inserts; ID for deletes; ID, Payload and Version
// for edits.
type StreamEvent struct {
	Kind    EventKind
	Entry   Entry
	ID      string
	Payload *Post
	Version int64
}
