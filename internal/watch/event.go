package watch

// Kind is the logical change a coalesced event describes.
type Kind int

const (
	// Created indicates a path that did not exist before the window.
	Created Kind = iota + 1
	// Modified indicates an existing path whose content changed.
	Modified
	// Removed indicates a path that no longer exists.
	Removed
	// Renamed indicates a path moved from RenameSource to Path.
	Renamed
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is one logical change to a path under the watched root.
type Event struct {
	Kind Kind
	// Path is the absolute path of the changed entry. For Renamed it is the
	// destination.
	Path string
	// RenameSource is the absolute path the entry was renamed from. Empty
	// unless Kind is Renamed.
	RenameSource string
}
