package sync

import (
	"fmt"

	"github.com/schaermu/gitbox/internal/watch"
	"github.com/schaermu/gitbox/internal/workspace"
)

// Intent is one change to be committed and pushed.
type Intent struct {
	Kind watch.Kind
	// Path is relative to the watched root, with forward slashes.
	Path    string
	Message string
}

// NewIntent derives the intent for ev below root. It returns false for
// events that must not be synced: anything inside the repository metadata
// directory and paths outside root.
func NewIntent(root string, ev watch.Event) (Intent, bool) {
	if workspace.IsMetadataPath(root, ev.Path) {
		return Intent{}, false
	}
	rel, err := workspace.RelativePath(root, ev.Path)
	if err != nil || rel == "." {
		return Intent{}, false
	}

	kind := ev.Kind
	var src string
	if kind == watch.Renamed {
		src, err = workspace.RelativePath(root, ev.RenameSource)
		if err != nil || ev.RenameSource == "" || workspace.IsMetadataPath(root, ev.RenameSource) {
			// Moved in from somewhere untracked.
			kind = watch.Created
		}
	}

	var msg string
	switch kind {
	case watch.Created:
		msg = "Creating new " + rel
	case watch.Modified:
		msg = "Updating " + rel
	case watch.Removed:
		msg = "Deleting " + rel
	case watch.Renamed:
		msg = fmt.Sprintf("Renaming %s to %s", src, rel)
	default:
		return Intent{}, false
	}

	return Intent{Kind: kind, Path: rel, Message: msg}, true
}
