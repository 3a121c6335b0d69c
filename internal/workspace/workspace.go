// Package workspace holds the path rules for a watched working tree.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MetadataDir is the name of the repository metadata directory.
const MetadataDir = ".git"

// IsMetadataPath returns true if path lies inside a repository metadata
// directory below root, or is that directory itself. Files merely named like
// it (e.g. .gitignore) are not metadata.
func IsMetadataPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == MetadataDir {
			return true
		}
	}
	return false
}

// RelativePath returns target relative to root using forward slashes, the
// form used in commit messages.
func RelativePath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", target, root)
	}
	return filepath.ToSlash(rel), nil
}

// Tree is the result of Scan.
type Tree struct {
	// Dirs holds root and every directory below it.
	Dirs []string
	// Files holds every non-directory entry.
	Files []string
}

// Scan walks root, skipping metadata directories and everything inside them.
func Scan(root string) (Tree, error) {
	var tree Tree

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Entries can vanish between listing and stat.
			if os.IsNotExist(err) && path != root {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			tree.Files = append(tree.Files, path)
			return nil
		}
		if info.Name() == MetadataDir && path != root {
			return filepath.SkipDir
		}
		tree.Dirs = append(tree.Dirs, path)
		return nil
	})

	if err != nil {
		return Tree{}, err
	}

	return tree, nil
}
