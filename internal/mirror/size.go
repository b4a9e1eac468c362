package mirror

import (
	"github.com/dl-alexandre/gdmirror/internal/exclude"
	"github.com/dl-alexandre/gdmirror/internal/mirror/checkpoint"
)

// TreeSize returns the total size in bytes of every regular file below
// root. Directories themselves count for nothing, and neither do symlinks
// or special files. The traversal rules are the ones Run uses, so the sum
// matches what a mirror of root would upload.
func TreeSize(root string, matcher *exclude.Matcher) (int64, error) {
	resolved, err := resolveRoot(root)
	if err != nil {
		return 0, err
	}
	return treeSize(resolved, ".", matcher)
}

func treeSize(dir, rel string, matcher *exclude.Matcher) (int64, error) {
	files, dirs, err := readDir(dir, rel, matcher)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	for _, d := range dirs {
		n, err := treeSize(d.path, d.rel, matcher)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// CheckpointKey returns the journal key a Run of localPath into remoteName uses
func CheckpointKey(localPath, remoteName string) (string, error) {
	root, err := resolveRoot(localPath)
	if err != nil {
		return "", err
	}
	return checkpoint.RunKey(root, remoteName), nil
}
