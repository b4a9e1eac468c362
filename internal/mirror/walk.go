package mirror

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dl-alexandre/gdmirror/internal/exclude"
	"github.com/dl-alexandre/gdmirror/internal/utils"
)

// localEntry is an immediate child of a directory being mirrored
type localEntry struct {
	name string
	path string
	rel  string
	size int64
	// modTime is the file's mtime in Unix nanoseconds
	modTime int64
}

// resolveRoot validates root and returns it absolute with symlinks resolved
func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", pathError(utils.ErrCodeInvalidPath, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", pathError(utils.ErrCodePathNotFound, root, err)
		}
		return "", pathError(utils.ErrCodeInvalidPath, root, err)
	}
	if !info.IsDir() {
		return "", pathError(utils.ErrCodeInvalidPath, root, fmt.Errorf("not a directory"))
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", pathError(utils.ErrCodeInvalidPath, root, err)
	}
	return resolved, nil
}

// readDir splits the children of dir into regular files and real
// directories, sorted by name. Symlinks and special files are dropped, as
// is anything the matcher excludes.
func readDir(dir, rel string, matcher *exclude.Matcher) ([]localEntry, []localEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, pathError(utils.ErrCodeInvalidPath, dir, err)
	}

	var files, dirs []localEntry
	for _, e := range entries {
		mode := e.Type()
		if mode&os.ModeSymlink != 0 {
			continue
		}
		childRel := e.Name()
		if rel != "." {
			childRel = path.Join(rel, e.Name())
		}
		if matcher.IsExcluded(childRel, e.IsDir()) {
			continue
		}

		entry := localEntry{name: e.Name(), path: filepath.Join(dir, e.Name()), rel: childRel}
		switch {
		case e.IsDir():
			dirs = append(dirs, entry)
		case mode.IsRegular():
			info, err := e.Info()
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, nil, pathError(utils.ErrCodeInvalidPath, entry.path, err)
			}
			entry.size = info.Size()
			entry.modTime = info.ModTime().UnixNano()
			files = append(files, entry)
		}
	}
	return files, dirs, nil
}

func hashFile(path string) (hash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func pathError(code, p string, err error) error {
	return utils.NewAppError(utils.NewCLIError(code, fmt.Sprintf("%s: %s", p, err)).
		WithContext("path", p).
		Build())
}
