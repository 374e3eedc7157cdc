package fs

import (
	"strings"

	"github.com/mit-pdos/go-sectorfs/dir"
)

// splitPath splits path into the directory prefix and the final
// component. A path ending in '/' (including bare "/") yields a
// final component of ".".
func splitPath(path string) (string, string, bool) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		if len(path) == 0 || uint64(len(path)) > dir.NameMax {
			return "", "", false
		}
		return "", path, true
	}
	name := path[i+1:]
	if name == "" {
		name = "."
	}
	if uint64(len(name)) > dir.NameMax {
		return "", "", false
	}
	return path[:i], name, true
}

// resolve walks path down to its parent directory and returns it with
// the final component. Absolute paths start at the root, relative
// paths at the current working directory. Every intermediate
// component must be a directory. The caller closes the returned
// handle; resolve closes everything it opened on failure.
func (fs *Filesys) resolve(path string) (*dir.Dir, string, bool) {
	if len(path) == 0 {
		return nil, "", false
	}
	var cur *dir.Dir
	if path[0] == '/' {
		cur = dir.OpenRoot(fs.st)
	} else {
		fs.mu.Lock()
		cur = fs.cwd.Reopen()
		fs.mu.Unlock()
	}
	if cur == nil {
		return nil, "", false
	}
	dirPart, name, ok := splitPath(path)
	if !ok {
		cur.Close()
		return nil, "", false
	}
	for _, comp := range strings.Split(dirPart, "/") {
		if comp == "" {
			continue
		}
		ip := cur.Lookup(comp)
		if ip == nil {
			cur.Close()
			return nil, "", false
		}
		if !ip.IsDir() {
			ip.Put()
			cur.Close()
			return nil, "", false
		}
		cur.Close()
		cur = dir.Wrap(ip)
	}
	return cur, name, true
}
