package store

import (
	"path/filepath"
	"strings"
)

// RelativePath expresses p relative to base. UNC paths and paths that need
// more than one parent step stay absolute.
func RelativePath(p, base string) string {
	if isUNC(p) || !filepath.IsAbs(p) {
		return p
	}
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return p
	}
	up := ".." + string(filepath.Separator) + ".."
	if rel == up || strings.HasPrefix(rel, up+string(filepath.Separator)) {
		return p
	}
	return rel
}

func isUNC(p string) bool {
	return strings.HasPrefix(p, `\\`) || strings.HasPrefix(p, "//")
}

// ResolvePath turns a stored path into an absolute one.
func (s *SQLiteStore) ResolvePath(p string) string {
	if filepath.IsAbs(p) || isUNC(p) {
		return p
	}
	return filepath.Clean(filepath.Join(s.dir, p))
}

func (s *SQLiteStore) storedPath(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	if s.temporary {
		return abs
	}
	return RelativePath(abs, s.dir)
}
