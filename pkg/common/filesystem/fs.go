// Package filesystem provides file existence checks, directory sizing and
// gitignore-style path matching shared by the prestart and packaging commands.
package filesystem

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// FileExists checks if a file exists at the given path
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsRegularFile reports whether path exists and is a regular file.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// DirSize returns the total size in bytes and the number of regular files under root.
func DirSize(root string) (int64, int, error) {
	var size int64
	var files int
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		files++
		return nil
	})
	return size, files, err
}

// Matcher matches slash-separated relative paths against gitignore-style patterns.
type Matcher struct {
	gi *ignore.GitIgnore
}

// NewMatcher compiles patterns in order; a later "!pattern" re-includes earlier matches.
func NewMatcher(patterns ...string) *Matcher {
	return &Matcher{gi: ignore.CompileIgnoreLines(patterns...)}
}

// Matches reports whether relPath matches. Directories get a trailing slash so that
// patterns ending in '/' only match directories.
func (m *Matcher) Matches(relPath string, isDir bool) bool {
	p := filepath.ToSlash(relPath)
	if isDir && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return m.gi.MatchesPath(p)
}

// Tree renders the directory structure under root as an indented listing, directories
// first, limited to maxDepth levels (0 means unlimited).
func Tree(root string, maxDepth int) (string, error) {
	var builder strings.Builder
	if err := writeTree(&builder, root, 0, maxDepth); err != nil {
		return "", err
	}
	return builder.String(), nil
}

func writeTree(b *strings.Builder, dir string, depth, maxDepth int) error {
	if maxDepth > 0 && depth >= maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	indent := strings.Repeat("  ", depth)
	for _, e := range entries {
		if !e.IsDir() {
			b.WriteString(indent + e.Name() + "\n")
			continue
		}
		b.WriteString(indent + e.Name() + "/\n")
		if err := writeTree(b, filepath.Join(dir, e.Name()), depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}
