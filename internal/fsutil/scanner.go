package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
)

var (
	fileRe   = regexp.MustCompile(`^(\d+_[a-zA-Z0-9_\-]+)\.ya?ml$`)
	moduleRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// File is one node definition, found at <root>/<module>/<NNNN_name>.yaml.
type File struct {
	Module string
	Name   string
	Path   string // path in fs
}

// ScanDir scans a local directory on disk. Paths are relative to the
// returned fs.
func ScanDir(dir string) (fs.FS, []File, error) {
	fsys := os.DirFS(dir)
	files, err := ScanEmbedded(fsys, ".")
	return fsys, files, err
}

// ScanEmbedded scans an embedded fs under a root dir path (logical path).
func ScanEmbedded(fsys fs.FS, root string) ([]File, error) {
	modules, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var out []File
	for _, m := range modules {
		if !m.IsDir() || !moduleRe.MatchString(m.Name()) {
			continue
		}
		dir := path.Join(root, m.Name())
		entries, err := fs.ReadDir(fsys, dir)
		if err != nil {
			return nil, err
		}
		found, err := scan(m.Name(), entries, func(name string) string { return path.Join(dir, name) })
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module == out[j].Module {
			return out[i].Name < out[j].Name
		}
		return out[i].Module < out[j].Module
	})
	return out, nil
}

func scan(module string, entries []fs.DirEntry, full func(name string) string) ([]File, error) {
	seen := map[string]string{}
	var out []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		name := m[1]
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate node %s:%s (%s and %s)", module, name, prev, e.Name())
		}
		seen[name] = e.Name()
		out = append(out, File{Module: module, Name: name, Path: full(e.Name())})
	}
	return out, nil
}

// Modules lists the module directories under root.
func Modules(files []File) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range files {
		if !seen[f.Module] {
			seen[f.Module] = true
			out = append(out, f.Module)
		}
	}
	sort.Strings(out)
	return out
}
