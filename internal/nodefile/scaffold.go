package nodefile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mirajehossain/graphmigrate/internal/fsutil"
)

var slugRe = regexp.MustCompile(`[^a-z0-9_]+`)

// NextName numbers name after the highest node of module, so the new node
// sorts last: 0003_add_sender.
func NextName(files []fsutil.File, module, name string) (string, string) {
	highest, prev := 0, ""
	for _, f := range files {
		if f.Module != module {
			continue
		}
		num, _, _ := strings.Cut(f.Name, "_")
		if n, err := strconv.Atoi(num); err == nil && n >= highest {
			highest, prev = n, f.Name
		}
	}
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		slug = "auto"
	}
	return fmt.Sprintf("%04d_%s", highest+1, slug), prev
}

// Scaffold writes an empty node file for module that depends on the
// module's previous node, and returns its path.
func Scaffold(dir string, files []fsutil.File, module, name string) (string, error) {
	next, prev := NextName(files, module, name)
	var b strings.Builder
	if prev != "" {
		fmt.Fprintf(&b, "deps: [%s]\n", prev)
	} else {
		b.WriteString("deps: []\n")
	}
	b.WriteString("operations: []\n")
	b.WriteString("# backfill: {fill: {entity: <entity>, field: <field>, value: \"\"}}\n")
	b.WriteString("# reverse: noop\n")

	path := filepath.Join(dir, module, next+".yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
