package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source scan bounds.
const (
	scanMaxDepth    = 3
	keyFileLines    = 30
	extraFileLines  = 15
	scanTotalChars  = 8000
	extraFileMaxLen = 64 * 1024
)

// skipDirs are never descended into during a scan.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// keyFiles always contribute a snippet when present.
var keyFiles = map[string]bool{
	"README.md":          true,
	"pyproject.toml":     true,
	"package.json":       true,
	"go.mod":             true,
	"Cargo.toml":         true,
	"Makefile":           true,
	"Dockerfile":         true,
	"docker-compose.yml": true,
	"CLAUDE.md":          true,
	"requirements.txt":   true,
	"tsconfig.json":      true,
}

// codeExts picks up small top-level source files beyond the key set.
var codeExts = map[string]bool{
	".go": true, ".py": true, ".ts": true, ".tsx": true, ".js": true,
	".rs": true, ".java": true, ".rb": true, ".sql": true, ".yaml": true,
	".yml": true, ".toml": true,
}

// ScanSource walks the workspace up to a fixed depth and produces a
// bounded textual snapshot of the project layout and key files, suitable
// for inclusion in an AI prompt.
func ScanSource(root string) string {
	var b strings.Builder
	b.WriteString("## Project structure\n\n")
	writeTree(&b, root, root, 0)

	b.WriteString("\n## Key files\n")
	for _, path := range collectFiles(root) {
		if b.Len() >= scanTotalChars {
			break
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		limit := extraFileLines
		if keyFiles[filepath.Base(path)] {
			limit = keyFileLines
		}
		snippet := headLines(path, limit)
		if snippet == "" {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n```\n%s\n```\n", filepath.ToSlash(rel), snippet)
	}

	out := b.String()
	if len(out) > scanTotalChars {
		out = out[:scanTotalChars] + "\n... (truncated)"
	}
	return out
}

func writeTree(b *strings.Builder, root, dir string, depth int) {
	if depth > scanMaxDepth || b.Len() >= scanTotalChars {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") && name != ".github" {
			continue
		}
		if e.IsDir() && skipDirs[name] {
			continue
		}
		indent := strings.Repeat("  ", depth)
		if e.IsDir() {
			fmt.Fprintf(b, "%s%s/\n", indent, name)
			writeTree(b, root, filepath.Join(dir, name), depth+1)
		} else {
			fmt.Fprintf(b, "%s%s\n", indent, name)
		}
	}
}

// collectFiles gathers key files anywhere up to the depth limit plus small
// top-level code files, key files first.
func collectFiles(root string) []string {
	var key, extra []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > scanMaxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				if !skipDirs[name] && !strings.HasPrefix(name, ".") {
					walk(filepath.Join(dir, name), depth+1)
				}
				continue
			}
			path := filepath.Join(dir, name)
			switch {
			case keyFiles[name]:
				key = append(key, path)
			case depth == 0 && codeExts[filepath.Ext(name)]:
				if info, err := e.Info(); err == nil && info.Size() <= extraFileMaxLen {
					extra = append(extra, path)
				}
			}
		}
	}
	walk(root, 0)
	sort.Strings(key)
	sort.Strings(extra)
	return append(key, extra...)
}

// headLines returns the first n lines of a file.
func headLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
