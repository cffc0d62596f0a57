// Package workspace manages the per-project working directory: document
// layout under docs/, git clone and branch lifecycle, and the bounded
// source scan used for AI context.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/zjjiang/opd/internal/model"
)

// DefaultRoot is used when a project has no workspace_dir configured.
const DefaultRoot = "./workspace"

const maxSanitizedLen = 80

// Sanitize converts a display name into a filesystem-safe directory name:
// NFKD-normalize, lowercase, drop everything but alphanumerics, spaces and
// hyphens, collapse whitespace and underscores to single hyphens, trim,
// cap at 80 characters.
func Sanitize(name string) string {
	name = norm.NFKD.String(name)
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	s := strings.Join(fields, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSanitizedLen {
		s = s[:maxSanitizedLen]
		s = strings.Trim(s, "-")
	}
	return s
}

// Dir resolves the absolute workspace directory for a project:
// {workspace_dir or default}/{sanitized project name}.
func Dir(project *model.Project) (string, error) {
	root := project.WorkspaceDir
	if root == "" {
		root = DefaultRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	name := Sanitize(project.Name)
	if name == "" {
		name = "project"
	}
	return filepath.Join(abs, name), nil
}

// StorySlug is the per-story docs directory name: {id}-{sanitized title}.
func StorySlug(story *model.Story) string {
	title := Sanitize(story.Title)
	if title == "" {
		return story.ID
	}
	return story.ID + "-" + title
}

// DocsDir returns the absolute docs directory for a story.
func DocsDir(project *model.Project, story *model.Story) (string, error) {
	dir, err := Dir(project)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "docs", StorySlug(story)), nil
}

// DocRelPath is the relative path stored in the story document field:
// docs/{slug}/{filename}.
func DocRelPath(story *model.Story, filename string) string {
	return "docs/" + StorySlug(story) + "/" + filename
}

// validateFilename rejects path traversal in doc filenames.
func validateFilename(filename string) error {
	if filename == "" || strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("invalid doc filename %q", filename)
	}
	return nil
}

// WriteDoc writes a story document and returns the relative path to store
// in the document field.
func WriteDoc(project *model.Project, story *model.Story, filename, content string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	dir, err := DocsDir(project, story)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating docs directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing doc %q: %w", filename, err)
	}
	return DocRelPath(story, filename), nil
}

// ReadDoc reads a story document. Returns ok=false when the file does not
// exist.
func ReadDoc(project *model.Project, story *model.Story, filename string) (string, bool, error) {
	if err := validateFilename(filename); err != nil {
		return "", false, err
	}
	dir, err := DocsDir(project, story)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading doc %q: %w", filename, err)
	}
	return string(data), true, nil
}

// ListDocs returns the document filenames for a story, sorted.
func ListDocs(project *model.Project, story *model.Story) ([]string, error) {
	dir, err := DocsDir(project, story)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing docs: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// DeleteDoc removes a story document. Missing files are not an error.
func DeleteDoc(project *model.Project, story *model.Story, filename string) error {
	if err := validateFilename(filename); err != nil {
		return err
	}
	dir, err := DocsDir(project, story)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting doc %q: %w", filename, err)
	}
	return nil
}

// ResolveDoc returns the effective content of a story document field: the
// file when the field holds a docs/ path, the inline value otherwise.
// Returns ok=false when the field is empty or the file is missing.
func ResolveDoc(project *model.Project, story *model.Story, d model.StoryDoc) (string, bool, error) {
	value := story.Get(d)
	if value == "" {
		return "", false, nil
	}
	if !model.IsDocPath(value) {
		return value, true, nil
	}
	return ReadDoc(project, story, d.Filename())
}
