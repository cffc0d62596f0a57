package doc

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjjiang/opd/internal/capability"
)

// LocalSchema is the config schema for the local provider.
var LocalSchema = []capability.ConfigField{
	{Name: "root", Label: "Documents root", Type: capability.FieldText, Required: true, Default: "./workspace"},
}

// Local serves markdown documents from a directory tree. Document ids are
// paths relative to the root.
type Local struct {
	config map[string]string
	root   string
}

// NewLocal builds a Local doc provider from config.
func NewLocal(config map[string]string) (capability.Provider, error) {
	if config == nil {
		config = map[string]string{}
	}
	root := config["root"]
	if root == "" {
		root = "./workspace"
	}
	return &Local{config: config, root: root}, nil
}

// ProviderName identifies this implementation in the registry catalog.
func (l *Local) ProviderName() string { return "local" }

// Config returns the raw provider config.
func (l *Local) Config() map[string]string { return l.config }

func (l *Local) Initialize(ctx context.Context) error { return nil }

func (l *Local) Cleanup(ctx context.Context) error { return nil }

// HealthCheck verifies the root directory exists or can be created.
func (l *Local) HealthCheck(ctx context.Context) capability.HealthStatus {
	start := time.Now()
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return capability.HealthStatus{Message: err.Error(), CheckedAt: start}
	}
	return capability.HealthStatus{
		Healthy:   true,
		LatencyMS: time.Since(start).Milliseconds(),
		CheckedAt: start,
	}
}

// GetDocument reads one document by its relative path id.
func (l *Local) GetDocument(ctx context.Context, id string) (*Document, error) {
	if strings.Contains(id, "..") {
		return nil, fmt.Errorf("doc: invalid document id %q", id)
	}
	path := filepath.Join(l.root, filepath.FromSlash(id))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("doc: reading %q: %w", id, err)
	}
	return &Document{ID: id, Title: filepath.Base(id), Content: string(data)}, nil
}

// SearchDocuments walks the root and returns markdown files whose name or
// content contains the query (case-insensitive). Content is omitted from
// results; fetch by id for the full text.
func (l *Local) SearchDocuments(ctx context.Context, query string) ([]Document, error) {
	needle := strings.ToLower(query)
	var results []Document
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			results = append(results, Document{ID: filepath.ToSlash(rel), Title: d.Name()})
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr == nil && strings.Contains(strings.ToLower(string(data)), needle) {
			results = append(results, Document{ID: filepath.ToSlash(rel), Title: d.Name()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("doc: searching %q: %w", query, err)
	}
	return results, nil
}
