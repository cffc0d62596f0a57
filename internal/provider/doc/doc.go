// Package doc defines the document-store capability contract and its
// provider implementations.
package doc

import (
	"context"

	"github.com/zjjiang/opd/internal/capability"
)

// Document is one stored document.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// Provider is the document capability method set.
type Provider interface {
	capability.Provider

	GetDocument(ctx context.Context, id string) (*Document, error)
	SearchDocuments(ctx context.Context, query string) ([]Document, error)
}
