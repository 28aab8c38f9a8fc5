package search

import "context"

// Version is the IndexVersion written on links that have a search document.
const Version = 1

// Document is the searchable representation of a link.
type Document struct {
	LinkID       int64
	CollectionID int64
	URL          string
	Title        string
	Description  string
}

// Index is the full-text index of links.
type Index interface {
	// IndexDocument creates or replaces the document of a link.
	IndexDocument(ctx context.Context, doc Document) error

	// DeleteDocuments removes the documents of the given links.
	// Missing documents are not an error.
	DeleteDocuments(ctx context.Context, linkIDs []int64) error

	// Search returns matching link ids, best match first.
	Search(ctx context.Context, query string, limit int) ([]int64, error)
}
