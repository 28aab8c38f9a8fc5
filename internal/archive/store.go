// Package archive stores and removes the offline snapshots of links.
//
// Artifacts live under two namespaces per collection:
//
//	archives/{collectionID}/{linkID}.pdf|.png
//	archives/preview/{collectionID}/{linkID}.jpeg
package archive

import (
	"context"
	"fmt"
)

const root = "archives"

// Store keeps archive artifacts addressed by slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// RemoveNamespace deletes every artifact under prefix.
	// A prefix with nothing under it is not an error.
	RemoveNamespace(ctx context.Context, prefix string) error
}

// CollectionNamespace is the prefix holding a collection's documents and images.
func CollectionNamespace(collectionID int64) string {
	return fmt.Sprintf("%s/%d", root, collectionID)
}

// PreviewNamespace is the prefix holding a collection's preview images.
func PreviewNamespace(collectionID int64) string {
	return fmt.Sprintf("%s/preview/%d", root, collectionID)
}

// Namespaces returns both prefixes that must go when a collection is destroyed.
func Namespaces(collectionID int64) []string {
	return []string{CollectionNamespace(collectionID), PreviewNamespace(collectionID)}
}

func DocumentKey(collectionID, linkID int64) string {
	return fmt.Sprintf("%s/%d.pdf", CollectionNamespace(collectionID), linkID)
}

func ImageKey(collectionID, linkID int64) string {
	return fmt.Sprintf("%s/%d.png", CollectionNamespace(collectionID), linkID)
}

func PreviewKey(collectionID, linkID int64) string {
	return fmt.Sprintf("%s/%d.jpeg", PreviewNamespace(collectionID), linkID)
}
