package archive

import (
	"context"
	"fmt"
)

// Snapshot is one rendered capture of a page.
type Snapshot struct {
	Title       string
	Description string

	PDF     []byte
	Image   []byte
	Preview []byte
}

// SaveSnapshot writes the non-empty parts of snap under the link's keys.
func SaveSnapshot(ctx context.Context, store Store, collectionID, linkID int64, snap *Snapshot) error {
	parts := []struct {
		key         string
		data        []byte
		contentType string
	}{
		{DocumentKey(collectionID, linkID), snap.PDF, "application/pdf"},
		{ImageKey(collectionID, linkID), snap.Image, "image/png"},
		{PreviewKey(collectionID, linkID), snap.Preview, "image/jpeg"},
	}
	for _, p := range parts {
		if len(p.data) == 0 {
			continue
		}
		if err := store.Put(ctx, p.key, p.data, p.contentType); err != nil {
			return fmt.Errorf("failed to save snapshot of link %d: %w", linkID, err)
		}
	}
	return nil
}
