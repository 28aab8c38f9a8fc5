package archive

import "context"

// Capturer renders a URL into a Snapshot.
type Capturer interface {
	// Capture loads the page, scrolls it to the bottom and renders it.
	// Title and Description are best effort and may be empty.
	Capture(ctx context.Context, url string) (*Snapshot, error)
}
