package domain

import "time"

// Link represents a saved website link. Every link belongs to exactly one collection.
type Link struct {
	ID int64 `json:"id"`

	// CollectionID is the collection that owns the link.
	CollectionID int64 `json:"collection_id"`

	URL string `json:"url"`

	// Title scraped from the website's <title> tag.
	Title string `json:"title"`

	// Description scraped from the website's meta description tag.
	Description string `json:"description"`

	// IndexVersion marks how the link is represented in the search index.
	// Nil means the link is not indexed.
	IndexVersion *int `json:"index_version,omitempty"`

	// CreatedAt indicates when the link was saved.
	CreatedAt time.Time `json:"created_at"`
}

// Indexed reports whether the link currently has a search document.
func (l Link) Indexed() bool {
	return l.IndexVersion != nil
}
