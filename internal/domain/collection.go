package domain

import "time"

// Role distinguishes the owner of a collection from its members.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Collection is a named group of links. Collections form a forest through ParentID.
type Collection struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	OwnerID  int64  `json:"owner_id"`
	ParentID *int64 `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsRoot reports whether the collection has no parent.
func (c Collection) IsRoot() bool {
	return c.ParentID == nil
}

// Relation is a user's membership in a collection, unique per (UserID, CollectionID).
type Relation struct {
	UserID       int64     `json:"user_id"`
	CollectionID int64     `json:"collection_id"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// User holds per-user state kept next to the collections.
type User struct {
	ID int64 `json:"id"`

	// CollectionOrder is the user's preferred display order of collection ids.
	CollectionOrder []int64 `json:"collection_order"`
}

// Access is what the permission gate knows about a user's view of a collection.
type Access struct {
	OwnerID int64      `json:"owner_id"`
	Members []Relation `json:"members"`
}

// IsOwner reports whether userID owns the collection.
func (a *Access) IsOwner(userID int64) bool {
	return a != nil && a.OwnerID == userID
}

// IsMember reports whether userID holds a membership relation.
func (a *Access) IsMember(userID int64) bool {
	if a == nil {
		return false
	}
	for _, m := range a.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// WithoutID returns order with every occurrence of id removed.
// The input slice is not modified.
func WithoutID(order []int64, id int64) []int64 {
	out := make([]int64, 0, len(order))
	for _, v := range order {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
