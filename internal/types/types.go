// Package types defines core data structures for the spool issue tracker.
package types

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"time"
)

// Issue represents a trackable work item.
//
// Each issue is stored as a single JSON document on the sync branch. The ID
// is the immutable internal identifier; DisplayID is the short human-facing
// form recorded in the mapping table at mint time.
type Issue struct {
	ID          string    `json:"id"`
	DisplayID   string    `json:"display_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Priority    int       `json:"priority"` // No omitempty: 0 is valid (P0/critical)
	Assignee    string    `json:"assignee,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`

	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`

	// Tombstone fields: inline soft-delete support. Deletion never removes
	// the issue file; it marks it so every clone sees the same decision.
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
}

// ComputeContentHash creates a deterministic hash of the issue's content.
// Uses all substantive fields (excluding timestamps that advance on every
// write) so that identical content produces identical hashes across clones.
// Merge uses this ordering to pick the same canonical side everywhere.
func (i *Issue) ComputeContentHash() string {
	h := sha256.New()

	h.Write([]byte(i.ID))
	h.Write([]byte{0}) // separator
	h.Write([]byte(i.Title))
	h.Write([]byte{0})
	h.Write([]byte(i.Description))
	h.Write([]byte{0})
	h.Write([]byte(i.Notes))
	h.Write([]byte{0})
	h.Write([]byte(i.Status))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprintf("%d", i.Priority)))
	h.Write([]byte{0})
	h.Write([]byte(i.Assignee))
	h.Write([]byte{0})

	labels := slices.Clone(i.Labels)
	slices.Sort(labels)
	for _, l := range labels {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	for _, c := range i.Comments {
		h.Write([]byte(c.Key()))
		h.Write([]byte{0})
	}
	if i.DeletedAt != nil {
		h.Write([]byte("deleted"))
	}
	h.Write([]byte{0})

	return fmt.Sprintf("%x", h.Sum(nil))
}

// IsTombstone returns true if the issue has been soft-deleted.
func (i *Issue) IsTombstone() bool {
	return i.DeletedAt != nil && !i.DeletedAt.IsZero()
}

// Validate checks if the issue has valid field values.
func (i *Issue) Validate() error {
	if len(i.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Priority < 0 || i.Priority > 4 {
		return fmt.Errorf("priority must be between 0 and 4 (got %d)", i.Priority)
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", i.Status)
	}
	// Enforce closed_at invariant: closed_at is set if and only if status is closed
	if i.Status == StatusClosed && i.ClosedAt == nil {
		return fmt.Errorf("closed issues must have closed_at timestamp")
	}
	if i.Status != StatusClosed && i.ClosedAt != nil {
		return fmt.Errorf("non-closed issues cannot have closed_at timestamp")
	}
	return nil
}

// SetDefaults applies default values for fields omitted in stored JSON.
// Call this after json.Unmarshal so missing fields have proper defaults.
func (i *Issue) SetDefaults() {
	if i.Status == "" {
		i.Status = StatusOpen
	}
}

// Clone returns a deep copy. Merge resolution mutates copies, never the
// loaded originals.
func (i *Issue) Clone() *Issue {
	out := *i
	out.Labels = slices.Clone(i.Labels)
	out.Comments = slices.Clone(i.Comments)
	if i.ClosedAt != nil {
		t := *i.ClosedAt
		out.ClosedAt = &t
	}
	if i.DeletedAt != nil {
		t := *i.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// Status represents the current state of an issue
type Status string

// Issue status constants
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// Comment represents a comment on an issue
type Comment struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Key returns a stable identity for deduplication during merges. Two
// comments with the same author, timestamp, and text are the same comment.
func (c Comment) Key() string {
	return fmt.Sprintf("%s\x00%d\x00%s", c.Author, c.CreatedAt.UTC().UnixNano(), c.Text)
}
