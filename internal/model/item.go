package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of an item. An item is in exactly one
// status at any instant; transitions happen only through explicit
// updates.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// Statuses returns every valid status, in display order.
func Statuses() []Status {
	return []Status{StatusPending, StatusCompleted}
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Item is the domain model for a todo entry. ID and CreatedAt are
// assigned by the store on creation and immutable thereafter.
type Item struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewID returns a fresh item identifier. ULIDs from the same process
// sort lexically in creation order, which keeps id tiebreaks stable
// when ordering by creation time.
func NewID() string {
	return ulid.Make().String()
}
