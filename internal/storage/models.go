package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Draft status values.
const (
	DraftPending   = 0
	DraftSubmitted = 1
)

// Draft is a persisted ticket draft awaiting order creation or review.
type Draft struct {
	ID        string
	GroupID   string
	SenderID  string
	Content   string
	Analysis  string // classifier output as JSON
	Status    int
	OrderID   string
	TraceID   string
	CreatedAt time.Time
}

// Owner binds a chat sender to a household.
type Owner struct {
	SenderID   string
	RoomNumber string
	Name       string
	Phone      string
	HouseID    int64
	UpdatedAt  time.Time
}
