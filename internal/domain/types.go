package domain

import (
	"time"

	"github.com/google/uuid"
)

type AllocationStatus string

const (
	StatusAvailable AllocationStatus = "available"
	StatusHold      AllocationStatus = "hold"
	StatusOccupied  AllocationStatus = "occupied"
)

// Allocation is the booking state of one seat for one event. The
// (EventID, SeatID) pair is unique; a missing row means the seat is
// available.
type Allocation struct {
	EventID       int64            `json:"event_id"`
	BlockID       int64            `json:"block_id"`
	SeatID        int64            `json:"seat_id"`
	HolderID      *int64           `json:"holder_id,omitempty"`
	Status        AllocationStatus `json:"status"`
	HoldExpiresAt *time.Time       `json:"hold_expires_at,omitempty"`
	BookingID     *uuid.UUID       `json:"booking_id,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Expired reports whether the allocation is a hold whose TTL has passed.
// An expired hold is treated as available for acquisition purposes even
// though the row has not been rewritten yet.
func (a Allocation) Expired(now time.Time) bool {
	return a.Status == StatusHold &&
		a.HoldExpiresAt != nil &&
		!a.HoldExpiresAt.After(now)
}

// HeldBy reports whether the allocation is an unexpired hold owned by
// the given holder.
func (a Allocation) HeldBy(holderID int64, now time.Time) bool {
	return a.Status == StatusHold &&
		a.HolderID != nil && *a.HolderID == holderID &&
		!a.Expired(now)
}

// SeatStatus is the wire-level (seat, status) pair used by snapshot and
// change-feed payloads.
type SeatStatus struct {
	SeatID    int64            `json:"seat_id"`
	Status    AllocationStatus `json:"status"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type Event struct {
	ID          int64
	Title       string
	Starts      time.Time
	BookingOpen bool
}

type Seat struct {
	ID      int64
	BlockID int64
	Section string
	Row     string
	Number  int
}
