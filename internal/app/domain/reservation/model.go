// Package reservation holds the queued-claim aggregate.
package reservation

import "time"

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusFulfilled Status = "FULFILLED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Reservation is a borrower's claim on a title made while no copy was free.
// Active reservations for a title carry contiguous 1-based queue positions
// ordered by request time; Sequence breaks ties when two requests land on
// the same timestamp.
type Reservation struct {
	ID            string
	BorrowerID    string
	TitleID       string
	RequestedAt   time.Time
	Sequence      int64
	ExpiryDate    time.Time
	QueuePosition int
	Status        Status
	NotifiedAt    time.Time
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the reservation's hold window has lapsed at the
// given instant.
func (r Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiryDate)
}

// Before orders reservations by request time, falling back to insertion
// order on identical timestamps. Borrower identity never participates.
func (r Reservation) Before(other Reservation) bool {
	if r.RequestedAt.Equal(other.RequestedAt) {
		return r.Sequence < other.Sequence
	}
	return r.RequestedAt.Before(other.RequestedAt)
}

// EstimatedWaitDays is informational only: queue position scaled by the
// average loan duration across the title's copies.
func EstimatedWaitDays(queuePosition, averageLoanDays, copiesOfTitle int) int {
	if queuePosition <= 1 {
		return 0
	}
	if copiesOfTitle < 1 {
		copiesOfTitle = 1
	}
	return (queuePosition - 1) * averageLoanDays / copiesOfTitle
}
