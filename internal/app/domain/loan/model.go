// Package loan holds the borrowing record aggregate.
package loan

import "time"

// Status is the lifecycle state of a loan.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReturned Status = "RETURNED"
	StatusLost     Status = "LOST"
)

// Loan is one borrowing transaction. Records are append-only history: they
// are closed, never deleted. A zero ReturnedAt means the loan is still open.
type Loan struct {
	ID              string
	BorrowerID      string
	CopyID          string
	TitleID         string
	LoanedAt        time.Time
	DueDate         time.Time
	ReturnedAt      time.Time
	ExtensionsCount int
	MaxExtensions   int
	Status          Status
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Open reports whether the loan has not been returned or closed.
func (l Loan) Open() bool { return l.ReturnedAt.IsZero() && l.Status == StatusActive }

// IsOverdue reports whether the loan is open and past its due date at the
// given instant.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Open() && now.After(l.DueDate)
}

// DaysOverdue returns the whole days the loan is overdue at the given
// instant, 0 if not overdue.
func (l Loan) DaysOverdue(now time.Time) int {
	if !l.IsOverdue(now) {
		return 0
	}
	return OverdueDays(l.DueDate, now)
}

// CanExtend reports whether the loan still has extensions left.
func (l Loan) CanExtend() bool {
	return l.Open() && l.ExtensionsCount < l.MaxExtensions
}

// OverdueDays computes the overdue interval between a due date and a later
// instant in whole calendar days, rounding up: one second past due already
// counts as a full day. Returns 0 when at does not exceed due.
func OverdueDays(due, at time.Time) int {
	if !at.After(due) {
		return 0
	}
	elapsed := at.Sub(due)
	days := int(elapsed / (24 * time.Hour))
	if elapsed%(24*time.Hour) != 0 {
		days++
	}
	return days
}
