// Package catalog holds the title and copy aggregates. Titles are created by
// catalog management outside this engine; the engine only mutates copy state
// and the denormalized availability counters.
package catalog

import "time"

// CopyStatus is the availability state of a physical copy.
type CopyStatus string

const (
	CopyAvailable   CopyStatus = "AVAILABLE"
	CopyCheckedOut  CopyStatus = "CHECKED_OUT"
	CopyMaintenance CopyStatus = "MAINTENANCE"
	CopyDamaged     CopyStatus = "DAMAGED"
	CopyLost        CopyStatus = "LOST"
)

// CanTransitionTo reports whether the copy state machine permits moving from
// s to next. LOST is terminal; DAMAGED and MAINTENANCE return to AVAILABLE
// only through an explicit restore.
func (s CopyStatus) CanTransitionTo(next CopyStatus) bool {
	switch s {
	case CopyAvailable:
		return next == CopyCheckedOut || next == CopyMaintenance ||
			next == CopyDamaged || next == CopyLost
	case CopyCheckedOut:
		return next == CopyAvailable || next == CopyLost
	case CopyMaintenance:
		return next == CopyAvailable
	case CopyDamaged:
		return next == CopyAvailable
	case CopyLost:
		return false
	}
	return false
}

// Title is a catalog work. AvailableCopies and TotalCopies are denormalized
// counters maintained transactionally alongside per-copy state; the count of
// copies in AVAILABLE state is authoritative.
type Title struct {
	ID              string
	Name            string
	Author          string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Copy is one physical instance of a title, owned by a branch for its
// lifetime.
type Copy struct {
	ID        string
	TitleID   string
	BranchID  string
	Barcode   string
	Status    CopyStatus
	Condition string
	Location  string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OnShelf reports whether the copy counts toward the title's available pool.
func (c Copy) OnShelf() bool { return c.Status == CopyAvailable }
