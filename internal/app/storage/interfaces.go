// Package storage defines the persistence boundary of the circulation
// engine. Every public engine operation runs inside one unit of work: either
// all entity mutations commit together or none do.
package storage

import (
	"context"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
)

// TitleStore persists catalog titles and their availability counters.
type TitleStore interface {
	CreateTitle(ctx context.Context, t catalog.Title) (catalog.Title, error)
	UpdateTitle(ctx context.Context, t catalog.Title) (catalog.Title, error)
	GetTitle(ctx context.Context, id string) (catalog.Title, error)
	ListTitles(ctx context.Context) ([]catalog.Title, error)
}

// CopyStore persists physical copies.
type CopyStore interface {
	CreateCopy(ctx context.Context, c catalog.Copy) (catalog.Copy, error)
	UpdateCopy(ctx context.Context, c catalog.Copy) (catalog.Copy, error)
	GetCopy(ctx context.Context, id string) (catalog.Copy, error)
	// ListCopiesByTitle returns copies ordered by ascending copy ID so copy
	// selection stays deterministic.
	ListCopiesByTitle(ctx context.Context, titleID string) ([]catalog.Copy, error)

	// TransitionCopy moves a copy from one status to another as a single
	// conditionally-checked update. It fails with a conflict error when the
	// copy is no longer in the expected status, which is what prevents two
	// racing borrows from both taking the last available copy.
	TransitionCopy(ctx context.Context, id string, from, to catalog.CopyStatus) (catalog.Copy, error)
}

// LoanStore persists borrowing records.
type LoanStore interface {
	CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	UpdateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	GetOpenLoanByCopy(ctx context.Context, copyID string) (loan.Loan, error)
	ListLoansByBorrower(ctx context.Context, borrowerID string) ([]loan.Loan, error)
	ListOpenLoans(ctx context.Context) ([]loan.Loan, error)
	CountOpenLoans(ctx context.Context) (int, error)
	CountOverdueLoans(ctx context.Context, now time.Time) (int, error)
}

// ReservationStore persists queued claims.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error)
	UpdateReservation(ctx context.Context, r reservation.Reservation) (reservation.Reservation, error)
	GetReservation(ctx context.Context, id string) (reservation.Reservation, error)
	// ListActiveByTitle returns ACTIVE reservations for a title ordered by
	// request time with insertion order breaking ties.
	ListActiveByTitle(ctx context.Context, titleID string) ([]reservation.Reservation, error)
	GetActiveByBorrowerAndTitle(ctx context.Context, borrowerID, titleID string) (reservation.Reservation, error)
	ListActiveExpiredBefore(ctx context.Context, cutoff time.Time) ([]reservation.Reservation, error)
	ListReservationsByBorrower(ctx context.Context, borrowerID string) ([]reservation.Reservation, error)
}

// FineStore persists monetary penalties.
type FineStore interface {
	CreateFine(ctx context.Context, f fine.Fine) (fine.Fine, error)
	UpdateFine(ctx context.Context, f fine.Fine) (fine.Fine, error)
	GetFine(ctx context.Context, id string) (fine.Fine, error)
	// GetOpenFineByLoan returns the loan's ACTIVE or PARTIALLY_PAID fine.
	GetOpenFineByLoan(ctx context.Context, loanID string) (fine.Fine, error)
	ListFinesByBorrower(ctx context.Context, borrowerID string) ([]fine.Fine, error)
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	TitleStore
	CopyStore
	LoanStore
	ReservationStore
	FineStore
}

// Circulation is the persistence backend of the engine.
type Circulation interface {
	// Atomically runs fn inside one transaction. If fn returns an error the
	// transaction rolls back and no mutation survives.
	Atomically(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}
