// Package reservations maintains the per-title FIFO queue of claims made
// while no copy was free. Active reservations carry persisted 1-based queue
// positions which are renumbered on every cancel, expiry, and fulfillment so
// they stay contiguous.
package reservations

import (
	"context"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
	"github.com/davonlibrary/circulation/internal/app/services/inventory"
	"github.com/davonlibrary/circulation/internal/app/services/loans"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Service manages reservation queues.
type Service struct {
	inventory *inventory.Service
	loans     *loans.Service
	log       *logger.Logger
}

// New creates a configured reservation queue service.
func New(inv *inventory.Service, ledger *loans.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("reservations")
	}
	return &Service{inventory: inv, loans: ledger, log: log}
}

// Reserve appends an active reservation at the tail of the title's queue.
// A borrower may hold at most one active reservation per title.
func (s *Service) Reserve(ctx context.Context, tx storage.Tx, borrowerID, titleID string, now time.Time, holdDays int) (reservation.Reservation, error) {
	const op = "reservations.Reserve"

	if borrowerID == "" {
		return reservation.Reservation{}, circerrors.InvalidState(op, "borrower is required")
	}
	if _, err := tx.GetTitle(ctx, titleID); err != nil {
		return reservation.Reservation{}, err
	}

	if _, err := tx.GetActiveByBorrowerAndTitle(ctx, borrowerID, titleID); err == nil {
		return reservation.Reservation{}, circerrors.LimitExceeded(op,
			"borrower %s already holds an active reservation for title %s", borrowerID, titleID)
	} else if !circerrors.IsNotFound(err) {
		return reservation.Reservation{}, err
	}

	active, err := tx.ListActiveByTitle(ctx, titleID)
	if err != nil {
		return reservation.Reservation{}, err
	}

	r := reservation.Reservation{
		BorrowerID:    borrowerID,
		TitleID:       titleID,
		RequestedAt:   now.UTC(),
		ExpiryDate:    now.UTC().AddDate(0, 0, holdDays),
		QueuePosition: len(active) + 1,
		Status:        reservation.StatusActive,
	}
	r, err = tx.CreateReservation(ctx, r)
	if err != nil {
		return reservation.Reservation{}, err
	}
	s.log.WithField("reservation_id", r.ID).
		WithField("title_id", titleID).
		WithField("position", r.QueuePosition).
		Info("reservation queued")
	return r, nil
}

// Cancel removes an active reservation from its queue and renumbers the
// remaining entries so positions stay contiguous from 1.
func (s *Service) Cancel(ctx context.Context, tx storage.Tx, reservationID, reason string) (reservation.Reservation, error) {
	const op = "reservations.Cancel"

	r, err := tx.GetReservation(ctx, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if r.Status != reservation.StatusActive {
		return reservation.Reservation{}, circerrors.InvalidState(op, "reservation %s is %s, not active",
			reservationID, r.Status)
	}

	r.Status = reservation.StatusCancelled
	r.Notes = reason
	r.QueuePosition = 0
	if r, err = tx.UpdateReservation(ctx, r); err != nil {
		return reservation.Reservation{}, err
	}
	if err := s.renumber(ctx, tx, r.TitleID); err != nil {
		return reservation.Reservation{}, err
	}
	s.log.WithField("reservation_id", reservationID).Info("reservation cancelled")
	return r, nil
}

// ExpireOverdue lapses every active reservation whose hold window has passed
// and renumbers each affected title's queue. The sweep is idempotent: a
// second run over the same instant finds nothing left to expire.
func (s *Service) ExpireOverdue(ctx context.Context, tx storage.Tx, now time.Time) ([]reservation.Reservation, error) {
	lapsed, err := tx.ListActiveExpiredBefore(ctx, now)
	if err != nil {
		return nil, err
	}

	touched := make(map[string]bool)
	expired := make([]reservation.Reservation, 0, len(lapsed))
	for _, r := range lapsed {
		r.Status = reservation.StatusExpired
		r.QueuePosition = 0
		r, err = tx.UpdateReservation(ctx, r)
		if err != nil {
			return nil, err
		}
		expired = append(expired, r)
		touched[r.TitleID] = true
	}
	for titleID := range touched {
		if err := s.renumber(ctx, tx, titleID); err != nil {
			return nil, err
		}
	}
	if len(expired) > 0 {
		s.log.WithField("count", len(expired)).Info("reservations expired")
	}
	return expired, nil
}

// ExtendExpiry pushes an active reservation's hold window out.
func (s *Service) ExtendExpiry(ctx context.Context, tx storage.Tx, reservationID string, additionalDays int) (reservation.Reservation, error) {
	const op = "reservations.ExtendExpiry"

	if additionalDays <= 0 {
		return reservation.Reservation{}, circerrors.InvalidState(op, "additional days must be positive, got %d", additionalDays)
	}
	r, err := tx.GetReservation(ctx, reservationID)
	if err != nil {
		return reservation.Reservation{}, err
	}
	if r.Status != reservation.StatusActive {
		return reservation.Reservation{}, circerrors.InvalidState(op, "reservation %s is %s, not active",
			reservationID, r.Status)
	}
	r.ExpiryDate = r.ExpiryDate.AddDate(0, 0, additionalDays)
	return tx.UpdateReservation(ctx, r)
}

// TryFulfill hands a just-freed copy to the head of the title's queue. The
// copy is checked out to the head borrower inside the same unit of work, so
// it never returns to the general pool. Returns the fulfilled reservation
// and the new loan, or nil when the queue is empty.
func (s *Service) TryFulfill(ctx context.Context, tx storage.Tx, titleID, copyID string, now time.Time, loanPeriodDays, maxExtensions int) (*reservation.Reservation, *loan.Loan, error) {
	active, err := tx.ListActiveByTitle(ctx, titleID)
	if err != nil {
		return nil, nil, err
	}
	// Entries whose hold window already lapsed are left for the expiry sweep.
	var head *reservation.Reservation
	for i := range active {
		if !active[i].Expired(now) {
			head = &active[i]
			break
		}
	}
	if head == nil {
		return nil, nil, nil
	}

	if _, err := s.inventory.CheckOut(ctx, tx, copyID); err != nil {
		return nil, nil, err
	}
	newLoan, err := s.loans.Create(ctx, tx, head.BorrowerID, copyID, now, loanPeriodDays, maxExtensions)
	if err != nil {
		return nil, nil, err
	}

	fulfilled := *head
	fulfilled.Status = reservation.StatusFulfilled
	fulfilled.NotifiedAt = now.UTC()
	fulfilled.QueuePosition = 0
	fulfilled, err = tx.UpdateReservation(ctx, fulfilled)
	if err != nil {
		return nil, nil, err
	}
	if err := s.renumber(ctx, tx, titleID); err != nil {
		return nil, nil, err
	}

	s.log.WithField("reservation_id", fulfilled.ID).
		WithField("loan_id", newLoan.ID).
		WithField("copy_id", copyID).
		Info("reservation fulfilled")
	return &fulfilled, &newLoan, nil
}

// EstimatedWaitDays reports the informational wait estimate for a
// reservation based on its queue position and the title's copy count.
func (s *Service) EstimatedWaitDays(ctx context.Context, tx storage.Tx, reservationID string, averageLoanDays int) (int, error) {
	r, err := tx.GetReservation(ctx, reservationID)
	if err != nil {
		return 0, err
	}
	copies, err := tx.ListCopiesByTitle(ctx, r.TitleID)
	if err != nil {
		return 0, err
	}
	return reservation.EstimatedWaitDays(r.QueuePosition, averageLoanDays, len(copies)), nil
}

// ListByBorrower returns a borrower's reservation history.
func (s *Service) ListByBorrower(ctx context.Context, tx storage.Tx, borrowerID string) ([]reservation.Reservation, error) {
	return tx.ListReservationsByBorrower(ctx, borrowerID)
}

// renumber reassigns contiguous 1-based positions to a title's active
// reservations in request-time order. Must run inside the same unit of work
// as the mutation that disturbed the queue.
func (s *Service) renumber(ctx context.Context, tx storage.Tx, titleID string) error {
	active, err := tx.ListActiveByTitle(ctx, titleID)
	if err != nil {
		return err
	}
	for i, r := range active {
		if r.QueuePosition == i+1 {
			continue
		}
		r.QueuePosition = i + 1
		if _, err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
