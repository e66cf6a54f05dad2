// Package circulation is the public facade of the engine. Each operation
// sequences the inventory, loan, reservation, and fine rules inside one unit
// of work; outbound notifications fire only after the commit succeeds.
package circulation

import (
	"context"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/domain/reservation"
	"github.com/davonlibrary/circulation/internal/app/metrics"
	"github.com/davonlibrary/circulation/internal/app/services/fines"
	"github.com/davonlibrary/circulation/internal/app/services/inventory"
	"github.com/davonlibrary/circulation/internal/app/services/loans"
	"github.com/davonlibrary/circulation/internal/app/services/reservations"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Policy carries the lending rules the facade applies.
type Policy struct {
	LoanPeriodDays     int
	ExtensionDays      int
	MaxExtensions      int
	HoldPeriodDays     int
	DailyFineRateCents int64
	AverageLoanDays    int
}

// Service orchestrates the four rule modules behind one transactional API.
type Service struct {
	store        storage.Circulation
	inventory    *inventory.Service
	loans        *loans.Service
	reservations *reservations.Service
	fines        *fines.Service
	notifier     Notifier
	metrics      *metrics.Metrics
	policy       Policy
	now          func() time.Time
	log          *logger.Logger
}

// New wires the facade. A nil notifier falls back to the log notifier and a
// nil metrics set records nothing.
func New(store storage.Circulation, inv *inventory.Service, ledger *loans.Service, queue *reservations.Service, engine *fines.Service, notifier Notifier, m *metrics.Metrics, policy Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("circulation")
	}
	if notifier == nil {
		notifier = NewLogNotifier(log)
	}
	return &Service{
		store:        store,
		inventory:    inv,
		loans:        ledger,
		reservations: queue,
		fines:        engine,
		notifier:     notifier,
		metrics:      m,
		policy:       policy,
		now:          time.Now,
		log:          log,
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// BorrowResult reports how a borrow request resolved: exactly one of Loan
// and Reservation is set.
type BorrowResult struct {
	Loan        *loan.Loan
	Reservation *reservation.Reservation
}

// Borrow lends an available copy of the title to the borrower, or, when
// every copy is out, queues a reservation instead. Both paths are atomic.
func (s *Service) Borrow(ctx context.Context, borrowerID, titleID string) (BorrowResult, error) {
	const op = "circulation.Borrow"
	now := s.now()

	var result BorrowResult
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		c, err := s.inventory.SelectAvailableCopy(ctx, tx, titleID)
		if circerrors.IsNotFound(err) {
			if _, lookupErr := tx.GetTitle(ctx, titleID); lookupErr != nil {
				return lookupErr
			}
			r, reserveErr := s.reservations.Reserve(ctx, tx, borrowerID, titleID, now, s.policy.HoldPeriodDays)
			if reserveErr != nil {
				return reserveErr
			}
			result.Reservation = &r
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := s.inventory.CheckOut(ctx, tx, c.ID); err != nil {
			return err
		}
		l, err := s.loans.Create(ctx, tx, borrowerID, c.ID, now, s.policy.LoanPeriodDays, s.policy.MaxExtensions)
		if err != nil {
			return err
		}
		result.Loan = &l
		return nil
	})
	s.observe(op, err)
	if err != nil {
		return BorrowResult{}, err
	}
	return result, nil
}

// ReturnResult reports everything a return triggered.
type ReturnResult struct {
	Loan        loan.Loan
	DaysOverdue int
	Fine        *fine.Fine
	Fulfilled   *reservation.Reservation
	NextLoan    *loan.Loan
}

// Return closes a loan, frees its copy, assesses a fine when the return is
// late, and hands the copy straight to the head of the title's reservation
// queue when one is waiting. All of it commits or none of it does.
func (s *Service) Return(ctx context.Context, loanID string) (ReturnResult, error) {
	const op = "circulation.Return"
	now := s.now()

	var result ReturnResult
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		l, daysOverdue, err := s.loans.Close(ctx, tx, loanID, now)
		if err != nil {
			return err
		}
		result.Loan = l
		result.DaysOverdue = daysOverdue

		if _, err := s.inventory.CheckIn(ctx, tx, l.CopyID); err != nil {
			return err
		}

		if daysOverdue > 0 {
			f, err := s.fines.Accrue(ctx, tx, l.ID, now, s.policy.DailyFineRateCents)
			switch {
			case err == nil:
				result.Fine = &f
			case circerrors.IsInvalidState(err):
				// Policy assessed nothing (grace window). Not an error.
			default:
				return err
			}
		}

		fulfilled, nextLoan, err := s.reservations.TryFulfill(ctx, tx, l.TitleID, l.CopyID, now,
			s.policy.LoanPeriodDays, s.policy.MaxExtensions)
		if err != nil {
			return err
		}
		result.Fulfilled = fulfilled
		result.NextLoan = nextLoan
		return nil
	})
	s.observe(op, err)
	if err != nil {
		return ReturnResult{}, err
	}

	if result.Fine != nil {
		s.metrics.FineAssessed(result.Fine.AmountCents)
		s.notify(func() { s.notifier.FineAssessed(*result.Fine) })
	}
	if result.Fulfilled != nil {
		s.notify(func() { s.notifier.ReservationFulfilled(*result.Fulfilled, *result.NextLoan) })
	}
	return result, nil
}

// Reserve queues a claim on a title regardless of current availability.
func (s *Service) Reserve(ctx context.Context, borrowerID, titleID string) (reservation.Reservation, error) {
	const op = "circulation.Reserve"
	now := s.now()

	var r reservation.Reservation
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		r, err = s.reservations.Reserve(ctx, tx, borrowerID, titleID, now, s.policy.HoldPeriodDays)
		return err
	})
	s.observe(op, err)
	return r, err
}

// CancelReservation withdraws an active reservation.
func (s *Service) CancelReservation(ctx context.Context, reservationID, reason string) (reservation.Reservation, error) {
	const op = "circulation.CancelReservation"

	var r reservation.Reservation
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		r, err = s.reservations.Cancel(ctx, tx, reservationID, reason)
		return err
	})
	s.observe(op, err)
	return r, err
}

// ExtendReservation pushes an active reservation's expiry out by additionalDays.
func (s *Service) ExtendReservation(ctx context.Context, reservationID string, additionalDays int) (reservation.Reservation, error) {
	const op = "circulation.ExtendReservation"

	var r reservation.Reservation
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		r, err = s.reservations.ExtendExpiry(ctx, tx, reservationID, additionalDays)
		return err
	})
	s.observe(op, err)
	return r, err
}

// Extend pushes a loan's due date out by the configured extension period.
func (s *Service) Extend(ctx context.Context, loanID string) (loan.Loan, error) {
	const op = "circulation.Extend"

	var l loan.Loan
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		l, err = s.loans.Extend(ctx, tx, loanID, s.policy.ExtensionDays)
		return err
	})
	s.observe(op, err)
	return l, err
}

// PayFine applies a payment to a fine.
func (s *Service) PayFine(ctx context.Context, fineID string, amountCents int64, method, transactionRef string) (fine.Fine, error) {
	const op = "circulation.PayFine"
	now := s.now()

	var f fine.Fine
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = s.fines.Pay(ctx, tx, fineID, amountCents, method, transactionRef, now)
		return err
	})
	s.observe(op, err)
	return f, err
}

// WaiveFine forgives a fine's outstanding balance.
func (s *Service) WaiveFine(ctx context.Context, fineID, waivedBy, reason string) (fine.Fine, error) {
	const op = "circulation.WaiveFine"
	now := s.now()

	var f fine.Fine
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		f, err = s.fines.Waive(ctx, tx, fineID, waivedBy, reason, now)
		return err
	})
	s.observe(op, err)
	return f, err
}

// ReportLost closes a loan as lost and takes its copy out of circulation.
func (s *Service) ReportLost(ctx context.Context, loanID, notes string) (loan.Loan, error) {
	const op = "circulation.ReportLost"

	var l loan.Loan
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		var err error
		l, err = s.loans.MarkLost(ctx, tx, loanID, notes)
		if err != nil {
			return err
		}
		_, err = s.inventory.MarkLost(ctx, tx, l.CopyID)
		return err
	})
	s.observe(op, err)
	return l, err
}

// SweepResult reports what a scheduled sweep changed.
type SweepResult struct {
	ExpiredReservations []reservation.Reservation
	AssessedFines       []fine.Fine
	OverdueLoans        []loan.Loan
}

// Sweep runs the periodic maintenance pass: lapse expired reservations,
// assess or restate fines for overdue open loans, and refresh the loan
// gauges. Overdue notices go out after commit.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	const op = "circulation.Sweep"

	var result SweepResult
	var open, overdue int
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		expired, err := s.reservations.ExpireOverdue(ctx, tx, now)
		if err != nil {
			return err
		}
		result.ExpiredReservations = expired

		openLoans, err := tx.ListOpenLoans(ctx)
		if err != nil {
			return err
		}
		for _, l := range openLoans {
			if !l.IsOverdue(now) {
				continue
			}
			result.OverdueLoans = append(result.OverdueLoans, l)
			var prior int64
			if existing, err := tx.GetOpenFineByLoan(ctx, l.ID); err == nil {
				prior = existing.AmountCents
			} else if !circerrors.IsNotFound(err) {
				return err
			}
			f, err := s.fines.Accrue(ctx, tx, l.ID, now, s.policy.DailyFineRateCents)
			if circerrors.IsInvalidState(err) {
				continue
			}
			if err != nil {
				return err
			}
			// Only new or grown assessments are reported and notified.
			if f.AmountCents > prior {
				result.AssessedFines = append(result.AssessedFines, f)
			}
		}

		if open, err = tx.CountOpenLoans(ctx); err != nil {
			return err
		}
		overdue, err = tx.CountOverdueLoans(ctx, now)
		return err
	})
	s.observe(op, err)
	if err != nil {
		return SweepResult{}, err
	}

	s.metrics.SetLoanGauges(open, overdue)
	for _, f := range result.AssessedFines {
		s.metrics.FineAssessed(f.AmountCents)
		f := f
		s.notify(func() { s.notifier.FineAssessed(f) })
	}
	for _, l := range result.OverdueLoans {
		l := l
		s.notify(func() { s.notifier.LoanOverdue(l) })
	}
	return result, nil
}

// RegisterTitle adds a catalog title with no copies yet.
func (s *Service) RegisterTitle(ctx context.Context, name, author, isbn string) (catalog.Title, error) {
	const op = "circulation.RegisterTitle"

	var t catalog.Title
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		if name == "" {
			return circerrors.InvalidState(op, "title name is required")
		}
		var err error
		t, err = tx.CreateTitle(ctx, catalog.Title{Name: name, Author: author, ISBN: isbn})
		return err
	})
	s.observe(op, err)
	return t, err
}

// AddCopy registers a physical copy on the shelf and bumps both title
// counters.
func (s *Service) AddCopy(ctx context.Context, titleID, branchID, barcode, location string) (catalog.Copy, error) {
	const op = "circulation.AddCopy"

	var c catalog.Copy
	err := s.store.Atomically(ctx, func(tx storage.Tx) error {
		t, err := tx.GetTitle(ctx, titleID)
		if err != nil {
			return err
		}
		c, err = tx.CreateCopy(ctx, catalog.Copy{
			TitleID:  titleID,
			BranchID: branchID,
			Barcode:  barcode,
			Location: location,
			Status:   catalog.CopyAvailable,
		})
		if err != nil {
			return err
		}
		t.TotalCopies++
		t.AvailableCopies++
		_, err = tx.UpdateTitle(ctx, t)
		return err
	})
	s.observe(op, err)
	return c, err
}

// Availability reports a title's stored counters.
func (s *Service) Availability(ctx context.Context, titleID string) (catalog.Title, error) {
	var t catalog.Title
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		t, err = tx.GetTitle(ctx, titleID)
		return err
	})
	return t, err
}

// GetLoan looks up one loan.
func (s *Service) GetLoan(ctx context.Context, loanID string) (loan.Loan, error) {
	var l loan.Loan
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		l, err = tx.GetLoan(ctx, loanID)
		return err
	})
	return l, err
}

// GetReservation looks up one reservation with its current queue position.
func (s *Service) GetReservation(ctx context.Context, reservationID string) (reservation.Reservation, error) {
	var r reservation.Reservation
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, reservationID)
		return err
	})
	return r, err
}

// EstimatedWait reports the informational wait estimate, in days, for an
// active reservation given the configured average loan length.
func (s *Service) EstimatedWait(ctx context.Context, reservationID string) (int, error) {
	var days int
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		days, err = s.reservations.EstimatedWaitDays(ctx, tx, reservationID, s.policy.AverageLoanDays)
		return err
	})
	return days, err
}

// GetFine looks up one fine.
func (s *Service) GetFine(ctx context.Context, fineID string) (fine.Fine, error) {
	var f fine.Fine
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		f, err = tx.GetFine(ctx, fineID)
		return err
	})
	return f, err
}

// BorrowerAccount is a borrower's full circulation standing.
type BorrowerAccount struct {
	Loans            []loan.Loan
	Reservations     []reservation.Reservation
	Fines            []fine.Fine
	OutstandingCents int64
}

// Account assembles a borrower's loans, reservations, fines, and unpaid
// balance in one consistent snapshot.
func (s *Service) Account(ctx context.Context, borrowerID string) (BorrowerAccount, error) {
	var acct BorrowerAccount
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if acct.Loans, err = s.loans.ListByBorrower(ctx, tx, borrowerID); err != nil {
			return err
		}
		if acct.Reservations, err = s.reservations.ListByBorrower(ctx, tx, borrowerID); err != nil {
			return err
		}
		if acct.Fines, err = s.fines.ListByBorrower(ctx, tx, borrowerID); err != nil {
			return err
		}
		acct.OutstandingCents, err = s.fines.OutstandingByBorrower(ctx, tx, borrowerID)
		return err
	})
	return acct, err
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = circerrors.KindOf(err).String()
	}
	s.metrics.Operation(op, outcome)
}

// notify runs an outbound call without letting a panicking notifier take the
// engine down. Notifications are fire-and-forget.
func (s *Service) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("notifier panicked")
		}
	}()
	fn()
}
