// Package fines assesses and settles monetary penalties for overdue loans.
// One loan carries at most one open fine; repeated assessment restates its
// amount to the current overdue period, and settlement never lets paid plus
// waived exceed the assessed amount.
package fines

import (
	"context"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/fine"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Service is the fine engine.
type Service struct {
	policy RatePolicy
	log    *logger.Logger
}

// New creates a fine engine with the given rate policy. A nil policy falls
// back to the standard flat daily rate.
func New(policy RatePolicy, log *logger.Logger) *Service {
	if policy == nil {
		policy = StandardRatePolicy{}
	}
	if log == nil {
		log = logger.NewDefault("fines")
	}
	return &Service{policy: policy, log: log}
}

// Accrue assesses a fine against an overdue loan. Calling it again for the
// same loan restates the existing open fine to the current overdue period
// instead of stacking a second one; the assessed amount only ratchets up, so
// a restatement never drops below what has already been paid. A loan that is
// not overdue at the assessment instant is rejected, as is a computed amount
// of zero or less.
func (s *Service) Accrue(ctx context.Context, tx storage.Tx, loanID string, at time.Time, dailyRateCents int64) (fine.Fine, error) {
	const op = "fines.Accrue"

	if existing, err := tx.GetOpenFineByLoan(ctx, loanID); err == nil {
		return s.restate(ctx, tx, existing, at, dailyRateCents)
	} else if !circerrors.IsNotFound(err) {
		return fine.Fine{}, err
	}

	l, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return fine.Fine{}, err
	}
	days := overdueDaysAt(l, at)
	if days <= 0 {
		return fine.Fine{}, circerrors.InvalidState(op, "loan %s is not overdue", loanID)
	}

	amount := s.policy.AmountCents(l.DueDate, days, dailyRateCents)
	if amount <= 0 {
		return fine.Fine{}, circerrors.InvalidState(op, "policy %s assessed no amount for loan %s",
			s.policy.Name(), loanID)
	}

	f := fine.Fine{
		LoanID:      loanID,
		BorrowerID:  l.BorrowerID,
		AmountCents: amount,
		Status:      fine.StatusActive,
		Reason:      "overdue return",
		AssessedAt:  at.UTC(),
	}
	f, err = tx.CreateFine(ctx, f)
	if err != nil {
		return fine.Fine{}, err
	}
	s.log.WithField("fine_id", f.ID).
		WithField("loan_id", loanID).
		WithField("amount_cents", amount).
		WithField("policy", s.policy.Name()).
		Info("fine assessed")
	return f, nil
}

// restate recomputes an open fine against the loan's current overdue period.
// The amount never shrinks: a shorter recomputation leaves the record as is,
// so PaidAmountCents can never exceed the assessment.
func (s *Service) restate(ctx context.Context, tx storage.Tx, f fine.Fine, at time.Time, dailyRateCents int64) (fine.Fine, error) {
	l, err := tx.GetLoan(ctx, f.LoanID)
	if err != nil {
		return fine.Fine{}, err
	}
	days := overdueDaysAt(l, at)
	if days <= 0 {
		return f, nil
	}
	amount := s.policy.AmountCents(l.DueDate, days, dailyRateCents)
	if amount <= f.AmountCents {
		return f, nil
	}

	f.AmountCents = amount
	f, err = tx.UpdateFine(ctx, f)
	if err != nil {
		return fine.Fine{}, err
	}
	s.log.WithField("fine_id", f.ID).
		WithField("loan_id", f.LoanID).
		WithField("amount_cents", amount).
		WithField("days_overdue", days).
		Info("fine restated")
	return f, nil
}

// Pay applies a payment toward a fine's outstanding balance. Partial
// payments move the fine to PARTIALLY_PAID; paying the balance in full moves
// it to PAID. PaymentMethod and TransactionRef record the most recent
// payment only. Overpayment and payments against settled fines are rejected
// without mutating the record.
func (s *Service) Pay(ctx context.Context, tx storage.Tx, fineID string, amountCents int64, method, transactionRef string, at time.Time) (fine.Fine, error) {
	const op = "fines.Pay"

	f, err := tx.GetFine(ctx, fineID)
	if err != nil {
		return fine.Fine{}, err
	}
	if !f.Payable() {
		return fine.Fine{}, circerrors.InvalidState(op, "fine %s is %s and accepts no payment", fineID, f.Status)
	}
	if amountCents <= 0 {
		return fine.Fine{}, circerrors.MonetaryInvariant(op, "payment must be positive, got %d cents", amountCents)
	}
	if outstanding := f.OutstandingCents(); amountCents > outstanding {
		return fine.Fine{}, circerrors.MonetaryInvariant(op, "payment of %d cents exceeds outstanding %d cents",
			amountCents, outstanding)
	}

	f.PaidAmountCents += amountCents
	f.PaymentMethod = method
	f.TransactionRef = transactionRef
	if f.OutstandingCents() == 0 {
		f.Status = fine.StatusPaid
		f.PaidAt = at.UTC()
	} else {
		f.Status = fine.StatusPartiallyPaid
	}
	f, err = tx.UpdateFine(ctx, f)
	if err != nil {
		return fine.Fine{}, err
	}
	s.log.WithField("fine_id", fineID).
		WithField("paid_cents", amountCents).
		WithField("status", f.Status).
		Info("fine payment recorded")
	return f, nil
}

// Waive forgives a fine's outstanding balance. The assessed amount stays on
// the record for audit; the forgiven balance goes to WaivedAmountCents.
func (s *Service) Waive(ctx context.Context, tx storage.Tx, fineID, waivedBy, reason string, at time.Time) (fine.Fine, error) {
	const op = "fines.Waive"

	f, err := tx.GetFine(ctx, fineID)
	if err != nil {
		return fine.Fine{}, err
	}
	if !f.Payable() {
		return fine.Fine{}, circerrors.InvalidState(op, "fine %s is %s and cannot be waived", fineID, f.Status)
	}
	if waivedBy == "" {
		return fine.Fine{}, circerrors.InvalidState(op, "waiver requires an authorizing staff member")
	}

	f.WaivedAmountCents = f.OutstandingCents()
	f.Status = fine.StatusWaived
	f.WaivedBy = waivedBy
	f.WaiverReason = reason
	f.WaivedAt = at.UTC()
	f, err = tx.UpdateFine(ctx, f)
	if err != nil {
		return fine.Fine{}, err
	}
	s.log.WithField("fine_id", fineID).
		WithField("waived_by", waivedBy).
		WithField("waived_cents", f.WaivedAmountCents).
		Info("fine waived")
	return f, nil
}

// Cancel voids a fine assessed in error. Unlike a waiver it carries no
// forgiven balance; the fine simply stops counting.
func (s *Service) Cancel(ctx context.Context, tx storage.Tx, fineID, reason string) (fine.Fine, error) {
	const op = "fines.Cancel"

	f, err := tx.GetFine(ctx, fineID)
	if err != nil {
		return fine.Fine{}, err
	}
	if f.Settled() {
		return fine.Fine{}, circerrors.InvalidState(op, "fine %s is already %s", fineID, f.Status)
	}

	f.Status = fine.StatusCancelled
	f.WaiverReason = reason
	f, err = tx.UpdateFine(ctx, f)
	if err != nil {
		return fine.Fine{}, err
	}
	s.log.WithField("fine_id", fineID).Warn("fine cancelled")
	return f, nil
}

// OutstandingByBorrower sums the borrower's unpaid balances.
func (s *Service) OutstandingByBorrower(ctx context.Context, tx storage.Tx, borrowerID string) (int64, error) {
	all, err := tx.ListFinesByBorrower(ctx, borrowerID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range all {
		total += f.OutstandingCents()
	}
	return total, nil
}

// ListByBorrower returns a borrower's fine history.
func (s *Service) ListByBorrower(ctx context.Context, tx storage.Tx, borrowerID string) ([]fine.Fine, error) {
	return tx.ListFinesByBorrower(ctx, borrowerID)
}

// overdueDaysAt computes overdue days for both open and already-closed
// loans. For a returned loan the return instant caps the interval so a
// sweep after the return cannot inflate the assessment.
func overdueDaysAt(l loan.Loan, at time.Time) int {
	effective := at
	if !l.ReturnedAt.IsZero() && l.ReturnedAt.Before(at) {
		effective = l.ReturnedAt
	}
	return loan.OverdueDays(l.DueDate, effective)
}
