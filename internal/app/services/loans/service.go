// Package loans is the borrowing ledger: it creates, extends, and closes
// loan records against copies the inventory has checked out. Loans are
// append-only history and are never deleted.
package loans

import (
	"context"
	"time"

	"github.com/davonlibrary/circulation/internal/app/domain/catalog"
	"github.com/davonlibrary/circulation/internal/app/domain/loan"
	"github.com/davonlibrary/circulation/internal/app/storage"
	circerrors "github.com/davonlibrary/circulation/internal/errors"
	"github.com/davonlibrary/circulation/pkg/logger"
)

// Service maintains the loan ledger.
type Service struct {
	log *logger.Logger
}

// New creates a configured loan ledger.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loans")
	}
	return &Service{log: log}
}

// Create opens a loan for a copy that has already been checked out in the
// same unit of work. A copy with an existing open loan or one still on the
// shelf is rejected; the one-open-loan-per-copy invariant is enforced here.
func (s *Service) Create(ctx context.Context, tx storage.Tx, borrowerID, copyID string, loanedAt time.Time, periodDays, maxExtensions int) (loan.Loan, error) {
	const op = "loans.Create"

	if borrowerID == "" {
		return loan.Loan{}, circerrors.InvalidState(op, "borrower is required")
	}

	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return loan.Loan{}, err
	}
	if c.Status != catalog.CopyCheckedOut {
		return loan.Loan{}, circerrors.InvalidState(op, "copy %s was not checked out", copyID)
	}
	if _, err := tx.GetOpenLoanByCopy(ctx, copyID); err == nil {
		return loan.Loan{}, circerrors.Conflict(op, "copy %s already has an open loan", copyID)
	} else if !circerrors.IsNotFound(err) {
		return loan.Loan{}, err
	}

	l := loan.Loan{
		BorrowerID:    borrowerID,
		CopyID:        copyID,
		TitleID:       c.TitleID,
		LoanedAt:      loanedAt.UTC(),
		DueDate:       loanedAt.UTC().AddDate(0, 0, periodDays),
		MaxExtensions: maxExtensions,
		Status:        loan.StatusActive,
	}
	l, err = tx.CreateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, err
	}
	s.log.WithField("loan_id", l.ID).
		WithField("borrower_id", borrowerID).
		WithField("copy_id", copyID).
		Info("loan created")
	return l, nil
}

// Extend pushes the due date out by extensionDays. Closed loans and loans
// at their extension limit are rejected.
func (s *Service) Extend(ctx context.Context, tx storage.Tx, loanID string, extensionDays int) (loan.Loan, error) {
	const op = "loans.Extend"

	l, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !l.Open() {
		return loan.Loan{}, circerrors.InvalidState(op, "loan %s is not open", loanID)
	}
	if l.ExtensionsCount >= l.MaxExtensions {
		return loan.Loan{}, circerrors.LimitExceeded(op, "loan %s already used %d of %d extensions",
			loanID, l.ExtensionsCount, l.MaxExtensions)
	}

	l.DueDate = l.DueDate.AddDate(0, 0, extensionDays)
	l.ExtensionsCount++
	l, err = tx.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, err
	}
	s.log.WithField("loan_id", loanID).
		WithField("due_date", l.DueDate).
		WithField("extensions", l.ExtensionsCount).
		Info("loan extended")
	return l, nil
}

// Close records the return and reports how many whole days the loan was
// overdue at the return instant. A second return of the same loan fails and
// leaves the first return's effects untouched.
func (s *Service) Close(ctx context.Context, tx storage.Tx, loanID string, returnedAt time.Time) (loan.Loan, int, error) {
	const op = "loans.Close"

	l, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, 0, err
	}
	if !l.ReturnedAt.IsZero() {
		return loan.Loan{}, 0, circerrors.InvalidState(op, "loan %s was already returned", loanID)
	}
	if l.Status != loan.StatusActive {
		return loan.Loan{}, 0, circerrors.InvalidState(op, "loan %s is %s, not active", loanID, l.Status)
	}

	l.ReturnedAt = returnedAt.UTC()
	l.Status = loan.StatusReturned
	l, err = tx.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, 0, err
	}

	daysOverdue := loan.OverdueDays(l.DueDate, l.ReturnedAt)
	s.log.WithField("loan_id", loanID).
		WithField("days_overdue", daysOverdue).
		Info("loan returned")
	return l, daysOverdue, nil
}

// MarkLost closes a loan whose copy will not come back.
func (s *Service) MarkLost(ctx context.Context, tx storage.Tx, loanID, notes string) (loan.Loan, error) {
	const op = "loans.MarkLost"

	l, err := tx.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if !l.Open() {
		return loan.Loan{}, circerrors.InvalidState(op, "loan %s is not open", loanID)
	}

	l.Status = loan.StatusLost
	l.Notes = notes
	l, err = tx.UpdateLoan(ctx, l)
	if err != nil {
		return loan.Loan{}, err
	}
	s.log.WithField("loan_id", loanID).Warn("loan marked lost")
	return l, nil
}

// ListByBorrower returns a borrower's loan history.
func (s *Service) ListByBorrower(ctx context.Context, tx storage.Tx, borrowerID string) ([]loan.Loan, error) {
	return tx.ListLoansByBorrower(ctx, borrowerID)
}

// CountOpen returns the number of loans currently out.
func (s *Service) CountOpen(ctx context.Context, tx storage.Tx) (int, error) {
	return tx.CountOpenLoans(ctx)
}

// CountOverdue returns the number of open loans past their due date.
func (s *Service) CountOverdue(ctx context.Context, tx storage.Tx, now time.Time) (int, error) {
	return tx.CountOverdueLoans(ctx, now)
}
